package layout_test

import (
	"testing"

	"github.com/layoutkit/layoutkit/pkg/layout"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTLVStruct(t *testing.T) layout.Descriptor {
	t.Helper()
	opEnum, err := layout.NewEnum(layout.U8()).
		Add("invalid").
		Add("hello").
		Add("read").
		Add("write").
		Add("goodbye").
		Build()
	require.NoError(t, err)

	// offsetof(value) is the 1-byte type field plus the 4-byte len field:
	// both are fixed-size, so this is known without building the struct.
	const valueOffset = 5

	d, err := layout.NewStruct().
		Field("type", opEnum).
		Field("len", layout.U32().WithEndian(layout.BigEndian)).
		Field("value", layout.GreedyString()).
		WithSizePredicate(func(decoded map[string]any) (int, error) {
			return valueOffset + int(decoded["len"].(uint64)), nil
		}).
		Build()
	require.NoError(t, err)
	return d
}

func TestStructTLVRoundTrip(t *testing.T) {
	d := buildTLVStruct(t)

	packed, err := d.Pack(map[string]any{
		"type":  "hello",
		"len":   uint64(4),
		"value": "v1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00, 0x04, 0x76, 0x31, 0x2E, 0x30}, packed)

	v, err := d.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"type":  "hello",
		"len":   uint64(4),
		"value": "v1.0",
	}, v)
}

func TestStructUnknownKeyRejected(t *testing.T) {
	d := buildTLVStruct(t)
	_, err := d.Pack(map[string]any{
		"type":    "hello",
		"len":     uint64(0),
		"value":   "",
		"bogus":   1,
		"another": 2,
	})
	require.Error(t, err)
}

func TestStructPadFieldHasNoValue(t *testing.T) {
	d, err := layout.NewStruct().
		Field("a", layout.U8()).
		Pad(2).
		Field("b", layout.U8()).
		Build()
	require.NoError(t, err)

	packed, err := d.Pack(map[string]any{"a": uint64(1), "b": uint64(2)})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 2}, packed)

	v, err := d.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": uint64(1), "b": uint64(2)}, v)
}

// Lift inlines another struct's fields directly into the parent namespace
// (ISO C11-style anonymous member).
func TestStructLiftAnonymousMember(t *testing.T) {
	inner, err := layout.NewStruct().
		Field("x", layout.U8()).
		Field("y", layout.U8()).
		Build()
	require.NoError(t, err)

	outer, err := layout.NewStruct().
		Field("tag", layout.U8()).
		Lift(inner).
		Build()
	require.NoError(t, err)

	packed, err := outer.Pack(map[string]any{"tag": uint64(9), "x": uint64(1), "y": uint64(2)})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 1, 2}, packed)

	v, err := outer.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tag": uint64(9), "x": uint64(1), "y": uint64(2)}, v)
}

// Lifted field names must not collide with the parent's own.
func TestStructLiftNameCollisionRejected(t *testing.T) {
	inner, err := layout.NewStruct().
		Field("tag", layout.U8()).
		Build()
	require.NoError(t, err)

	_, err = layout.NewStruct().
		Field("tag", layout.U8()).
		Lift(inner).
		Build()
	require.Error(t, err)
}

// Only the last field may be greedy when no size predicate bounds it.
func TestStructNonLastGreedyFieldRejected(t *testing.T) {
	_, err := layout.NewStruct().
		Field("a", layout.GreedyString()).
		Field("b", layout.U8()).
		Build()
	require.Error(t, err)
}

// A self-delimiting variable-size field (one with its own terminator) may
// appear anywhere, unlike a true greedy field.
func TestStructNonLastTerminatedFieldAllowed(t *testing.T) {
	_, err := layout.NewStruct().
		Field("name", layout.TerminatedString([]byte{0})).
		Field("id", layout.U8()).
		Build()
	require.NoError(t, err)
}

// A greedy field that is not last is legal when a size predicate bounds
// it: the fields after it claim their own widths out of the predicted
// total.
func TestStructGreedyFieldBeforeFixedTrailerWithPredicate(t *testing.T) {
	d, err := layout.NewStruct().
		Field("len", layout.U8()).
		Field("body", layout.GreedyString()).
		Field("crc", layout.U8()).
		WithSizePredicate(func(decoded map[string]any) (int, error) {
			// 1-byte len + body + 1-byte crc.
			return 2 + int(decoded["len"].(uint64)), nil
		}).
		Build()
	require.NoError(t, err)

	v, tail, err := d.UnpackOne([]byte{0x03, 'a', 'b', 'c', 0x7F, 0xEE})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"len": uint64(3), "body": "abc", "crc": uint64(0x7F)}, v)
	assert.Equal(t, []byte{0xEE}, tail)
}

// A predicate-sized struct with no greedy field pads its encoding out to
// the predicted total on pack, and unpack consumes that padding so the tail
// starts where the struct actually ends.
func TestStructSizePredicatePadsAndConsumesPadding(t *testing.T) {
	d, err := layout.NewStruct().
		Field("a", layout.U8()).
		WithSizePredicate(func(map[string]any) (int, error) { return 4, nil }).
		Build()
	require.NoError(t, err)

	packed, err := d.Pack(map[string]any{"a": uint64(9)})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 0, 0, 0}, packed)

	v, tail, err := d.UnpackOne([]byte{9, 0, 0, 0, 0xAB})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": uint64(9)}, v)
	assert.Equal(t, []byte{0xAB}, tail)
}

// An anonymous union member's names lift into the struct's namespace: pack
// names at most one of its members, unpack yields one shared *UnionValue
// handle under each lifted name.
func TestStructLiftAnonymousUnionMember(t *testing.T) {
	u, err := layout.NewUnion().
		Member("word", layout.U32()).
		Member("half", layout.U16()).
		Build()
	require.NoError(t, err)

	d, err := layout.NewStruct().
		Field("tag", layout.U8()).
		Lift(u).
		Build()
	require.NoError(t, err)
	assert.Equal(t, 5, d.Size())

	packed, err := d.Pack(
		map[string]any{"tag": uint64(1), "word": uint64(0x11223344)},
		layout.WithEndian(layout.LittleEndian),
	)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x44, 0x33, 0x22, 0x11}, packed)

	v, err := d.Unpack(packed, layout.WithUnpackEndian(layout.LittleEndian))
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, uint64(1), m["tag"])
	uv := m["word"].(*layout.UnionValue)
	assert.Same(t, uv, m["half"].(*layout.UnionValue))
	word, err := uv.Get("word")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11223344), word)
	half, err := uv.Get("half")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3344), half)
}

func TestStructLiftedUnionConflictingMembersRejected(t *testing.T) {
	u, err := layout.NewUnion().
		Member("word", layout.U32()).
		Member("half", layout.U16()).
		Build()
	require.NoError(t, err)

	d, err := layout.NewStruct().
		Lift(u).
		Build()
	require.NoError(t, err)

	_, err = d.Pack(map[string]any{"word": uint64(1), "half": uint64(2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConflictingMembers)
}

func TestOffsetOfFixedPrefix(t *testing.T) {
	d, err := layout.NewStruct().
		Field("a", layout.U8()).
		Field("b", layout.U32()).
		Field("c", layout.GreedyString()).
		Build()
	require.NoError(t, err)

	off, err := layout.OffsetOf(d, "c")
	require.NoError(t, err)
	assert.Equal(t, 5, off)

	_, err = layout.OffsetOf(d, "nonexistent")
	require.Error(t, err)
}
