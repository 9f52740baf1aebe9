package layout_test

// Golden wire-format tests: known byte sequences checked end to end
// against the descriptor kinds that produce them. Each component's own
// test file carries its broader coverage; this file is the one place the
// cross-cutting encode/decode examples live together.

import (
	"testing"

	"github.com/layoutkit/layoutkit/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldenOpEnum(t *testing.T) layout.Descriptor {
	t.Helper()
	d, err := layout.NewEnum(layout.U8()).
		Add("invalid").
		Add("hello").
		Add("read").
		Add("write").
		Add("goodbye").
		Build()
	require.NoError(t, err)
	return d
}

// The same u32 value packed little-endian and big-endian.
func TestGoldenU32BothEndians(t *testing.T) {
	le, err := layout.U32().WithEndian(layout.LittleEndian).Pack(uint64(0xFEEDFACE))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCE, 0xFA, 0xED, 0xFE}, le)

	be, err := layout.U32().WithEndian(layout.BigEndian).Pack(uint64(0xFEEDFACE))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0xED, 0xFA, 0xCE}, be)
}

// A TLV struct {type: u8 enum, len: u32_be, value: greedy string}, sized
// by the fixed header width plus len.
func TestGoldenTLVStruct(t *testing.T) {
	const valueOffset = 5 // 1-byte type + 4-byte len, both fixed-size
	d, err := layout.NewStruct().
		Field("type", goldenOpEnum(t)).
		Field("len", layout.U32().WithEndian(layout.BigEndian)).
		Field("value", layout.GreedyString()).
		WithSizePredicate(func(decoded map[string]any) (int, error) {
			return valueOffset + int(decoded["len"].(uint64)), nil
		}).
		Build()
	require.NoError(t, err)

	packed, err := d.Pack(map[string]any{"type": "hello", "len": uint64(4), "value": "v1.0"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00, 0x04, 0x76, 0x31, 0x2E, 0x30}, packed)

	v, err := d.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "hello", "len": uint64(4), "value": "v1.0"}, v)
}

// A union of two network-byte-order struct members sharing a leading type
// tag, read back through the member the bytes actually encode.
func TestGoldenUnionNetworkOrder(t *testing.T) {
	opEnum := goldenOpEnum(t)

	helloMember, err := layout.NewStruct().
		Field("type", opEnum).
		Field("version", layout.FixedString(16)).
		Build()
	require.NoError(t, err)

	readMember, err := layout.NewStruct().
		Field("type", opEnum).
		Field("offset", layout.U64().WithEndian(layout.BigEndian)).
		Field("len", layout.U64().WithEndian(layout.BigEndian)).
		Build()
	require.NoError(t, err)

	u, err := layout.NewUnion().
		Member("hello", helloMember).
		Member("read", readMember).
		Build()
	require.NoError(t, err)

	data := []byte{
		0x02,
		0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE,
		0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB,
	}
	v, err := u.Unpack(data)
	require.NoError(t, err)
	uv := v.(*layout.UnionValue)

	read, err := uv.Get("read")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"type":   "read",
		"offset": uint64(0xFEFEFEFEFEFEFEFE),
		"len":    uint64(0xABABABABABABABAB),
	}, read)
}

// A string terminated by a literal "STOP" marker at an arbitrary byte
// offset, not constrained to an element stride.
func TestGoldenStopTerminatedString(t *testing.T) {
	d := layout.TerminatedString([]byte("STOP"))
	v, tail, err := d.UnpackOne([]byte("this is the messageSTOPnext messageSTOP"))
	require.NoError(t, err)
	assert.Equal(t, "this is the message", v)
	assert.Equal(t, "next messageSTOP", string(tail))
}

// An int8 array terminated by -1.
func TestGoldenSentinelTerminatedArray(t *testing.T) {
	d := layout.TerminatedArray(layout.I8(), int64(-1))

	packed, err := d.Pack([]any{int64(1), int64(2), int64(3), int64(4)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0xFF}, packed)

	v, tail, err := d.UnpackOne([]byte{0x01, 0x02, 0x03, 0x04, 0xFF, 't', 'a', 'i', 'l'})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, v)
	assert.Equal(t, "tail", string(tail))
}

// A bitfield {a:1, b:2, c:3} in declarative layout.
func TestGoldenBitfieldDeclarative(t *testing.T) {
	d, err := layout.NewBitfield().
		Unsigned("a", 1).
		Unsigned("b", 2).
		Unsigned("c", 3).
		Build()
	require.NoError(t, err)

	packed, err := d.Pack(map[string]any{"c": uint64(7)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x38}, packed)

	v, err := d.Unpack([]byte{0x38})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": uint64(0), "b": uint64(0), "c": uint64(7)}, v)
}

// Union dynamic sizing where the last available byte names the total
// width. Non-zero pad bytes matter twice over: the predicate reads them,
// and when the predicted width exceeds the member's own bytes the
// extension region's content is drawn from the tail of the pad bytes
// rather than zero-filled.
func TestGoldenUnionDynamicSize(t *testing.T) {
	predicate := func(available []byte) (int, error) {
		return int(available[len(available)-1]), nil
	}

	u, err := layout.NewUnion().
		Member("type", layout.U8()).
		WithSizePredicate(predicate).
		Build()
	require.NoError(t, err)

	packed, err := u.Pack(
		map[string]any{"type": uint64(5)},
		layout.WithPadBytes([]byte("\x00\x00\x00\x00\x01")),
	)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, packed)

	packed, err = u.Pack(
		map[string]any{"type": uint64(0x0F)},
		layout.WithPadBytes([]byte("\x00\x00\x00\x00\x05")),
	)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0F, 0x00, 0x00, 0x00, 0x05}, packed)
}
