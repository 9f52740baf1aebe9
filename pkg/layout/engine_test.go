package layout_test

import (
	"bytes"
	"testing"

	"github.com/layoutkit/layoutkit/pkg/layout"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackAllDrainsBuffer(t *testing.T) {
	d := layout.U16().WithEndian(layout.BigEndian)
	vs, err := d.UnpackAll([]byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03})
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(1), uint64(2), uint64(3)}, vs)
}

// A trailing partial value surfaces the inner descriptor's own MissingBytes.
func TestUnpackAllPartialTrailingBytes(t *testing.T) {
	d := layout.U16()
	_, err := d.UnpackAll([]byte{0x00, 0x01, 0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMissingBytes)
}

func TestReadFixedSizeDescriptor(t *testing.T) {
	d := layout.U32().WithEndian(layout.BigEndian)
	r := bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x2A, 0xFF})
	v, err := layout.Read(r, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestReadRejectsVariableSize(t *testing.T) {
	_, err := layout.Read(bytes.NewReader(nil), layout.GreedyString())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUnsupportedOperation)
}

func TestPReadAtOffset(t *testing.T) {
	d := layout.U16().WithEndian(layout.LittleEndian)
	src := bytes.NewReader([]byte{0xAA, 0xBB, 0x34, 0x12})
	v, err := layout.PRead(src, 2, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v)
}

func TestPReadRejectsVariableSize(t *testing.T) {
	_, err := layout.PRead(bytes.NewReader(nil), 0, layout.TerminatedString([]byte{0}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUnsupportedOperation)
}

// d.with_endian(e).pack(v) == d.pack(v, endian=e) when d carries no inner
// fixed endian.
func TestWithEndianMatchesCallEndian(t *testing.T) {
	d := layout.U32()
	fixed, err := d.WithEndian(layout.BigEndian).Pack(uint64(0xCAFE))
	require.NoError(t, err)
	perCall, err := d.Pack(uint64(0xCAFE), layout.WithEndian(layout.BigEndian))
	require.NoError(t, err)
	assert.Equal(t, perCall, fixed)
}

// with_endian memoizes: repeated calls with the same endian return the
// identical descriptor value, so d.with_endian(e1).with_endian(e2) ===
// d.with_endian(e2).
func TestWithEndianIdentity(t *testing.T) {
	d := layout.U32()
	assert.Equal(t, d.WithEndian(layout.BigEndian), d.WithEndian(layout.BigEndian))
	assert.Equal(t,
		d.WithEndian(layout.BigEndian),
		d.WithEndian(layout.LittleEndian).WithEndian(layout.BigEndian))
}

// without_endian reverses one level of override: the descriptor reverts to
// the caller-supplied (or default) endian.
func TestWithoutEndianRevertsOverride(t *testing.T) {
	d := layout.U16().WithEndian(layout.BigEndian).WithoutEndian()
	packed, err := d.Pack(uint64(0x0102), layout.WithEndian(layout.LittleEndian))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01}, packed)
}

// A parent's fixed endian propagates to children without one of their own,
// while a child's own fixed endian survives the parent override.
func TestEndianPropagationRespectsChildOverride(t *testing.T) {
	inner, err := layout.NewStruct().
		Field("be", layout.U16().WithEndian(layout.BigEndian)).
		Field("inherit", layout.U16()).
		Build()
	require.NoError(t, err)

	packed, err := inner.WithEndian(layout.LittleEndian).Pack(map[string]any{
		"be":      uint64(0x0102),
		"inherit": uint64(0x0304),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x04, 0x03}, packed)
}

func TestDefaultEndianReplaceable(t *testing.T) {
	prev := layout.DefaultEndian()
	defer layout.SetDefaultEndian(prev)

	layout.SetDefaultEndian(layout.BigEndian)
	packed, err := layout.U16().Pack(uint64(0x0102))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, packed)

	layout.SetDefaultEndian(layout.LittleEndian)
	packed, err = layout.U16().Pack(uint64(0x0102))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01}, packed)
}

// pack∘unpack is a prefix of the original bytes for any input valid under
// the descriptor.
func TestPackUnpackPrefixLaw(t *testing.T) {
	d := layout.TerminatedString([]byte("STOP"))
	input := []byte("first messageSTOPtrailing bytes")
	v, err := d.Unpack(input)
	require.NoError(t, err)
	packed, err := d.Pack(v)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(input, packed))
}
