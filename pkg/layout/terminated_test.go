package layout_test

import (
	"testing"

	"github.com/layoutkit/layoutkit/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminatedArrayRoundTrip(t *testing.T) {
	d := layout.TerminatedArray(layout.I8(), int64(-1))

	packed, err := d.Pack([]any{int64(1), int64(2), int64(3), int64(4)})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0xFF}, packed)

	v, tail, err := d.UnpackOne([]byte{1, 2, 3, 4, 0xFF, 't', 'a', 'i', 'l'})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, v)
	assert.Equal(t, "tail", string(tail))
}

func TestTerminatedArrayMissingTerminator(t *testing.T) {
	d := layout.TerminatedArray(layout.I8(), int64(-1))
	_, err := d.Unpack([]byte{1, 2, 3})
	require.Error(t, err)
}

// A string terminated by a literal "STOP" marker found at an arbitrary
// byte offset, not constrained to an element stride.
func TestTerminatedStringReturnsTail(t *testing.T) {
	d := layout.TerminatedString([]byte("STOP"))

	input := "this is the messageSTOPnext messageSTOP"
	v, tail, err := d.UnpackOne([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, "this is the message", v)
	assert.Equal(t, "next messageSTOP", string(tail))
}

func TestTerminatedStringPack(t *testing.T) {
	d := layout.TerminatedString([]byte("STOP"))
	packed, err := d.Pack("hello")
	require.NoError(t, err)
	assert.Equal(t, "helloSTOP", string(packed))
}

func TestTerminatedStringMissingTerminator(t *testing.T) {
	d := layout.TerminatedString([]byte("STOP"))
	_, err := d.Unpack([]byte("no marker here"))
	require.Error(t, err)
}

func TestTerminatedWrapperRoundTrip(t *testing.T) {
	d := layout.TerminatedString([]byte{0})
	packed, err := d.Pack("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0}, packed)

	v, err := d.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}
