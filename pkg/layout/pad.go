package layout

import (
	"bytes"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// padDescriptor writes n filler bytes on pack and skips n bytes on unpack.
// It carries no value: a Struct field built from Pad is never present in
// the decoded map.
type padDescriptor struct {
	n       int
	padByte byte
}

// Pad reserves n filler bytes, written as zero and ignored on unpack.
func Pad(n int) Descriptor {
	return wrap(&padDescriptor{n: n})
}

// PadWithByte reserves n filler bytes written as b.
func PadWithByte(n int, b byte) Descriptor {
	return wrap(&padDescriptor{n: n, padByte: b})
}

func (d *padDescriptor) validate(any) error { return nil }

func (d *padDescriptor) packInto(w *bytes.Buffer, _ any, _ Endian, _ *packOptions) error {
	_, err := w.Write(bytes.Repeat([]byte{d.padByte}, d.n))
	return err
}

func (d *padDescriptor) unpackOne(buf []byte, _ Endian) (any, []byte, error) {
	if len(buf) < d.n {
		return nil, nil, errs.NewMissingBytes(d.n - len(buf))
	}
	return nil, buf[d.n:], nil
}

func (d *padDescriptor) size() int       { return d.n }
func (d *padDescriptor) fixedSize() bool { return true }
func (d *padDescriptor) greedy() bool    { return false }

func (d *padDescriptor) ownEndian() (Endian, bool)   { return 0, false }
func (d *padDescriptor) withEndian(Endian) descriptor { return d }
func (d *padDescriptor) withoutEndian() descriptor    { return d }

func (d *padDescriptor) defaultValue() any { return nil }
