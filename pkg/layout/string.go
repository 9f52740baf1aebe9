package layout

import (
	"bytes"
	"fmt"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

type stringLengthMode int

const (
	stringFixed stringLengthMode = iota
	stringGreedy
)

// stringDescriptor packs a string as raw bytes, either into a fixed
// declared width (padded/trimmed with padByte) or greedily consuming
// whatever bytes remain.
type stringDescriptor struct {
	mode    stringLengthMode
	length  int
	padByte byte
	trim    bool
}

// StringOption configures a string descriptor's padding and trim behavior.
type StringOption func(*stringDescriptor)

// WithPadByte sets the byte used to pad a fixed-width string on pack. The
// default is 0x00.
func WithPadByte(b byte) StringOption {
	return func(d *stringDescriptor) { d.padByte = b }
}

// NoTrim disables stripping trailing pad bytes from a fixed-width string on
// unpack. Trimming is enabled by default.
func NoTrim() StringOption {
	return func(d *stringDescriptor) { d.trim = false }
}

// FixedString packs a string into exactly length bytes, padding short
// values and rejecting values that overflow the declared width.
func FixedString(length int, opts ...StringOption) Descriptor {
	d := &stringDescriptor{mode: stringFixed, length: length, trim: true}
	for _, o := range opts {
		o(d)
	}
	return wrap(d)
}

// GreedyString consumes every remaining byte on unpack and writes its value
// verbatim on pack, with no padding. Inside a struct it must be the last
// field unless the struct has a size predicate.
func GreedyString(opts ...StringOption) Descriptor {
	d := &stringDescriptor{mode: stringGreedy, trim: true}
	for _, o := range opts {
		o(d)
	}
	return wrap(d)
}

func stringBytes(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	default:
		return nil, fmt.Errorf("%w: string value must be a string or []byte (%T)", errs.ErrConstraintViolation, v)
	}
}

func (d *stringDescriptor) validate(v any) error {
	raw, err := stringBytes(v)
	if err != nil {
		return err
	}
	if d.mode == stringFixed && len(raw) > d.length {
		return fmt.Errorf("%w: string of %d bytes overflows fixed width %d", errs.ErrConstraintViolation, len(raw), d.length)
	}
	return nil
}

func (d *stringDescriptor) packInto(w *bytes.Buffer, v any, _ Endian, _ *packOptions) error {
	raw, err := stringBytes(v)
	if err != nil {
		return err
	}
	if d.mode == stringGreedy {
		_, err := w.Write(raw)
		return err
	}
	if len(raw) > d.length {
		return fmt.Errorf("%w: string of %d bytes overflows fixed width %d", errs.ErrConstraintViolation, len(raw), d.length)
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if pad := d.length - len(raw); pad > 0 {
		w.Write(bytes.Repeat([]byte{d.padByte}, pad))
	}
	return nil
}

func (d *stringDescriptor) unpackOne(buf []byte, _ Endian) (any, []byte, error) {
	if d.mode == stringGreedy {
		raw := buf
		// Greedy unpack always consumes the whole remaining input regardless
		// of null position; trim here means "bytes up to the first zero",
		// not "strip a trailing zero run" as it does for a fixed-size string.
		if d.trim {
			if i := bytes.IndexByte(raw, d.padByte); i >= 0 {
				raw = raw[:i]
			}
		}
		return string(raw), nil, nil
	}
	if len(buf) < d.length {
		return nil, nil, errs.NewMissingBytes(d.length - len(buf))
	}
	raw := buf[:d.length]
	if d.trim {
		raw = bytes.TrimRight(raw, string(d.padByte))
	}
	return string(raw), buf[d.length:], nil
}

// size is the minimum byte count: a greedy string accepts empty input, so
// its minimum is zero.
func (d *stringDescriptor) size() int {
	if d.mode == stringGreedy {
		return 0
	}
	return d.length
}
func (d *stringDescriptor) fixedSize() bool { return d.mode == stringFixed }
func (d *stringDescriptor) greedy() bool    { return d.mode == stringGreedy }

func (d *stringDescriptor) ownEndian() (Endian, bool) { return 0, false }
func (d *stringDescriptor) withEndian(Endian) descriptor {
	return d
}
func (d *stringDescriptor) withoutEndian() descriptor { return d }

func (d *stringDescriptor) defaultValue() any { return "" }
