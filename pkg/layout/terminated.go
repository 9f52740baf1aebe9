package layout

import (
	"bytes"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// LocateFunc scans buf for a terminator, returning the byte length of the
// value that precedes it and the byte length of the terminator itself. A
// false ok means no terminator was found anywhere in buf.
type LocateFunc func(buf []byte, eff Endian) (valueLen, termLen int, ok bool)

// TerminateFunc returns the terminator bytes to append after the inner
// descriptor's own encoding on pack.
type TerminateFunc func(eff Endian) []byte

// wrapperDescriptor is the generic terminated wrapper: it frames any
// inner descriptor with a located-on-unpack, appended-on-pack terminator,
// rather than the fixed size or element-typed sentinel that Array's own
// terminated mode uses.
type wrapperDescriptor struct {
	inner     descriptor
	locate    LocateFunc
	terminate TerminateFunc
}

// Wrap frames inner with a locate/terminate pair: on unpack, locate finds
// where inner's encoded bytes end and the terminator begins; on pack,
// inner is packed and then terminate's bytes are appended. Only valid as a
// struct's trailing field, or anywhere a self-delimiting field may sit,
// since locate must run against a sized buffer.
func Wrap(inner Descriptor, locate LocateFunc, terminate TerminateFunc) Descriptor {
	return wrap(&wrapperDescriptor{inner: inner.d, locate: locate, terminate: terminate})
}

// TerminatedString wraps a greedy string with a literal byte-sequence
// terminator such as "STOP": unpack scans for the first occurrence of seq,
// decodes everything before it as the string, and consumes the marker;
// pack appends seq after the string's bytes.
func TerminatedString(seq []byte, opts ...StringOption) Descriptor {
	return Wrap(GreedyString(opts...), firstOccurrence(seq), literalTerminator(seq))
}

func firstOccurrence(seq []byte) LocateFunc {
	needle := append([]byte(nil), seq...)
	return func(buf []byte, _ Endian) (int, int, bool) {
		idx := bytes.Index(buf, needle)
		if idx < 0 {
			return 0, 0, false
		}
		return idx, len(needle), true
	}
}

func literalTerminator(seq []byte) TerminateFunc {
	literal := append([]byte(nil), seq...)
	return func(_ Endian) []byte {
		out := make([]byte, len(literal))
		copy(out, literal)
		return out
	}
}

func (d *wrapperDescriptor) validate(v any) error { return d.inner.validate(v) }

func (d *wrapperDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error {
	if err := d.inner.packInto(w, v, eff, o); err != nil {
		return err
	}
	_, err := w.Write(d.terminate(eff))
	return err
}

func (d *wrapperDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	valueLen, termLen, ok := d.locate(buf, eff)
	if !ok {
		return nil, nil, errs.ErrTerminatorNotFound
	}
	v, _, err := d.inner.unpackOne(buf[:valueLen], eff)
	if err != nil {
		return nil, nil, err
	}
	return v, buf[valueLen+termLen:], nil
}

// size is the minimum byte count: the inner descriptor's own minimum plus
// the terminator bytes that always follow it.
func (d *wrapperDescriptor) size() int {
	return d.inner.size() + len(d.terminate(DefaultEndian()))
}

func (d *wrapperDescriptor) fixedSize() bool { return false }

// greedy is false: a Terminated wrapper always knows its own end via
// locate, unlike a truly greedy descriptor with no internal end marker.
func (d *wrapperDescriptor) greedy() bool { return false }

func (d *wrapperDescriptor) ownEndian() (Endian, bool) { return d.inner.ownEndian() }

func (d *wrapperDescriptor) withEndian(e Endian) descriptor {
	clone := *d
	clone.inner = d.inner.withEndian(e)
	return &clone
}

func (d *wrapperDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.inner = d.inner.withoutEndian()
	return &clone
}

func (d *wrapperDescriptor) defaultValue() any { return d.inner.defaultValue() }
