package layout

import (
	"bytes"
	"fmt"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// compressedDescriptor wraps an inner descriptor's packed bytes through a
// registered codec. It is greedy: unpack_one always consumes its entire
// input slice, so Compressed is only meaningful nested inside something
// that already supplies its own framing (a Terminated, a fixed-size
// String, or a struct's sized trailing field via the deferred-sizing
// mechanism).
type compressedDescriptor struct {
	endianMemo
	inner descriptor
	tag   CodecTag
	own   *Endian
}

// Compressed wraps inner's packed bytes through the codec registered under
// tag (see RegisterCodec/LookupCodec). Unknown tags fail at construction.
func Compressed(inner Descriptor, tag CodecTag) (Descriptor, error) {
	if _, ok := LookupCodec(tag); !ok {
		return Descriptor{}, errs.NewBuildError("compressed", fmt.Errorf("unregistered codec tag %d", tag))
	}
	return wrap(&compressedDescriptor{inner: inner.d, tag: tag}), nil
}

func (d *compressedDescriptor) validate(v any) error {
	return d.inner.validate(v)
}

func (d *compressedDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, _ *packOptions) error {
	c, ok := LookupCodec(d.tag)
	if !ok {
		return fmt.Errorf("%w: unregistered codec tag %d", errs.ErrUnsupportedOperation, d.tag)
	}
	var inner bytes.Buffer
	// Nested pack: the top-level Pack call already validated this value, so
	// skip re-validation here.
	if err := d.inner.packInto(&inner, v, eff, &packOptions{validate: false}); err != nil {
		return err
	}
	compressed, err := c.Apply(inner.Bytes())
	if err != nil {
		return errs.NewBuildError(fmt.Sprintf("applying codec %d", d.tag), err)
	}
	_, err = w.Write(compressed)
	return err
}

func (d *compressedDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	c, ok := LookupCodec(d.tag)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unregistered codec tag %d", errs.ErrUnsupportedOperation, d.tag)
	}
	decompressed, err := c.Reverse(buf)
	if err != nil {
		return nil, nil, errs.NewBuildError(fmt.Sprintf("reversing codec %d", d.tag), err)
	}
	v, _, err := d.inner.unpackOne(decompressed, eff)
	if err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

func (d *compressedDescriptor) size() int       { return d.inner.size() }
func (d *compressedDescriptor) fixedSize() bool { return false }
func (d *compressedDescriptor) greedy() bool    { return true }

func (d *compressedDescriptor) ownEndian() (Endian, bool) {
	if d.own == nil {
		return 0, false
	}
	return *d.own, true
}

func (d *compressedDescriptor) withEndian(e Endian) descriptor {
	return d.endianMemo.get(e, func() descriptor {
		clone := *d
		clone.own = &e
		clone.inner = d.inner.withEndian(e)
		clone.endianMemo = endianMemo{}
		return &clone
	})
}

func (d *compressedDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.own = nil
	clone.inner = d.inner.withoutEndian()
	clone.endianMemo = endianMemo{}
	return &clone
}

func (d *compressedDescriptor) defaultValue() any { return d.inner.defaultValue() }
