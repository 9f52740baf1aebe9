// Package layout implements the core type-descriptor model: composable
// descriptors for C-style binary layouts (integers, enums, bitmaps,
// bitfields, strings, arrays, structs, unions, terminated wrappers, and
// padding) together with the pack/unpack engine that converts between
// descriptor trees and host Go values.
package layout

import (
	"bytes"
	"sync"
)

// descriptor is the internal, closed capability surface every leaf and
// composite kind implements. It is never exposed directly; Descriptor wraps
// it for the public, immutable, value-typed API.
type descriptor interface {
	packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error
	unpackOne(buf []byte, eff Endian) (any, []byte, error)
	validate(v any) error

	size() int
	fixedSize() bool
	greedy() bool

	ownEndian() (Endian, bool)
	withEndian(e Endian) descriptor
	withoutEndian() descriptor

	defaultValue() any
}

// Descriptor is the public, immutable handle to a type descriptor. The zero
// value is not usable; obtain one from a constructor such as U32(), or a
// builder's Build() method.
type Descriptor struct {
	d descriptor
}

func wrap(d descriptor) Descriptor { return Descriptor{d: d} }

// packOptions carries the per-call knobs threaded through a Pack call.
// padBytes is meaningful only to Union; other descriptors ignore it.
type packOptions struct {
	endian   *Endian
	validate bool
	padBytes []byte
}

// PackOption configures a single Pack call.
type PackOption func(*packOptions)

// WithEndian overrides the endian used for this call where no descriptor in
// the tree carries its own fixed endian.
func WithEndian(e Endian) PackOption {
	return func(o *packOptions) { o.endian = &e }
}

// SkipValidation disables the schema/range validation pass normally run once
// at the top of Pack. Unpack never validates, so this has no effect there.
func SkipValidation() PackOption {
	return func(o *packOptions) { o.validate = false }
}

// WithPadBytes supplies bytes for a Union with a dynamic size predicate
// (see Union's dynamic sizing): they're fed to the predicate as bytes past
// the currently-packed member's own encoding, and when the predicate
// reports a total wider than the member's own bytes, their tail also
// supplies the extension region's actual content, in preference to
// zero-fill. Ignored by every other descriptor kind.
func WithPadBytes(b []byte) PackOption {
	return func(o *packOptions) { o.padBytes = b }
}

// UnpackOption configures a single unpack call.
type UnpackOption func(*unpackOptions)

type unpackOptions struct {
	endian *Endian
}

// WithUnpackEndian overrides the endian used for this unpack call.
func WithUnpackEndian(e Endian) UnpackOption {
	return func(o *unpackOptions) { o.endian = &e }
}

func buildPackOptions(opts []PackOption) packOptions {
	o := packOptions{validate: true}
	for _, f := range opts {
		f(&o)
	}
	return o
}

func buildUnpackOptions(opts []UnpackOption) unpackOptions {
	var o unpackOptions
	for _, f := range opts {
		f(&o)
	}
	return o
}

// effectiveEndian resolves the endian a descriptor should encode/decode
// with: the descriptor's own fixed endian, else the caller-supplied one,
// else the process default.
func effectiveEndian(d descriptor, caller *Endian) Endian {
	if own, ok := d.ownEndian(); ok {
		return own
	}
	if caller != nil {
		return *caller
	}
	return DefaultEndian()
}

// Pack validates value (unless SkipValidation is passed) and encodes it to
// bytes.
func (d Descriptor) Pack(value any, opts ...PackOption) ([]byte, error) {
	o := buildPackOptions(opts)
	eff := effectiveEndian(d.d, o.endian)
	if o.validate {
		if err := d.d.validate(value); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := d.d.packInto(&buf, value, eff, &o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackOne decodes one value from the head of data and returns it together
// with the unconsumed tail.
func (d Descriptor) UnpackOne(data []byte, opts ...UnpackOption) (any, []byte, error) {
	o := buildUnpackOptions(opts)
	eff := effectiveEndian(d.d, o.endian)
	return d.d.unpackOne(data, eff)
}

// Unpack decodes one value from data and discards the tail.
func (d Descriptor) Unpack(data []byte, opts ...UnpackOption) (any, error) {
	v, _, err := d.UnpackOne(data, opts...)
	return v, err
}

// UnpackAll repeatedly unpacks values until data is exhausted. A trailing
// partial value surfaces the inner descriptor's own MissingBytes error.
func (d Descriptor) UnpackAll(data []byte, opts ...UnpackOption) ([]any, error) {
	o := buildUnpackOptions(opts)
	eff := effectiveEndian(d.d, o.endian)

	var out []any
	remaining := data
	for len(remaining) > 0 {
		v, tail, err := d.d.unpackOne(remaining, eff)
		if err != nil {
			return out, err
		}
		out = append(out, v)
		if len(tail) >= len(remaining) {
			// Defensive: a misbehaving descriptor that fails to consume
			// input would otherwise loop forever.
			break
		}
		remaining = tail
	}
	return out, nil
}

// WithEndian returns a descriptor whose effective endian is fixed to e,
// overriding any child that does not itself carry a fixed endian. Repeated
// calls with the same endian on the same receiver return an identical
// value (with_endian is idempotent per the algebra's invariants).
func (d Descriptor) WithEndian(e Endian) Descriptor {
	return wrap(d.d.withEndian(e))
}

// WithoutEndian removes one level of fixed-endian override, reverting to
// propagation from the caller/default.
func (d Descriptor) WithoutEndian() Descriptor {
	return wrap(d.d.withoutEndian())
}

// Size returns the exact byte count for fixed-size descriptors, or the
// minimum byte count for variable-size ones.
func (d Descriptor) Size() int { return d.d.size() }

// FixedSize reports whether Size() is exact rather than a lower bound.
func (d Descriptor) FixedSize() bool { return d.d.fixedSize() }

// Greedy reports whether the descriptor consumes all remaining input when
// unpacked at the tail of a buffer.
func (d Descriptor) Greedy() bool { return d.d.greedy() }

// DefaultValue returns the value used to fill this descriptor's slot when a
// pack call omits it (used by fixed-count arrays and struct/union field
// validation defaults).
func (d Descriptor) DefaultValue() any { return d.d.defaultValue() }

// endianMemo caches the two possible with_endian() clones of a descriptor so
// repeated calls with the same Endian return the identical instance.
type endianMemo struct {
	mu    sync.Mutex
	cache [2]descriptor
}

func (m *endianMemo) get(e Endian, make func() descriptor) descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache[e] == nil {
		m.cache[e] = make()
	}
	return m.cache[e]
}
