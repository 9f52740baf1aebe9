package layout

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// bitfieldSlot is one sub-integer field of a Bitfield, offset counted from
// the least significant bit of the container integer.
type bitfieldSlot struct {
	name   string
	offset uint
	width  uint
	signed bool
}

// bitfieldDescriptor packs several named sub-integer fields into a single
// fixed-width container integer: each sub-field's masked value is shifted
// into place, ORed together, and emitted through one integer codec.
type bitfieldDescriptor struct {
	endianMemo
	slots []bitfieldSlot
	codec descriptor // unsigned container, width in bytes
	own   *Endian
}

type bitfieldStyle int

const (
	bitfieldStyleNone bitfieldStyle = iota
	bitfieldStyleDeclarative
	bitfieldStyleProgrammatic
)

// BitfieldBuilder defines a bitfield using exactly one of two mutually
// exclusive styles: the declarative accumulator (Unsigned/Signed/Skip/
// Align) or the programmatic explicit-offset form (Field).
type BitfieldBuilder struct {
	slots         []bitfieldSlot
	style         bitfieldStyle
	cursor        uint
	explicitWidth int
	err           error
	logger        hclog.Logger
}

// NewBitfield starts a bitfield builder.
func NewBitfield() *BitfieldBuilder {
	return &BitfieldBuilder{}
}

// WithLogger attaches a logger that receives a Warn-level entry if Build
// fails. A nil logger (the default) discards silently.
func (b *BitfieldBuilder) WithLogger(logger hclog.Logger) *BitfieldBuilder {
	b.logger = logger
	return b
}

func (b *BitfieldBuilder) setStyle(s bitfieldStyle) bool {
	if b.style == bitfieldStyleNone {
		b.style = s
		return true
	}
	if b.style != s && b.err == nil {
		b.err = fmt.Errorf("bitfield mixes declarative and programmatic authoring styles")
	}
	return b.style == s
}

// Unsigned appends an unsigned sub-field at the current declarative cursor
// and advances the cursor by width bits.
func (b *BitfieldBuilder) Unsigned(name string, width uint) *BitfieldBuilder {
	if !b.setStyle(bitfieldStyleDeclarative) {
		return b
	}
	b.slots = append(b.slots, bitfieldSlot{name: name, offset: b.cursor, width: width, signed: false})
	b.cursor += width
	return b
}

// Signed appends a signed sub-field at the current declarative cursor and
// advances the cursor by width bits.
func (b *BitfieldBuilder) Signed(name string, width uint) *BitfieldBuilder {
	if !b.setStyle(bitfieldStyleDeclarative) {
		return b
	}
	b.slots = append(b.slots, bitfieldSlot{name: name, offset: b.cursor, width: width, signed: true})
	b.cursor += width
	return b
}

// Skip advances the declarative cursor by width bits without naming a
// field.
func (b *BitfieldBuilder) Skip(width uint) *BitfieldBuilder {
	if !b.setStyle(bitfieldStyleDeclarative) {
		return b
	}
	b.cursor += width
	return b
}

// Align rounds the declarative cursor up to the next multiple of width
// bits.
func (b *BitfieldBuilder) Align(width uint) *BitfieldBuilder {
	if !b.setStyle(bitfieldStyleDeclarative) || width == 0 {
		return b
	}
	if rem := b.cursor % width; rem != 0 {
		b.cursor += width - rem
	}
	return b
}

// Field appends a sub-field at an explicit bit offset (the programmatic
// style).
func (b *BitfieldBuilder) Field(name string, offset, width uint, signed bool) *BitfieldBuilder {
	if !b.setStyle(bitfieldStyleProgrammatic) {
		return b
	}
	b.slots = append(b.slots, bitfieldSlot{name: name, offset: offset, width: width, signed: signed})
	return b
}

// Width forces the container's declared byte width instead of inferring the
// smallest power-of-two size that fits every slot.
func (b *BitfieldBuilder) Width(bytes int) *BitfieldBuilder {
	b.explicitWidth = bytes
	return b
}

// Build finalizes the bitfield, rejecting overlapping slots and spans that
// exceed the declared byte width.
func (b *BitfieldBuilder) Build() (d Descriptor, err error) {
	defer func() { logBuildError(b.logger, "bitfield", err) }()
	if b.err != nil {
		return Descriptor{}, errs.NewBuildError("bitfield", b.err)
	}
	if len(b.slots) == 0 {
		return Descriptor{}, errs.NewBuildError("bitfield", fmt.Errorf("no fields defined"))
	}

	maxBit := uint(0)
	occupied := make(map[uint]string)
	names := make(map[string]bool)
	for _, s := range b.slots {
		if names[s.name] {
			return Descriptor{}, errs.NewBuildError("bitfield", fmt.Errorf("duplicate field %q", s.name))
		}
		names[s.name] = true
		for bit := s.offset; bit < s.offset+s.width; bit++ {
			if owner, ok := occupied[bit]; ok {
				return Descriptor{}, errs.NewBuildError("bitfield", fmt.Errorf("field %q overlaps %q at bit %d", s.name, owner, bit))
			}
			occupied[bit] = s.name
		}
		if end := s.offset + s.width; end > maxBit {
			maxBit = end
		}
	}

	byteWidth := b.explicitWidth
	if byteWidth == 0 {
		byteWidth = smallestPow2ByteWidth(maxBit)
	}
	if maxBit > uint(byteWidth*8) {
		return Descriptor{}, errs.NewBuildError("bitfield", fmt.Errorf("field span %d bits exceeds declared width %d bytes", maxBit, byteWidth))
	}

	return wrap(&bitfieldDescriptor{
		slots: append([]bitfieldSlot(nil), b.slots...),
		codec: newInt(byteWidth, false),
	}), nil
}

func smallestPow2ByteWidth(bits uint) int {
	for _, w := range []int{1, 2, 4, 8} {
		if bits <= uint(w*8) {
			return w
		}
	}
	return 8
}

func (d *bitfieldDescriptor) slotByName(name string) (bitfieldSlot, bool) {
	for _, s := range d.slots {
		if s.name == name {
			return s, true
		}
	}
	return bitfieldSlot{}, false
}

func (d *bitfieldDescriptor) toRaw(v any) (uint64, error) {
	values, ok := v.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("%w: bitfield value must be a map", errs.ErrConstraintViolation)
	}
	for key := range values {
		if _, ok := d.slotByName(key); !ok {
			return 0, fmt.Errorf("%w: %q", errs.ErrUnknownField, key)
		}
	}
	var raw uint64
	for _, s := range d.slots {
		field, present := values[s.name]
		var n int64
		if present {
			var err error
			n, err = toInt64(field)
			if err != nil {
				return 0, err
			}
		}
		mask := fieldMask(s.width)
		raw |= (uint64(n) & mask) << s.offset
	}
	return raw, nil
}

func fieldMask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

func signExtend(raw uint64, width uint) int64 {
	mask := fieldMask(width)
	v := raw & mask
	signBit := uint64(1) << (width - 1)
	if v&signBit != 0 {
		v |= ^mask
	}
	return int64(v)
}

func (d *bitfieldDescriptor) validate(v any) error {
	_, err := d.toRaw(v)
	return err
}

func (d *bitfieldDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error {
	raw, err := d.toRaw(v)
	if err != nil {
		return err
	}
	return d.codec.packInto(w, raw, eff, o)
}

func (d *bitfieldDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	rawVal, tail, err := d.codec.unpackOne(buf, eff)
	if err != nil {
		return nil, nil, err
	}
	raw, _ := toUint64(rawVal)
	result := make(map[string]any, len(d.slots))
	for _, s := range d.slots {
		bits := (raw >> s.offset) & fieldMask(s.width)
		if s.signed {
			result[s.name] = signExtend(bits, s.width)
		} else {
			result[s.name] = bits
		}
	}
	return result, tail, nil
}

func (d *bitfieldDescriptor) size() int       { return d.codec.size() }
func (d *bitfieldDescriptor) fixedSize() bool { return true }
func (d *bitfieldDescriptor) greedy() bool    { return false }

func (d *bitfieldDescriptor) ownEndian() (Endian, bool) {
	if d.own == nil {
		return 0, false
	}
	return *d.own, true
}

func (d *bitfieldDescriptor) withEndian(e Endian) descriptor {
	return d.endianMemo.get(e, func() descriptor {
		clone := *d
		clone.own = &e
		clone.codec = d.codec.withEndian(e)
		clone.endianMemo = endianMemo{}
		return &clone
	})
}

func (d *bitfieldDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.own = nil
	clone.codec = d.codec.withoutEndian()
	clone.endianMemo = endianMemo{}
	return &clone
}

func (d *bitfieldDescriptor) defaultValue() any {
	result := make(map[string]any, len(d.slots))
	for _, s := range d.slots {
		if s.signed {
			result[s.name] = int64(0)
		} else {
			result[s.name] = uint64(0)
		}
	}
	return result
}
