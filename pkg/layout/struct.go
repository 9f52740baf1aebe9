package layout

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

type structFieldKind int

const (
	fieldNamed structFieldKind = iota
	fieldPad
	fieldLifted
	fieldLiftedUnion
)

// SizePredicate computes a struct's total byte length from its
// partially-decoded fields, used to bound a trailing greedy field (a TLV
// length prefix being the canonical case) and, on pack, to pad or truncate
// the emitted bytes to that length.
type SizePredicate func(decoded map[string]any) (int, error)

type structField struct {
	kind    structFieldKind
	name    string
	desc    descriptor
	lifted  *structDescriptor
	liftedU *unionDescriptor
}

// structDescriptor packs named fields in declaration order. At most one
// field may be greedy, and it must be last unless a size predicate bounds
// it.
type structDescriptor struct {
	endianMemo
	fields        []structField
	sizePredicate SizePredicate
	own           *Endian
}

// StructBuilder incrementally defines a struct's field layout.
type StructBuilder struct {
	fields        []structField
	sizePredicate SizePredicate
	err           error
	logger        hclog.Logger
}

// NewStruct starts a struct builder.
func NewStruct() *StructBuilder {
	return &StructBuilder{}
}

// WithLogger attaches a logger that receives a Warn-level entry if Build
// fails. A nil logger (the default) discards silently.
func (b *StructBuilder) WithLogger(logger hclog.Logger) *StructBuilder {
	b.logger = logger
	return b
}

// Field appends a named field.
func (b *StructBuilder) Field(name string, d Descriptor) *StructBuilder {
	b.fields = append(b.fields, structField{kind: fieldNamed, name: name, desc: d.d})
	return b
}

// Pad appends n filler bytes with no corresponding value.
func (b *StructBuilder) Pad(n int) *StructBuilder {
	b.fields = append(b.fields, structField{kind: fieldPad, desc: &padDescriptor{n: n}})
	return b
}

// Lift inlines an anonymous struct or union member's names directly into
// this struct's own namespace (ISO C11-style anonymous member); they must
// not collide with any other field already declared. A lifted struct's
// fields pack and unpack in place as ordinary fields. A lifted union packs
// at most one of its member names out of the parent value map (or a shared
// *UnionValue), and unpacking yields one *UnionValue handle stored under
// each of the union's member names.
func (b *StructBuilder) Lift(d Descriptor) *StructBuilder {
	switch sub := d.d.(type) {
	case *structDescriptor:
		b.fields = append(b.fields, structField{kind: fieldLifted, lifted: sub})
	case *unionDescriptor:
		b.fields = append(b.fields, structField{kind: fieldLiftedUnion, liftedU: sub})
	default:
		b.err = fmt.Errorf("Lift argument is not a struct or union descriptor")
	}
	return b
}

// WithSizePredicate attaches a size predicate: on unpack it bounds the
// trailing greedy field to predicate(fields-decoded-so-far) minus the
// bytes already consumed; on pack it pads or truncates the struct's
// emitted bytes to the predicted total.
func (b *StructBuilder) WithSizePredicate(fn SizePredicate) *StructBuilder {
	b.sizePredicate = fn
	return b
}

func fieldNames(fields []structField, out map[string]string) error {
	add := func(name string) error {
		if _, dup := out[name]; dup {
			return fmt.Errorf("%w: %q", errs.ErrConflictingMembers, name)
		}
		out[name] = name
		return nil
	}
	for _, f := range fields {
		switch f.kind {
		case fieldPad:
			continue
		case fieldLifted:
			if err := fieldNames(f.lifted.fields, out); err != nil {
				return err
			}
		case fieldLiftedUnion:
			for _, name := range f.liftedU.externalNames() {
				if err := add(name); err != nil {
					return err
				}
			}
		default:
			if err := add(f.name); err != nil {
				return err
			}
		}
	}
	return nil
}

// orderedFieldNames lists a field list's caller-addressable names in
// declaration order, recursing through lifted members.
func orderedFieldNames(fields []structField) []string {
	var out []string
	for _, f := range fields {
		switch f.kind {
		case fieldPad:
			continue
		case fieldLifted:
			out = append(out, orderedFieldNames(f.lifted.fields)...)
		case fieldLiftedUnion:
			out = append(out, f.liftedU.externalNames()...)
		default:
			out = append(out, f.name)
		}
	}
	return out
}

// isVariableField reports whether a field's byte length is not known a
// priori (used to compute the struct's own fixedSize()/size()).
func isVariableField(f structField) bool {
	switch f.kind {
	case fieldNamed:
		return !f.desc.fixedSize()
	case fieldLifted:
		return !f.lifted.fixedSize()
	case fieldLiftedUnion:
		return !f.liftedU.fixedSize()
	default:
		return false
	}
}

// isGreedyField reports whether a field consumes all remaining input with
// no internal end marker of its own. Only fields like this must be last: a
// terminated array, terminated string, or other self-delimiting
// variable-size field can appear anywhere, since sequential unpack finds
// its own end regardless of position.
func isGreedyField(f structField) bool {
	switch f.kind {
	case fieldNamed:
		return f.desc.greedy()
	case fieldLifted:
		return f.lifted.greedy()
	case fieldLiftedUnion:
		return f.liftedU.greedy()
	default:
		return false
	}
}

// Build finalizes the struct, rejecting duplicate field names across
// lifted members and any unbounded greedy field that is not last.
func (b *StructBuilder) Build() (d Descriptor, err error) {
	defer func() { logBuildError(b.logger, "struct", err) }()
	if b.err != nil {
		return Descriptor{}, errs.NewBuildError("struct", b.err)
	}
	names := make(map[string]string)
	if err := fieldNames(b.fields, names); err != nil {
		return Descriptor{}, errs.NewBuildError("struct", err)
	}
	greedyCount := 0
	for i, f := range b.fields {
		if !isGreedyField(f) {
			continue
		}
		greedyCount++
		if greedyCount > 1 {
			return Descriptor{}, errs.NewBuildError("struct", fmt.Errorf("at most one field may be greedy"))
		}
		if i != len(b.fields)-1 && b.sizePredicate == nil {
			return Descriptor{}, errs.NewBuildError("struct", fmt.Errorf("a greedy field must be last unless a size predicate bounds it"))
		}
	}
	return wrap(&structDescriptor{
		fields:        append([]structField(nil), b.fields...),
		sizePredicate: b.sizePredicate,
	}), nil
}

func (d *structDescriptor) allowedKeys(out map[string]bool) {
	for _, f := range d.fields {
		switch f.kind {
		case fieldPad:
			continue
		case fieldLifted:
			f.lifted.allowedKeys(out)
		case fieldLiftedUnion:
			for _, name := range f.liftedU.externalNames() {
				out[name] = true
			}
		default:
			out[f.name] = true
		}
	}
}

func (d *structDescriptor) validate(v any) error {
	values, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: struct value must be a map[string]any (%T)", errs.ErrConstraintViolation, v)
	}
	allowed := make(map[string]bool)
	d.allowedKeys(allowed)
	for key := range values {
		if !allowed[key] {
			return fmt.Errorf("%w: %q", errs.ErrUnknownKey, key)
		}
	}
	return validateFields(d.fields, values)
}

func validateFields(fields []structField, values map[string]any) error {
	for _, f := range fields {
		switch f.kind {
		case fieldPad:
			continue
		case fieldLifted:
			if err := validateFields(f.lifted.fields, values); err != nil {
				return err
			}
		case fieldLiftedUnion:
			v, err := f.liftedU.liftedValue(values)
			if err != nil {
				return err
			}
			if err := f.liftedU.validate(v); err != nil {
				return err
			}
		default:
			val, present := values[f.name]
			if !present {
				return fmt.Errorf("%w: missing field %q", errs.ErrConstraintViolation, f.name)
			}
			if err := f.desc.validate(val); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *structDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error {
	values, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: struct value must be a map[string]any (%T)", errs.ErrConstraintViolation, v)
	}
	start := w.Len()
	if err := packFields(d.fields, w, values, eff, o); err != nil {
		return err
	}
	if d.sizePredicate != nil {
		total, err := d.sizePredicate(values)
		if err != nil {
			return errs.NewBuildError("struct size predicate", err)
		}
		written := w.Len() - start
		switch {
		case written < total:
			w.Write(bytes.Repeat([]byte{0}, total-written))
		case written > total:
			w.Truncate(start + total)
		}
	}
	return nil
}

func packFields(fields []structField, w *bytes.Buffer, values map[string]any, eff Endian, o *packOptions) error {
	for _, f := range fields {
		switch f.kind {
		case fieldPad:
			if err := f.desc.packInto(w, nil, eff, o); err != nil {
				return err
			}
		case fieldLifted:
			if err := packFields(f.lifted.fields, w, values, eff, o); err != nil {
				return err
			}
		case fieldLiftedUnion:
			v, err := f.liftedU.liftedValue(values)
			if err != nil {
				return err
			}
			if err := f.liftedU.packInto(w, v, eff, o); err != nil {
				return err
			}
		default:
			if err := f.desc.packInto(w, values[f.name], eff, o); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *structDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	result := make(map[string]any)
	cur := buf
	for i, f := range d.fields {
		if d.sizePredicate != nil && f.kind == fieldNamed && f.desc.greedy() {
			// Deferred sizing: the predicate, run over the fields decoded so
			// far, yields the struct's total byte length; the greedy field
			// gets whatever the total leaves after the bytes already consumed
			// and the minimum widths of the fields still to come.
			total, err := d.sizePredicate(result)
			if err != nil {
				return nil, nil, errs.NewBuildError("struct size predicate", err)
			}
			consumed := len(buf) - len(cur)
			trailing := 0
			addMinSize(d.fields[i+1:], &trailing)
			remaining := total - consumed - trailing
			if remaining < 0 {
				remaining = 0
			}
			if len(cur) < remaining {
				return nil, nil, errs.NewMissingBytes(remaining - len(cur))
			}
			v, _, err := f.desc.unpackOne(cur[:remaining], eff)
			if err != nil {
				return nil, nil, err
			}
			result[f.name] = v
			cur = cur[remaining:]
			continue
		}
		if err := unpackField(f, &cur, result, eff); err != nil {
			return nil, nil, err
		}
	}
	// A predicate-sized struct with no greedy field pads its encoding out to
	// the predicted total on pack; consume that padding so the tail starts
	// where the struct actually ends.
	if d.sizePredicate != nil {
		total, err := d.sizePredicate(result)
		if err != nil {
			return nil, nil, errs.NewBuildError("struct size predicate", err)
		}
		if consumed := len(buf) - len(cur); consumed < total {
			skip := total - consumed
			if len(cur) < skip {
				return nil, nil, errs.NewMissingBytes(skip - len(cur))
			}
			cur = cur[skip:]
		}
	}
	return result, cur, nil
}

func unpackField(f structField, cur *[]byte, result map[string]any, eff Endian) error {
	switch f.kind {
	case fieldPad:
		_, tail, err := f.desc.unpackOne(*cur, eff)
		if err != nil {
			return err
		}
		*cur = tail
	case fieldLifted:
		for _, sub := range f.lifted.fields {
			if err := unpackField(sub, cur, result, eff); err != nil {
				return err
			}
		}
	case fieldLiftedUnion:
		v, tail, err := f.liftedU.unpackOne(*cur, eff)
		if err != nil {
			return err
		}
		// One shared handle under every lifted name: the members overlay the
		// same bytes, so each key reads through the same *UnionValue.
		for _, name := range f.liftedU.externalNames() {
			result[name] = v
		}
		*cur = tail
	default:
		v, tail, err := f.desc.unpackOne(*cur, eff)
		if err != nil {
			return err
		}
		result[f.name] = v
		*cur = tail
	}
	return nil
}

// size sums the fields' own sizes: exact when every field is fixed-size,
// the struct's minimum byte count otherwise.
func (d *structDescriptor) size() int {
	total := 0
	addMinSize(d.fields, &total)
	return total
}

func addMinSize(fields []structField, total *int) {
	for _, f := range fields {
		switch f.kind {
		case fieldLifted:
			addMinSize(f.lifted.fields, total)
		case fieldLiftedUnion:
			*total += f.liftedU.size()
		default:
			*total += f.desc.size()
		}
	}
}

func (d *structDescriptor) fixedSize() bool {
	if d.sizePredicate != nil {
		return false
	}
	for _, f := range d.fields {
		if isVariableField(f) {
			return false
		}
	}
	return true
}

// greedy is true only when a field with no internal end marker is left
// unbounded: a size predicate supplies the struct's own end, and a
// variable-but-self-delimiting field (terminated array, terminated string)
// never makes the struct greedy.
func (d *structDescriptor) greedy() bool {
	if d.sizePredicate != nil {
		return false
	}
	for _, f := range d.fields {
		if isGreedyField(f) {
			return true
		}
	}
	return false
}

func (d *structDescriptor) ownEndian() (Endian, bool) {
	if d.own == nil {
		return 0, false
	}
	return *d.own, true
}

func (d *structDescriptor) withEndian(e Endian) descriptor {
	return d.endianMemo.get(e, func() descriptor {
		clone := *d
		clone.own = &e
		clone.fields = withEndianFields(d.fields, e)
		clone.endianMemo = endianMemo{}
		return &clone
	})
}

func withEndianFields(fields []structField, e Endian) []structField {
	out := make([]structField, len(fields))
	for i, f := range fields {
		switch f.kind {
		case fieldLifted:
			lifted := *f.lifted
			lifted.fields = withEndianFields(f.lifted.fields, e)
			f.lifted = &lifted
		case fieldLiftedUnion:
			f.liftedU = f.liftedU.withEndian(e).(*unionDescriptor)
		default:
			f.desc = f.desc.withEndian(e)
		}
		out[i] = f
	}
	return out
}

func (d *structDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.own = nil
	clone.fields = withoutEndianFields(d.fields)
	clone.endianMemo = endianMemo{}
	return &clone
}

func withoutEndianFields(fields []structField) []structField {
	out := make([]structField, len(fields))
	for i, f := range fields {
		switch f.kind {
		case fieldLifted:
			lifted := *f.lifted
			lifted.fields = withoutEndianFields(f.lifted.fields)
			f.lifted = &lifted
		case fieldLiftedUnion:
			f.liftedU = f.liftedU.withoutEndian().(*unionDescriptor)
		default:
			f.desc = f.desc.withoutEndian()
		}
		out[i] = f
	}
	return out
}

func (d *structDescriptor) defaultValue() any {
	result := make(map[string]any)
	defaultFields(d.fields, result)
	return result
}

func defaultFields(fields []structField, result map[string]any) {
	for _, f := range fields {
		switch f.kind {
		case fieldPad:
			continue
		case fieldLifted:
			defaultFields(f.lifted.fields, result)
		case fieldLiftedUnion:
			uv := f.liftedU.defaultValue()
			for _, name := range f.liftedU.externalNames() {
				result[name] = uv
			}
		default:
			result[f.name] = f.desc.defaultValue()
		}
	}
}

// OffsetOf returns the static byte offset of name within a struct
// descriptor. It fails if a variable-size field precedes name.
func OffsetOf(d Descriptor, name string) (int, error) {
	s, ok := d.d.(*structDescriptor)
	if !ok {
		return 0, fmt.Errorf("%w: OffsetOf requires a struct descriptor", errs.ErrUnsupportedOperation)
	}
	offset, found, err := offsetOfFields(s.fields, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %q", errs.ErrUnknownField, name)
	}
	return offset, nil
}

func offsetOfFields(fields []structField, name string) (int, bool, error) {
	offset := 0
	for _, f := range fields {
		switch f.kind {
		case fieldLifted:
			sub, found, err := offsetOfFields(f.lifted.fields, name)
			if err != nil {
				return 0, false, err
			}
			if found {
				return offset + sub, true, nil
			}
			if !f.lifted.fixedSize() {
				return 0, false, fmt.Errorf("%w: offset of %q is not statically known", errs.ErrUnsupportedOperation, name)
			}
			offset += f.lifted.size()
		case fieldLiftedUnion:
			for _, member := range f.liftedU.externalNames() {
				if member == name {
					return offset, true, nil
				}
			}
			if !f.liftedU.fixedSize() {
				return 0, false, fmt.Errorf("%w: offset of %q is not statically known", errs.ErrUnsupportedOperation, name)
			}
			offset += f.liftedU.size()
		default:
			if f.kind == fieldNamed && f.name == name {
				return offset, true, nil
			}
			if f.kind == fieldPad && name == "" {
				return offset, true, nil
			}
			if f.kind == fieldNamed && !f.desc.fixedSize() {
				return 0, false, fmt.Errorf("%w: offset of %q is not statically known", errs.ErrUnsupportedOperation, name)
			}
			offset += f.desc.size()
		}
	}
	return offset, false, nil
}
