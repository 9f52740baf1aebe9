package layout

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// UnionSizePredicate computes a union's total overlay width. It receives
// whatever bytes are available to inspect: on pack, the active member's
// freshly-encoded bytes followed by any caller-supplied pad bytes
// (WithPadBytes); on unpack, the input buffer from the union's start. This
// lets a union's size depend on context the member encoding alone can't
// see.
type UnionSizePredicate func(available []byte) (int, error)

// unionDescriptor overlays several fixed-size member descriptors onto one
// shared byte region. Its width is either the widest member's size (or an
// explicit override), or, with a size predicate, a value computed at
// pack/unpack time.
type unionDescriptor struct {
	endianMemo
	width         int
	sizePredicate UnionSizePredicate
	greedyUnion   bool
	order         []string
	members       map[string]descriptor
	fieldAlias    map[string]string
	own           *Endian
}

// UnionBuilder incrementally defines a union's overlapping members. See
// Build for which member sizes are accepted.
type UnionBuilder struct {
	order         []string
	members       map[string]descriptor
	fieldAlias    map[string]string
	widthOverride int
	sizePredicate UnionSizePredicate
	err           error
	logger        hclog.Logger
}

// WithLogger attaches a logger that receives a Warn-level entry if Build
// fails. A nil logger (the default) discards silently.
func (b *UnionBuilder) WithLogger(logger hclog.Logger) *UnionBuilder {
	b.logger = logger
	return b
}

// NewUnion starts a union builder.
func NewUnion() *UnionBuilder {
	return &UnionBuilder{members: make(map[string]descriptor)}
}

// Member declares a named overlay member.
func (b *UnionBuilder) Member(name string, d Descriptor) *UnionBuilder {
	if _, dup := b.members[name]; !dup {
		b.order = append(b.order, name)
	}
	b.members[name] = d.d
	return b
}

// Lift inlines an unnamed struct member's fields directly into the union's
// own member namespace (ISO C11-style anonymous union member): each of the
// lifted struct's field names becomes independently accessible as if it
// were its own union member, while still sharing one overlay slot with the
// struct's other fields. Field names must not collide with any other
// member or lifted field already declared.
func (b *UnionBuilder) Lift(d Descriptor) *UnionBuilder {
	sub, ok := d.d.(*structDescriptor)
	if !ok {
		b.err = fmt.Errorf("Lift argument is not a struct descriptor")
		return b
	}
	names := make(map[string]string)
	if err := fieldNames(sub.fields, names); err != nil {
		b.err = err
		return b
	}
	if b.fieldAlias == nil {
		b.fieldAlias = make(map[string]string)
	}
	for name := range names {
		if _, dup := b.members[name]; dup {
			b.err = fmt.Errorf("%w: %q", errs.ErrConflictingMembers, name)
			return b
		}
		if _, dup := b.fieldAlias[name]; dup {
			b.err = fmt.Errorf("%w: %q", errs.ErrConflictingMembers, name)
			return b
		}
	}
	key := fmt.Sprintf("\x00lift%d", len(b.order))
	b.order = append(b.order, key)
	b.members[key] = sub
	for name := range names {
		b.fieldAlias[name] = key
	}
	return b
}

// Size forces the union's byte width, which must be at least as wide as
// its widest member. Ignored if WithSizePredicate is also set.
func (b *UnionBuilder) Size(n int) *UnionBuilder {
	b.widthOverride = n
	return b
}

// WithSizePredicate makes the union's width dynamic: computed per
// pack/unpack call instead of fixed at Build() time.
func (b *UnionBuilder) WithSizePredicate(fn UnionSizePredicate) *UnionBuilder {
	b.sizePredicate = fn
	return b
}

// Build finalizes the union. Without a size predicate, every member must be
// either fixed-size (the union's width becomes the widest one) or greedy
// (the union itself becomes greedy); a self-delimiting but non-greedy
// variable-size member has no well-defined overlay width and is rejected.
// A size predicate lifts the restriction entirely, since it alone governs
// the union's width.
func (b *UnionBuilder) Build() (d Descriptor, err error) {
	defer func() { logBuildError(b.logger, "union", err) }()
	if b.err != nil {
		return Descriptor{}, errs.NewBuildError("union", b.err)
	}
	if len(b.order) == 0 {
		return Descriptor{}, errs.NewBuildError("union", fmt.Errorf("no members defined"))
	}
	max := 0
	greedyUnion := false
	for _, name := range b.order {
		d := b.members[name]
		if !d.fixedSize() {
			if b.sizePredicate != nil {
				continue
			}
			if !d.greedy() {
				return Descriptor{}, errs.NewBuildError(fmt.Sprintf("union member %q", name), fmt.Errorf("without a size predicate, union members must be fixed-size or greedy"))
			}
			greedyUnion = true
			continue
		}
		if s := d.size(); s > max {
			max = s
		}
	}
	width := b.widthOverride
	if width == 0 {
		width = max
	}
	if width < max {
		return Descriptor{}, errs.NewBuildError("union", fmt.Errorf("declared size %d smaller than widest member %d", width, max))
	}
	members := make(map[string]descriptor, len(b.members))
	for k, v := range b.members {
		members[k] = v
	}
	var fieldAlias map[string]string
	if len(b.fieldAlias) > 0 {
		fieldAlias = make(map[string]string, len(b.fieldAlias))
		for k, v := range b.fieldAlias {
			fieldAlias[k] = v
		}
	}
	return wrap(&unionDescriptor{
		width:         width,
		sizePredicate: b.sizePredicate,
		greedyUnion:   greedyUnion && b.sizePredicate == nil,
		order:         append([]string(nil), b.order...),
		members:       members,
		fieldAlias:    fieldAlias,
	}), nil
}

// UnionValue is the mutable handle produced by unpacking (or constructing)
// a union overlay. It caches the active member's decoded value; writing a
// narrower member leaves the raw bytes beyond its width untouched, the
// way a C union leaves sibling members' trailing bytes alone without any
// true memory aliasing.
type UnionValue struct {
	u      *unionDescriptor
	raw    []byte
	active string
	cached any
	dirty  bool
	frozen bool
	eff    Endian
}

// Freeze disables flushing: subsequent reads skip the dirty-member
// re-encode step entirely (a read-only performance mode), and Set fails.
// Freeze is one-way; there is no Unfreeze.
func (u *UnionValue) Freeze() {
	u.frozen = true
}

// Frozen reports whether Freeze has been called on this value.
func (u *UnionValue) Frozen() bool { return u.frozen }

func (u *UnionValue) memberDesc(name string) (descriptor, error) {
	d, ok := u.u.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownMember, name)
	}
	return d, nil
}

// extractField pulls a lifted field's value out of its owning member's
// decoded struct value. field is "" for a direct (non-lifted) member, in
// which case v is returned unchanged.
func extractField(v any, field string) (any, error) {
	if field == "" {
		return v, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: lifted union member did not decode to a struct value", errs.ErrConstraintViolation)
	}
	fv, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownField, field)
	}
	return fv, nil
}

func (u *UnionValue) flush() error {
	if u.frozen || !u.dirty {
		return nil
	}
	desc, err := u.memberDesc(u.active)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := desc.packInto(&buf, u.cached, u.eff, nil); err != nil {
		return err
	}
	enc := buf.Bytes()
	if len(enc) > len(u.raw) {
		return fmt.Errorf("%w: member %q encodes to %d bytes, union is %d", errs.ErrConstraintViolation, u.active, len(enc), len(u.raw))
	}
	copy(u.raw[:len(enc)], enc)
	u.dirty = false
	return nil
}

// Get decodes member from the union's current raw bytes, flushing any
// pending write to the active member first. member may be a direct member
// name or a field lifted from an anonymous struct member.
func (u *UnionValue) Get(member string) (any, error) {
	key, field, err := u.u.resolveMember(member)
	if err != nil {
		return nil, err
	}
	desc, err := u.memberDesc(key)
	if err != nil {
		return nil, err
	}
	if key == u.active && !u.dirty {
		return extractField(u.cached, field)
	}
	if err := u.flush(); err != nil {
		return nil, err
	}
	v, _, err := desc.unpackOne(u.raw, u.eff)
	if err != nil {
		return nil, err
	}
	u.active = key
	u.cached = v
	u.dirty = false
	return extractField(v, field)
}

// Set marks member as active with value, deferring re-encoding until the
// value is next read or the union is packed. For a lifted field, value
// replaces just that field; the member's other fields take the active
// member's current value if it is already key, or the member's declared
// default otherwise.
func (u *UnionValue) Set(member string, value any) error {
	if u.frozen {
		return fmt.Errorf("%w: union is frozen", errs.ErrUnsupportedOperation)
	}
	key, field, err := u.u.resolveMember(member)
	if err != nil {
		return err
	}
	desc, err := u.memberDesc(key)
	if err != nil {
		return err
	}
	full := value
	if field != "" {
		base := desc.defaultValue()
		if key == u.active {
			base = u.cached
		}
		merged, _ := base.(map[string]any)
		next := make(map[string]any, len(merged)+1)
		for k, v := range merged {
			next[k] = v
		}
		next[field] = value
		full = next
	}
	if err := desc.validate(full); err != nil {
		return err
	}
	u.active = key
	u.cached = full
	u.dirty = true
	return nil
}

// Active returns the name of the most recently Set or Get member, or ""
// if the union has never been touched since unpack.
func (u *UnionValue) Active() string { return u.active }

// Raw returns a copy of the union's current backing bytes, flushing any
// pending write first.
func (u *UnionValue) Raw() ([]byte, error) {
	if err := u.flush(); err != nil {
		return nil, err
	}
	out := make([]byte, len(u.raw))
	copy(out, u.raw)
	return out, nil
}

// externalNames lists every caller-addressable name the union answers to:
// directly declared members (synthetic lift slots excluded) plus fields
// lifted out of anonymous struct members, in declaration order.
func (d *unionDescriptor) externalNames() []string {
	var out []string
	for _, name := range d.order {
		if strings.HasPrefix(name, "\x00lift") {
			if sub, ok := d.members[name].(*structDescriptor); ok {
				out = append(out, orderedFieldNames(sub.fields)...)
			}
			continue
		}
		out = append(out, name)
	}
	return out
}

// liftedValue extracts this union's value out of an enclosing struct's flat
// value map (the union is an anonymous member whose names were lifted into
// the struct's namespace). Keys naming a member may carry either that
// member's value or a shared *UnionValue handle; one distinct value at most
// may appear across the union's names.
func (d *unionDescriptor) liftedValue(values map[string]any) (any, error) {
	var (
		chosenName string
		chosen     any
		found      bool
	)
	for _, name := range d.externalNames() {
		v, present := values[name]
		if !present {
			continue
		}
		if !found {
			chosenName, chosen, found = name, v, true
			continue
		}
		// The same *UnionValue handle under several names is one value, the
		// shape unpack produces; anything else is two competing members.
		if prev, ok := chosen.(*UnionValue); ok {
			if next, ok2 := v.(*UnionValue); ok2 && prev == next {
				continue
			}
		}
		return nil, fmt.Errorf("%w: %q and %q", errs.ErrConflictingMembers, chosenName, name)
	}
	if !found {
		return map[string]any{}, nil
	}
	if uv, ok := chosen.(*UnionValue); ok {
		return uv, nil
	}
	return map[string]any{chosenName: chosen}, nil
}

// resolveMember resolves a caller-facing name to its backing member key,
// paired with the lifted field name within that member ("" for a direct,
// non-lifted member).
func (d *unionDescriptor) resolveMember(name string) (string, string, error) {
	if _, ok := d.members[name]; ok {
		return name, "", nil
	}
	if key, ok := d.fieldAlias[name]; ok {
		return key, name, nil
	}
	return "", "", fmt.Errorf("%w: %q", errs.ErrUnknownMember, name)
}

// singleMember extracts the lone member name/value pair out of a pack-call
// map: at most one member key, which may name a lifted field instead of a
// member directly. An empty map is valid (packs the first declared
// member's default); more than one key is ErrConflictingMembers.
func (d *unionDescriptor) singleMember(val map[string]any) (string, any, bool, error) {
	if len(val) == 0 {
		return d.order[0], d.members[d.order[0]].defaultValue(), false, nil
	}
	if len(val) > 1 {
		return "", nil, false, fmt.Errorf("%w: got %d member keys, want at most 1", errs.ErrConflictingMembers, len(val))
	}
	for name, mv := range val {
		key, field, err := d.resolveMember(name)
		if err != nil {
			return "", nil, false, err
		}
		if field == "" {
			return key, mv, true, nil
		}
		merged, _ := d.members[key].defaultValue().(map[string]any)
		next := make(map[string]any, len(merged)+1)
		for k, v := range merged {
			next[k] = v
		}
		next[field] = mv
		return key, next, true, nil
	}
	panic("unreachable")
}

func (d *unionDescriptor) validate(v any) error {
	switch val := v.(type) {
	case *UnionValue:
		if val.u != d {
			return fmt.Errorf("%w: union value belongs to a different descriptor", errs.ErrConstraintViolation)
		}
		return nil
	case map[string]any:
		name, mv, _, err := d.singleMember(val)
		if err != nil {
			return err
		}
		member, ok := d.members[name]
		if !ok {
			return fmt.Errorf("%w: %q", errs.ErrUnknownMember, name)
		}
		return member.validate(mv)
	default:
		return fmt.Errorf("%w: union value must be a *UnionValue or map[string]any (%T)", errs.ErrConstraintViolation, v)
	}
}

func (d *unionDescriptor) widthFor(memberBytes []byte, o *packOptions) (int, error) {
	if d.sizePredicate == nil {
		return d.width, nil
	}
	available := memberBytes
	if o != nil && len(o.padBytes) > 0 {
		available = append(append([]byte(nil), memberBytes...), o.padBytes...)
	}
	return d.sizePredicate(available)
}

// extendToWidth grows memberBytes to total bytes. The extension past
// memberBytes is filled from the tail of the caller-supplied pad bytes when
// present, and only zero-filled where no pad byte covers a position; pad
// bytes are the preferred content, not just size-predicate input.
func extendToWidth(memberBytes []byte, total int, o *packOptions) []byte {
	out := make([]byte, total)
	n := copy(out, memberBytes)
	need := total - n
	if need <= 0 || o == nil || len(o.padBytes) == 0 {
		return out
	}
	pad := o.padBytes
	if need > len(pad) {
		need = len(pad)
	}
	copy(out[n:], pad[len(pad)-need:])
	return out
}

func (d *unionDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error {
	switch val := v.(type) {
	case *UnionValue:
		val.eff = eff
		if err := val.flush(); err != nil {
			return err
		}
		if d.greedyUnion {
			_, err := w.Write(val.raw)
			return err
		}
		total, err := d.widthFor(val.raw, o)
		if err != nil {
			return err
		}
		_, err = w.Write(extendToWidth(val.raw, total, o))
		return err
	case map[string]any:
		name, mv, _, err := d.singleMember(val)
		if err != nil {
			return err
		}
		member, ok := d.members[name]
		if !ok {
			return fmt.Errorf("%w: %q", errs.ErrUnknownMember, name)
		}
		var tmp bytes.Buffer
		if err := member.packInto(&tmp, mv, eff, o); err != nil {
			return err
		}
		if d.greedyUnion {
			_, err := w.Write(tmp.Bytes())
			return err
		}
		total, err := d.widthFor(tmp.Bytes(), o)
		if err != nil {
			return err
		}
		_, err = w.Write(extendToWidth(tmp.Bytes(), total, o))
		return err
	default:
		return fmt.Errorf("%w: union value must be a *UnionValue or map[string]any (%T)", errs.ErrConstraintViolation, v)
	}
}

// unpackOne handles three sizing regimes: a size predicate governs when
// set; otherwise a greedy union (at least one greedy member, no predicate)
// consumes the whole remaining input; otherwise the union's fixed width
// applies.
func (d *unionDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	if d.greedyUnion {
		raw := make([]byte, len(buf))
		copy(raw, buf)
		return &UnionValue{u: d, raw: raw, eff: eff}, nil, nil
	}
	total := d.width
	if d.sizePredicate != nil {
		n, err := d.sizePredicate(buf)
		if err != nil {
			return nil, nil, err
		}
		total = n
	}
	if len(buf) < total {
		return nil, nil, errs.NewMissingBytes(total - len(buf))
	}
	raw := make([]byte, total)
	copy(raw, buf[:total])
	return &UnionValue{u: d, raw: raw, eff: eff}, buf[total:], nil
}

// size is exact for a fixed-width union; for a greedy or predicate-sized
// union it is the minimum byte count, the widest fixed member.
func (d *unionDescriptor) size() int {
	return d.width
}
func (d *unionDescriptor) fixedSize() bool { return d.sizePredicate == nil && !d.greedyUnion }
func (d *unionDescriptor) greedy() bool    { return d.greedyUnion }

func (d *unionDescriptor) ownEndian() (Endian, bool) {
	if d.own == nil {
		return 0, false
	}
	return *d.own, true
}

func (d *unionDescriptor) withEndian(e Endian) descriptor {
	return d.endianMemo.get(e, func() descriptor {
		clone := *d
		clone.own = &e
		members := make(map[string]descriptor, len(d.members))
		for k, v := range d.members {
			members[k] = v.withEndian(e)
		}
		clone.members = members
		clone.endianMemo = endianMemo{}
		return &clone
	})
}

func (d *unionDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.own = nil
	members := make(map[string]descriptor, len(d.members))
	for k, v := range d.members {
		members[k] = v.withoutEndian()
	}
	clone.members = members
	clone.endianMemo = endianMemo{}
	return &clone
}

func (d *unionDescriptor) defaultValue() any {
	return &UnionValue{u: d, raw: make([]byte, d.width)}
}
