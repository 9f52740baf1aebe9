package layout

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// enumDescriptor maps symbolic names to integers over an underlying integer
// codec.
type enumDescriptor struct {
	endianMemo
	codec       descriptor
	names       []string
	valueOf     map[string]int64
	nameOf      map[int64]string
	defaultName string
	permissive  bool
	own         *Endian
}

// EnumBuilder incrementally defines an enum's symbol table. Append name ->
// next integer = last+1; AddValue sets an explicit value and later unvalued
// Add calls resume at that value+1.
type EnumBuilder struct {
	codec       descriptor
	names       []string
	valueOf     map[string]int64
	nameOf      map[int64]string
	next        int64
	defaultName string
	logger      hclog.Logger
}

// NewEnum starts a builder over the given underlying integer codec. U32()
// is the conventional choice, matching a C enum's default width.
func NewEnum(codec Descriptor) *EnumBuilder {
	return &EnumBuilder{
		codec:   codec.d,
		valueOf: make(map[string]int64),
		nameOf:  make(map[int64]string),
	}
}

// WithLogger attaches a logger that receives a Warn-level entry if Build
// fails. A nil logger (the default) discards silently.
func (b *EnumBuilder) WithLogger(logger hclog.Logger) *EnumBuilder {
	b.logger = logger
	return b
}

// Add appends a symbol whose value is one more than the previously added
// symbol's (or zero, for the first).
func (b *EnumBuilder) Add(name string) *EnumBuilder {
	return b.AddValue(name, b.next)
}

// AddValue appends a symbol with an explicit integer value; subsequent
// un-valued Add calls resume counting from value+1.
func (b *EnumBuilder) AddValue(name string, value int64) *EnumBuilder {
	b.valueOf[name] = value
	b.nameOf[value] = name
	b.names = append(b.names, name)
	b.next = value + 1
	if b.defaultName == "" {
		b.defaultName = name
	}
	return b
}

// Default overrides the symbol used as this enum's default value.
func (b *EnumBuilder) Default(name string) *EnumBuilder {
	b.defaultName = name
	return b
}

// Build finalizes the enum, rejecting symbol values the underlying codec
// cannot represent.
func (b *EnumBuilder) Build() (d Descriptor, err error) {
	defer func() { logBuildError(b.logger, "enum", err) }()
	if len(b.names) == 0 {
		return Descriptor{}, errs.NewBuildError("enum", fmt.Errorf("no symbols defined"))
	}
	for name, v := range b.valueOf {
		if err := b.codec.validate(v); err != nil {
			return Descriptor{}, errs.NewBuildError(fmt.Sprintf("enum symbol %q", name), err)
		}
	}
	names := append([]string(nil), b.names...)
	valueOf := make(map[string]int64, len(b.valueOf))
	for k, v := range b.valueOf {
		valueOf[k] = v
	}
	nameOf := make(map[int64]string, len(b.nameOf))
	for k, v := range b.nameOf {
		nameOf[k] = v
	}
	return wrap(&enumDescriptor{
		codec:       b.codec,
		names:       names,
		valueOf:     valueOf,
		nameOf:      nameOf,
		defaultName: b.defaultName,
	}), nil
}

// Permissive returns a descriptor sharing d's symbol map but treating
// unmapped values/bits as synthetic unknown_<hex>/bit_<n> placeholders
// rather than failing. It is a no-op on descriptors without a permissive
// mode.
func Permissive(d Descriptor) Descriptor {
	if p, ok := d.d.(permissiver); ok {
		return wrap(p.withPermissive(true))
	}
	return d
}

type permissiver interface {
	withPermissive(bool) descriptor
}

func (d *enumDescriptor) withPermissive(p bool) descriptor {
	clone := *d
	clone.permissive = p
	clone.endianMemo = endianMemo{}
	return &clone
}

const unknownSymbolPrefix = "unknown_"

func (d *enumDescriptor) lookupName(name string) (int64, bool) {
	if v, ok := d.valueOf[name]; ok {
		return v, true
	}
	if d.permissive && strings.HasPrefix(name, unknownSymbolPrefix) {
		if n, err := strconv.ParseUint(strings.TrimPrefix(name, unknownSymbolPrefix), 16, 64); err == nil {
			return int64(n), true
		}
	}
	return 0, false
}

func (d *enumDescriptor) resolve(v any) (int64, error) {
	switch val := v.(type) {
	case string:
		n, ok := d.lookupName(val)
		if !ok {
			return 0, fmt.Errorf("%w: unknown enum symbol %q", errs.ErrConstraintViolation, val)
		}
		return n, nil
	default:
		return toInt64(v)
	}
}

func (d *enumDescriptor) validate(v any) error {
	n, err := d.resolve(v)
	if err != nil {
		return err
	}
	return d.codec.validate(n)
}

func (d *enumDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error {
	n, err := d.resolve(v)
	if err != nil {
		return err
	}
	return d.codec.packInto(w, n, eff, o)
}

func (d *enumDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	raw, tail, err := d.codec.unpackOne(buf, eff)
	if err != nil {
		return nil, nil, err
	}
	n, _ := toInt64(raw)
	if name, ok := d.nameOf[n]; ok {
		return name, tail, nil
	}
	if d.permissive {
		mask := uint64(1)<<(uint(d.codec.size())*8) - 1
		if d.codec.size() == 8 {
			mask = ^uint64(0)
		}
		return fmt.Sprintf("%s%0*x", unknownSymbolPrefix, d.codec.size()*2, uint64(n)&mask), tail, nil
	}
	return nil, nil, fmt.Errorf("%w: unmapped enum value %d", errs.ErrConstraintViolation, n)
}

func (d *enumDescriptor) size() int       { return d.codec.size() }
func (d *enumDescriptor) fixedSize() bool { return d.codec.fixedSize() }
func (d *enumDescriptor) greedy() bool    { return false }

func (d *enumDescriptor) ownEndian() (Endian, bool) {
	if d.own == nil {
		return 0, false
	}
	return *d.own, true
}

func (d *enumDescriptor) withEndian(e Endian) descriptor {
	return d.endianMemo.get(e, func() descriptor {
		clone := *d
		clone.own = &e
		clone.codec = d.codec.withEndian(e)
		clone.endianMemo = endianMemo{}
		return &clone
	})
}

func (d *enumDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.own = nil
	clone.codec = d.codec.withoutEndian()
	clone.endianMemo = endianMemo{}
	return &clone
}

func (d *enumDescriptor) defaultValue() any { return d.defaultName }
