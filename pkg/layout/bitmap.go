package layout

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// bitmapDescriptor packs a set of named single-bit flags into an integer
// codec.
type bitmapDescriptor struct {
	endianMemo
	codec      descriptor
	nameOfBit  map[int]string
	bitOfName  map[string]int
	permissive bool
	own        *Endian
}

// BitmapBuilder incrementally defines a bitmap's named bit positions.
type BitmapBuilder struct {
	codec     descriptor
	nameOfBit map[int]string
	bitOfName map[string]int
	logger    hclog.Logger
}

// NewBitmap starts a builder over the given underlying integer codec.
func NewBitmap(codec Descriptor) *BitmapBuilder {
	return &BitmapBuilder{
		codec:     codec.d,
		nameOfBit: make(map[int]string),
		bitOfName: make(map[string]int),
	}
}

// WithLogger attaches a logger that receives a Warn-level entry if Build
// fails. A nil logger (the default) discards silently.
func (b *BitmapBuilder) WithLogger(logger hclog.Logger) *BitmapBuilder {
	b.logger = logger
	return b
}

// Bit declares a named flag at the given bit position (0 = least
// significant bit).
func (b *BitmapBuilder) Bit(name string, bit int) *BitmapBuilder {
	b.nameOfBit[bit] = name
	b.bitOfName[name] = bit
	return b
}

// Build finalizes the bitmap, rejecting bit positions outside the codec's
// width.
func (b *BitmapBuilder) Build() (d Descriptor, err error) {
	defer func() { logBuildError(b.logger, "bitmap", err) }()
	maxBit := b.codec.size() * 8
	for name, bit := range b.bitOfName {
		if bit < 0 || bit >= maxBit {
			return Descriptor{}, errs.NewBuildError(fmt.Sprintf("bitmap flag %q", name), fmt.Errorf("bit %d out of range [0,%d)", bit, maxBit))
		}
	}
	nameOfBit := make(map[int]string, len(b.nameOfBit))
	for k, v := range b.nameOfBit {
		nameOfBit[k] = v
	}
	bitOfName := make(map[string]int, len(b.bitOfName))
	for k, v := range b.bitOfName {
		bitOfName[k] = v
	}
	return wrap(&bitmapDescriptor{codec: b.codec, nameOfBit: nameOfBit, bitOfName: bitOfName}), nil
}

func (d *bitmapDescriptor) withPermissive(p bool) descriptor {
	clone := *d
	clone.permissive = p
	clone.endianMemo = endianMemo{}
	return &clone
}

func parseBitN(name string) (int, bool) {
	if !strings.HasPrefix(name, "bit_") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "bit_"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (d *bitmapDescriptor) resolveBit(name any) (int, error) {
	switch v := name.(type) {
	case string:
		if bit, ok := d.bitOfName[v]; ok {
			return bit, nil
		}
		if bit, ok := parseBitN(v); ok {
			return bit, nil
		}
		return 0, fmt.Errorf("%w: unknown bitmap flag %q", errs.ErrConstraintViolation, v)
	default:
		n, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		return int(n), nil
	}
}

func (d *bitmapDescriptor) toBits(v any) ([]int, error) {
	names, ok := v.([]any)
	if !ok {
		if strs, ok2 := v.([]string); ok2 {
			names = make([]any, len(strs))
			for i, s := range strs {
				names[i] = s
			}
		} else {
			return nil, fmt.Errorf("%w: bitmap value must be a list of flag names", errs.ErrConstraintViolation)
		}
	}
	bits := make([]int, 0, len(names))
	maxBit := d.codec.size() * 8
	for _, n := range names {
		bit, err := d.resolveBit(n)
		if err != nil {
			return nil, err
		}
		if bit < 0 || bit >= maxBit {
			return nil, fmt.Errorf("%w: bit %d out of range [0,%d)", errs.ErrConstraintViolation, bit, maxBit)
		}
		bits = append(bits, bit)
	}
	return bits, nil
}

func (d *bitmapDescriptor) validate(v any) error {
	_, err := d.toBits(v)
	return err
}

func (d *bitmapDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error {
	bits, err := d.toBits(v)
	if err != nil {
		return err
	}
	var raw uint64
	for _, bit := range bits {
		raw |= uint64(1) << uint(bit)
	}
	return d.codec.packInto(w, raw, eff, o)
}

func (d *bitmapDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	raw, tail, err := d.codec.unpackOne(buf, eff)
	if err != nil {
		return nil, nil, err
	}
	n, _ := toUint64(raw)
	width := d.codec.size() * 8
	var names []string
	var setBits []int
	for bit := 0; bit < width; bit++ {
		if n&(uint64(1)<<uint(bit)) == 0 {
			continue
		}
		setBits = append(setBits, bit)
	}
	sort.Ints(setBits)
	for _, bit := range setBits {
		if name, ok := d.nameOfBit[bit]; ok {
			names = append(names, name)
			continue
		}
		if d.permissive {
			names = append(names, fmt.Sprintf("bit_%d", bit))
			continue
		}
		return nil, nil, fmt.Errorf("%w: unmapped bitmap bit %d", errs.ErrConstraintViolation, bit)
	}
	return names, tail, nil
}

func (d *bitmapDescriptor) size() int       { return d.codec.size() }
func (d *bitmapDescriptor) fixedSize() bool { return d.codec.fixedSize() }
func (d *bitmapDescriptor) greedy() bool    { return false }

func (d *bitmapDescriptor) ownEndian() (Endian, bool) {
	if d.own == nil {
		return 0, false
	}
	return *d.own, true
}

func (d *bitmapDescriptor) withEndian(e Endian) descriptor {
	return d.endianMemo.get(e, func() descriptor {
		clone := *d
		clone.own = &e
		clone.codec = d.codec.withEndian(e)
		clone.endianMemo = endianMemo{}
		return &clone
	})
}

func (d *bitmapDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.own = nil
	clone.codec = d.codec.withoutEndian()
	clone.endianMemo = endianMemo{}
	return &clone
}

func (d *bitmapDescriptor) defaultValue() any { return []string{} }
