package layout

import (
	"bytes"
	"fmt"
	"math"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// intDescriptor packs/unpacks a single signed or unsigned integer of a
// fixed byte width. Single-byte widths ignore endian entirely.
type intDescriptor struct {
	endianMemo
	width  int
	signed bool
	own    *Endian
}

func newInt(width int, signed bool) *intDescriptor {
	return &intDescriptor{width: width, signed: signed}
}

// U8, U16, U32, U64 construct unsigned fixed-width integer descriptors.
func U8() Descriptor  { return wrap(newInt(1, false)) }
func U16() Descriptor { return wrap(newInt(2, false)) }
func U32() Descriptor { return wrap(newInt(4, false)) }
func U64() Descriptor { return wrap(newInt(8, false)) }

// I8, I16, I32, I64 construct signed fixed-width integer descriptors.
func I8() Descriptor  { return wrap(newInt(1, true)) }
func I16() Descriptor { return wrap(newInt(2, true)) }
func I32() Descriptor { return wrap(newInt(4, true)) }
func I64() Descriptor { return wrap(newInt(8, true)) }

func (d *intDescriptor) bounds() (min int64, max uint64) {
	bits := uint(d.width * 8)
	if d.signed {
		return -(int64(1) << (bits - 1)), uint64(int64(1)<<(bits-1)) - 1
	}
	if bits == 64 {
		return 0, math.MaxUint64
	}
	return 0, (uint64(1) << bits) - 1
}

func (d *intDescriptor) validate(v any) error {
	minV, maxV := d.bounds()
	if d.signed {
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		if n < minV || n > int64(maxV) {
			return fmt.Errorf("%w: %d out of range [%d,%d]", errs.ErrConstraintViolation, n, minV, int64(maxV))
		}
		return nil
	}
	n, err := toUint64(v)
	if err != nil {
		return err
	}
	if n > maxV {
		return fmt.Errorf("%w: %d out of range [0,%d]", errs.ErrConstraintViolation, n, maxV)
	}
	return nil
}

func (d *intDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, _ *packOptions) error {
	buf := make([]byte, d.width)
	order := effectiveEndian(d, &eff).byteOrder()
	if d.signed {
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		putSigned(buf, order, n, d.width)
	} else {
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		putUnsigned(buf, order, n, d.width)
	}
	_, err := w.Write(buf)
	return err
}

func (d *intDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	if len(buf) < d.width {
		return nil, nil, errs.NewMissingBytes(d.width - len(buf))
	}
	order := effectiveEndian(d, &eff).byteOrder()
	raw := buf[:d.width]
	if d.signed {
		return getSigned(raw, order, d.width), buf[d.width:], nil
	}
	return getUnsigned(raw, order, d.width), buf[d.width:], nil
}

func putUnsigned(buf []byte, order byteOrderLike, n uint64, width int) {
	switch width {
	case 1:
		buf[0] = byte(n)
	case 2:
		order.PutUint16(buf, uint16(n))
	case 4:
		order.PutUint32(buf, uint32(n))
	case 8:
		order.PutUint64(buf, n)
	}
}

func putSigned(buf []byte, order byteOrderLike, n int64, width int) {
	putUnsigned(buf, order, uint64(n), width)
}

func getUnsigned(buf []byte, order byteOrderLike, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	default:
		return order.Uint64(buf)
	}
}

func getSigned(buf []byte, order byteOrderLike, width int) int64 {
	switch width {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(order.Uint16(buf)))
	case 4:
		return int64(int32(order.Uint32(buf)))
	default:
		return int64(order.Uint64(buf))
	}
}

// byteOrderLike is the subset of encoding/binary.ByteOrder the codec needs.
type byteOrderLike interface {
	Uint16([]byte) uint16
	Uint32([]byte) uint32
	Uint64([]byte) uint64
	PutUint16([]byte, uint16)
	PutUint32([]byte, uint32)
	PutUint64([]byte, uint64)
}

func (d *intDescriptor) size() int       { return d.width }
func (d *intDescriptor) fixedSize() bool { return true }
func (d *intDescriptor) greedy() bool    { return false }

func (d *intDescriptor) ownEndian() (Endian, bool) {
	if d.own == nil {
		return 0, false
	}
	return *d.own, true
}

func (d *intDescriptor) withEndian(e Endian) descriptor {
	return d.endianMemo.get(e, func() descriptor {
		clone := *d
		clone.own = &e
		clone.endianMemo = endianMemo{}
		return &clone
	})
}

func (d *intDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.own = nil
	clone.endianMemo = endianMemo{}
	return &clone
}

func (d *intDescriptor) defaultValue() any {
	if d.signed {
		return int64(0)
	}
	return uint64(0)
}
