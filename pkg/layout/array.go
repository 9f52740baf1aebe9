package layout

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

type arrayMode int

const (
	arrayFixed arrayMode = iota
	arrayGreedy
	arrayTerminated
)

// arrayDescriptor repeats a single element descriptor: a fixed declared
// count, greedily until the input is exhausted, or until an element equal
// to a literal terminator value is decoded. A variable-size Union element
// is rejected at construction time: sequential unpack can't know where one
// overlay ends and the next begins without a size predicate colliding with
// the terminator scan.
type arrayDescriptor struct {
	element    descriptor
	mode       arrayMode
	count      int
	terminator any
}

// FixedArray repeats element exactly count times.
func FixedArray(element Descriptor, count int) Descriptor {
	if err := checkArrayElement(element.d); err != nil {
		panic(err)
	}
	return wrap(&arrayDescriptor{element: element.d, mode: arrayFixed, count: count})
}

// GreedyArray repeats element until the unpack input is exhausted. Inside a
// struct it must be the last field unless the struct has a size predicate.
func GreedyArray(element Descriptor) Descriptor {
	if err := checkArrayElement(element.d); err != nil {
		panic(err)
	}
	return wrap(&arrayDescriptor{element: element.d, mode: arrayGreedy})
}

// TerminatedArray repeats element, stopping when a decoded element equals
// terminator (compared by deep equality). The terminator element itself is
// consumed on unpack and appended on pack, but never appears in the
// decoded slice.
func TerminatedArray(element Descriptor, terminator any) Descriptor {
	if err := checkArrayElement(element.d); err != nil {
		panic(err)
	}
	return wrap(&arrayDescriptor{element: element.d, mode: arrayTerminated, terminator: terminator})
}

func checkArrayElement(element descriptor) error {
	if u, ok := element.(*unionDescriptor); ok && !u.fixedSize() {
		return fmt.Errorf("%w: array element must not be a variable-size union", errs.ErrConstraintViolation)
	}
	return nil
}

func (d *arrayDescriptor) values(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	default:
		return nil, fmt.Errorf("%w: array value must be a []any (%T)", errs.ErrConstraintViolation, v)
	}
}

func (d *arrayDescriptor) validate(v any) error {
	values, err := d.values(v)
	if err != nil {
		return err
	}
	if d.mode == arrayFixed && len(values) > d.count {
		return fmt.Errorf("%w: array has %d elements, want at most %d", errs.ErrConstraintViolation, len(values), d.count)
	}
	for _, elem := range values {
		if err := d.element.validate(elem); err != nil {
			return err
		}
	}
	return nil
}

// packInto right-pads a short fixed-count array with the element's default
// value; a greedy array always writes exactly the elements it was given; a
// terminated array appends the packed terminator after the elements.
func (d *arrayDescriptor) packInto(w *bytes.Buffer, v any, eff Endian, o *packOptions) error {
	values, err := d.values(v)
	if err != nil {
		return err
	}
	for _, elem := range values {
		if err := d.element.packInto(w, elem, eff, o); err != nil {
			return err
		}
	}
	switch d.mode {
	case arrayFixed:
		for i := len(values); i < d.count; i++ {
			if err := d.element.packInto(w, d.element.defaultValue(), eff, o); err != nil {
				return err
			}
		}
	case arrayTerminated:
		return d.element.packInto(w, d.terminator, eff, o)
	}
	return nil
}

func (d *arrayDescriptor) unpackOne(buf []byte, eff Endian) (any, []byte, error) {
	var out []any
	switch d.mode {
	case arrayFixed:
		for i := 0; i < d.count; i++ {
			v, tail, err := d.element.unpackOne(buf, eff)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, v)
			buf = tail
		}
		return out, buf, nil
	case arrayTerminated:
		for {
			v, tail, err := d.element.unpackOne(buf, eff)
			if err != nil {
				return nil, nil, fmt.Errorf("%w", errs.ErrTerminatorNotFound)
			}
			if reflect.DeepEqual(v, d.terminator) {
				if out == nil {
					out = []any{}
				}
				return out, tail, nil
			}
			out = append(out, v)
			buf = tail
		}
	default:
		for len(buf) > 0 {
			v, tail, err := d.element.unpackOne(buf, eff)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, v)
			if len(tail) >= len(buf) {
				return nil, nil, fmt.Errorf("%w: greedy array element made no progress", errs.ErrConstraintViolation)
			}
			buf = tail
		}
		if out == nil {
			out = []any{}
		}
		return out, buf, nil
	}
}

// size is exact for a fixed-count array of a fixed-size element, and the
// minimum byte count otherwise: a terminated array at minimum holds just
// its terminator element, a greedy array may be empty.
func (d *arrayDescriptor) size() int {
	switch d.mode {
	case arrayFixed:
		return d.count * d.element.size()
	case arrayTerminated:
		return d.element.size()
	default:
		return 0
	}
}

func (d *arrayDescriptor) fixedSize() bool { return d.mode == arrayFixed && d.element.fixedSize() }

// greedy reports whether the array consumes all remaining input with no
// internal end marker. A terminated array is variable-size but not greedy:
// it knows exactly where it ends regardless of its position in a struct.
func (d *arrayDescriptor) greedy() bool { return d.mode == arrayGreedy }

func (d *arrayDescriptor) ownEndian() (Endian, bool) { return d.element.ownEndian() }

func (d *arrayDescriptor) withEndian(e Endian) descriptor {
	clone := *d
	clone.element = d.element.withEndian(e)
	return &clone
}

func (d *arrayDescriptor) withoutEndian() descriptor {
	clone := *d
	clone.element = d.element.withoutEndian()
	return &clone
}

func (d *arrayDescriptor) defaultValue() any {
	if d.mode == arrayGreedy {
		return []any{}
	}
	out := make([]any, d.count)
	for i := range out {
		out[i] = d.element.defaultValue()
	}
	return out
}
