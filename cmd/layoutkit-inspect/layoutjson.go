package main

import (
	"fmt"

	"github.com/layoutkit/layoutkit/pkg/layout"
)

// buildDescriptor compiles a small JSON-described layout into a
// layout.Descriptor. It supports the primitive kinds an inspect session
// typically needs (fixed integers, fixed/greedy strings, fixed arrays, and
// structs); anything richer (enums, bitfields, unions, compressed and
// terminated wrappers) is built in Go code, not through this CLI.
func buildDescriptor(spec map[string]any) (layout.Descriptor, error) {
	kind, _ := spec["kind"].(string)
	switch kind {
	case "u8":
		return layout.U8(), nil
	case "u16":
		return layout.U16(), nil
	case "u32":
		return layout.U32(), nil
	case "u64":
		return layout.U64(), nil
	case "i8":
		return layout.I8(), nil
	case "i16":
		return layout.I16(), nil
	case "i32":
		return layout.I32(), nil
	case "i64":
		return layout.I64(), nil
	case "string":
		if n, ok := spec["length"].(float64); ok {
			return layout.FixedString(int(n)), nil
		}
		return layout.GreedyString(), nil
	case "pad":
		n, _ := spec["length"].(float64)
		return layout.Pad(int(n)), nil
	case "array":
		elemSpec, ok := spec["element"].(map[string]any)
		if !ok {
			return layout.Descriptor{}, fmt.Errorf("array field missing \"element\"")
		}
		elem, err := buildDescriptor(elemSpec)
		if err != nil {
			return layout.Descriptor{}, err
		}
		if n, ok := spec["count"].(float64); ok {
			return layout.FixedArray(elem, int(n)), nil
		}
		return layout.GreedyArray(elem), nil
	case "struct":
		rawFields, _ := spec["fields"].([]any)
		b := layout.NewStruct()
		for _, rf := range rawFields {
			f, ok := rf.(map[string]any)
			if !ok {
				return layout.Descriptor{}, fmt.Errorf("struct field entry must be an object")
			}
			name, _ := f["name"].(string)
			fieldSpec, ok := f["type"].(map[string]any)
			if !ok {
				return layout.Descriptor{}, fmt.Errorf("struct field %q missing \"type\"", name)
			}
			fd, err := buildDescriptor(fieldSpec)
			if err != nil {
				return layout.Descriptor{}, fmt.Errorf("field %q: %w", name, err)
			}
			if kind, _ := fieldSpec["kind"].(string); kind == "pad" {
				n, _ := fieldSpec["length"].(float64)
				b.Pad(int(n))
				continue
			}
			b.Field(name, fd)
		}
		return b.Build()
	default:
		return layout.Descriptor{}, fmt.Errorf("unsupported layout kind %q", kind)
	}
}
