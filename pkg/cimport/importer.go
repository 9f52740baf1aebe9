// Package cimport converts a compiler-emitted XML type tree (the
// gccxml/castxml node family: typedef, struct, union, enum,
// fundamentaltype, arraytype, pointertype, field, cvqualifiedtype,
// elaboratedtype) into layout descriptors, so a C header run through such
// a tool becomes a packable/unpackable layout without hand-writing the
// descriptor tree.
package cimport

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/layoutkit/layoutkit/pkg/layout"
	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// node is one element of the compiler's type graph, keyed by its id and
// referencing other nodes by id. Sizes and offsets are in bits, as the
// compiler emits them.
type node struct {
	kind    string
	id      string
	name    string
	typeRef string
	members []string
	bits    int
	offset  int
	count   int
	values  []enumValue
}

type enumValue struct {
	name string
	init int64
}

// Tree is a parsed type graph, ready to resolve named types into
// descriptors.
type Tree struct {
	nodes       map[string]*node
	byName      map[string]string
	pointerSize int
	logger      hclog.Logger

	resolved  map[string]layout.Descriptor
	resolving map[string]bool
}

// Option configures parsing.
type Option func(*Tree)

// WithPointerSize sets the byte width pointer types map to. The default is
// 8 (a 64-bit target).
func WithPointerSize(bytes int) Option {
	return func(t *Tree) { t.pointerSize = bytes }
}

// WithLogger attaches a logger that receives Debug-level entries for
// skipped or unrecognized nodes. A nil logger (the default) discards
// silently.
func WithLogger(logger hclog.Logger) Option {
	return func(t *Tree) { t.logger = logger }
}

// knownKinds is the node family the importer understands; anything else in
// the document is skipped.
var knownKinds = map[string]bool{
	"typedef":         true,
	"struct":          true,
	"union":           true,
	"enum":            true,
	"fundamentaltype": true,
	"arraytype":       true,
	"pointertype":     true,
	"field":           true,
	"cvqualifiedtype": true,
	"elaboratedtype":  true,
}

// Parse reads an XML type tree from r. Element names are matched
// case-insensitively, so both gccxml's CamelCase ("FundamentalType") and
// lowercased variants are accepted.
func Parse(r io.Reader, opts ...Option) (*Tree, error) {
	t := &Tree{
		nodes:       make(map[string]*node),
		byName:      make(map[string]string),
		pointerSize: 8,
		resolved:    make(map[string]layout.Descriptor),
		resolving:   make(map[string]bool),
	}
	for _, o := range opts {
		o(t)
	}

	dec := xml.NewDecoder(r)
	var enclosing *node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.NewBuildError("cimport: parsing type tree", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			kind := strings.ToLower(el.Name.Local)
			if kind == "enumvalue" {
				if enclosing != nil {
					enclosing.values = append(enclosing.values, parseEnumValue(el))
				}
				continue
			}
			if !knownKinds[kind] {
				if t.logger != nil {
					t.logger.Debug("skipping node", "element", el.Name.Local)
				}
				continue
			}
			n := parseNode(kind, el)
			if n.id == "" {
				continue
			}
			t.nodes[n.id] = n
			if n.name != "" {
				t.byName[n.name] = n.id
			}
			if kind == "enum" {
				enclosing = n
			}
		case xml.EndElement:
			if strings.ToLower(el.Name.Local) == "enum" {
				enclosing = nil
			}
		}
	}
	return t, nil
}

func parseNode(kind string, el xml.StartElement) *node {
	n := &node{kind: kind, count: -1}
	for _, a := range el.Attr {
		switch strings.ToLower(a.Name.Local) {
		case "id":
			n.id = a.Value
		case "name":
			n.name = a.Value
		case "type":
			n.typeRef = a.Value
		case "members":
			n.members = strings.Fields(a.Value)
		case "size":
			n.bits, _ = strconv.Atoi(a.Value)
		case "offset":
			n.offset, _ = strconv.Atoi(a.Value)
		case "max":
			// castxml emits the array's highest index, so N elements carry
			// max = N-1; an empty max means an incomplete array.
			if a.Value != "" {
				if max, err := strconv.Atoi(a.Value); err == nil {
					n.count = max + 1
				}
			}
		}
	}
	return n
}

func parseEnumValue(el xml.StartElement) enumValue {
	var v enumValue
	for _, a := range el.Attr {
		switch strings.ToLower(a.Name.Local) {
		case "name":
			v.name = a.Value
		case "init":
			v.init, _ = strconv.ParseInt(a.Value, 10, 64)
		}
	}
	return v
}

// Descriptor resolves the named type (a struct, union, enum, or typedef)
// into a layout descriptor.
func (t *Tree) Descriptor(name string) (layout.Descriptor, error) {
	id, ok := t.byName[name]
	if !ok {
		return layout.Descriptor{}, fmt.Errorf("%w: no type named %q in the imported tree", errs.ErrUnknownKey, name)
	}
	return t.resolve(id)
}

func (t *Tree) resolve(id string) (layout.Descriptor, error) {
	if d, ok := t.resolved[id]; ok {
		return d, nil
	}
	n, ok := t.nodes[id]
	if !ok {
		return layout.Descriptor{}, errs.NewBuildError("cimport", fmt.Errorf("dangling type reference %q", id))
	}
	if t.resolving[id] {
		return layout.Descriptor{}, errs.NewBuildError("cimport", fmt.Errorf("type cycle through %q", nodeLabel(n)))
	}
	t.resolving[id] = true
	defer delete(t.resolving, id)

	d, err := t.resolveNode(n)
	if err != nil {
		return layout.Descriptor{}, err
	}
	t.resolved[id] = d
	return d, nil
}

func (t *Tree) resolveNode(n *node) (layout.Descriptor, error) {
	switch n.kind {
	case "typedef", "cvqualifiedtype", "elaboratedtype":
		return t.resolve(n.typeRef)
	case "fundamentaltype":
		return fundamental(n)
	case "pointertype":
		// Pointers carry no pointee layout; they become a platform-sized
		// unsigned integer.
		return unsignedOfWidth(t.pointerSize)
	case "enum":
		return t.resolveEnum(n)
	case "arraytype":
		return t.resolveArray(n)
	case "struct":
		return t.resolveStruct(n)
	case "union":
		return t.resolveUnion(n)
	default:
		return layout.Descriptor{}, errs.NewBuildError("cimport", fmt.Errorf("node %q cannot stand alone as a type", n.kind))
	}
}

func nodeLabel(n *node) string {
	if n.name != "" {
		return n.name
	}
	return n.id
}

// fundamental maps a compiler fundamental by bit size: 8/16/32/64-bit
// integers become the matching layout integer (signed unless the name says
// unsigned or bool), and a 128-bit fundamental becomes an array of two
// 64-bit integers.
func fundamental(n *node) (layout.Descriptor, error) {
	unsigned := strings.Contains(n.name, "unsigned") || n.name == "bool" || n.name == "_Bool"
	switch n.bits {
	case 0, 8:
		return pick(unsigned, layout.U8(), layout.I8()), nil
	case 16:
		return pick(unsigned, layout.U16(), layout.I16()), nil
	case 32:
		return pick(unsigned, layout.U32(), layout.I32()), nil
	case 64:
		return pick(unsigned, layout.U64(), layout.I64()), nil
	case 128:
		return layout.FixedArray(pick(unsigned, layout.U64(), layout.I64()), 2), nil
	default:
		return layout.Descriptor{}, errs.NewBuildError("cimport", fmt.Errorf("fundamental %q has unmappable size %d bits", n.name, n.bits))
	}
}

func pick(unsigned bool, u, i layout.Descriptor) layout.Descriptor {
	if unsigned {
		return u
	}
	return i
}

func unsignedOfWidth(bytes int) (layout.Descriptor, error) {
	switch bytes {
	case 1:
		return layout.U8(), nil
	case 2:
		return layout.U16(), nil
	case 4:
		return layout.U32(), nil
	case 8:
		return layout.U64(), nil
	default:
		return layout.Descriptor{}, errs.NewBuildError("cimport", fmt.Errorf("no unsigned integer of %d bytes", bytes))
	}
}

// resolveEnum builds an enum over the node's explicit underlying type when
// one is referenced, its declared bit size otherwise, and u32 failing both.
func (t *Tree) resolveEnum(n *node) (layout.Descriptor, error) {
	codec := layout.U32()
	switch {
	case n.typeRef != "":
		under, err := t.resolve(n.typeRef)
		if err != nil {
			return layout.Descriptor{}, err
		}
		codec = under
	case n.bits != 0:
		c, err := unsignedOfWidth(n.bits / 8)
		if err != nil {
			return layout.Descriptor{}, err
		}
		codec = c
	}
	b := layout.NewEnum(codec).WithLogger(t.logger)
	for _, v := range n.values {
		b.AddValue(v.name, v.init)
	}
	return b.Build()
}

// resolveArray maps char[N] to a fixed string with preserved nulls and any
// other element type to a fixed-count array.
func (t *Tree) resolveArray(n *node) (layout.Descriptor, error) {
	if n.count < 0 {
		return layout.Descriptor{}, errs.NewBuildError("cimport", fmt.Errorf("array %q has no element count", nodeLabel(n)))
	}
	if elem := t.nodes[t.follow(n.typeRef)]; elem != nil && elem.kind == "fundamentaltype" && isCharName(elem.name) {
		return layout.FixedString(n.count, layout.NoTrim()), nil
	}
	elem, err := t.resolve(n.typeRef)
	if err != nil {
		return layout.Descriptor{}, err
	}
	return layout.FixedArray(elem, n.count), nil
}

// follow chases typedef/qualifier indirections to the underlying node id.
func (t *Tree) follow(id string) string {
	for i := 0; i < len(t.nodes); i++ {
		n, ok := t.nodes[id]
		if !ok {
			return id
		}
		switch n.kind {
		case "typedef", "cvqualifiedtype", "elaboratedtype":
			id = n.typeRef
		default:
			return id
		}
	}
	return id
}

func isCharName(name string) bool {
	switch name {
	case "char", "signed char", "unsigned char":
		return true
	}
	return false
}

// resolveStruct walks the member fields in declaration order, inserting a
// Pad wherever a field's declared bit offset lies past the bytes emitted so
// far (explicit compiler padding, never inferred alignment), plus a
// trailing Pad out to the struct's declared size. An anonymous struct or
// union member is lifted into the parent's namespace; its own size, not
// its declared offset, advances the running offset, since its lifted
// names pack inline rather than as a separate member.
func (t *Tree) resolveStruct(n *node) (layout.Descriptor, error) {
	b := layout.NewStruct().WithLogger(t.logger)
	running := 0
	for _, mid := range n.members {
		f, ok := t.nodes[mid]
		if !ok || f.kind != "field" {
			continue
		}
		fieldOffset := f.offset / 8
		if fieldOffset > running {
			b.Pad(fieldOffset - running)
			running = fieldOffset
		}
		fd, err := t.resolve(f.typeRef)
		if err != nil {
			return layout.Descriptor{}, err
		}
		if f.name == "" {
			b.Lift(fd)
		} else {
			b.Field(f.name, fd)
		}
		running += fd.Size()
	}
	if declared := n.bits / 8; declared > running {
		b.Pad(declared - running)
	}
	return b.Build()
}

func (t *Tree) resolveUnion(n *node) (layout.Descriptor, error) {
	b := layout.NewUnion().WithLogger(t.logger)
	for _, mid := range n.members {
		f, ok := t.nodes[mid]
		if !ok || f.kind != "field" {
			continue
		}
		fd, err := t.resolve(f.typeRef)
		if err != nil {
			return layout.Descriptor{}, err
		}
		if f.name == "" {
			b.Lift(fd)
			continue
		}
		b.Member(f.name, fd)
	}
	if declared := n.bits / 8; declared > 0 {
		b.Size(declared)
	}
	return b.Build()
}
