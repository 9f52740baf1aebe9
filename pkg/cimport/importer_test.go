package cimport_test

import (
	"strings"
	"testing"

	"github.com/layoutkit/layoutkit/pkg/cimport"
	"github.com/layoutkit/layoutkit/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A castxml-style tree for:
//
//	struct header {
//	    uint8_t  version;
//	    uint32_t length;   // 3 bytes of compiler padding before it
//	    char     tag[4];
//	};
const headerXML = `
<CastXML>
  <FundamentalType id="_u8" name="unsigned char" size="8"/>
  <FundamentalType id="_u32" name="unsigned int" size="32"/>
  <FundamentalType id="_char" name="char" size="8"/>
  <ArrayType id="_tag4" type="_char" max="3"/>
  <Struct id="_hdr" name="header" size="96" members="_f1 _f2 _f3"/>
  <Field id="_f1" name="version" type="_u8" offset="0"/>
  <Field id="_f2" name="length" type="_u32" offset="32"/>
  <Field id="_f3" name="tag" type="_tag4" offset="64"/>
</CastXML>`

func TestImportStructInsertsPadForOffsetGaps(t *testing.T) {
	tree, err := cimport.Parse(strings.NewReader(headerXML))
	require.NoError(t, err)

	d, err := tree.Descriptor("header")
	require.NoError(t, err)
	require.True(t, d.FixedSize())
	assert.Equal(t, 12, d.Size())

	packed, err := d.Pack(map[string]any{
		"version": uint64(2),
		"length":  uint64(0x11223344),
		"tag":     "ab",
	}, layout.WithEndian(layout.LittleEndian))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02, 0x00, 0x00, 0x00,
		0x44, 0x33, 0x22, 0x11,
		'a', 'b', 0x00, 0x00,
	}, packed)

	v, err := d.Unpack(packed, layout.WithUnpackEndian(layout.LittleEndian))
	require.NoError(t, err)
	// char[N] preserves its nulls rather than trimming them.
	assert.Equal(t, map[string]any{
		"version": uint64(2),
		"length":  uint64(0x11223344),
		"tag":     "ab\x00\x00",
	}, v)
}

func TestImportFundamentalsBySizeAndSignedness(t *testing.T) {
	const xml = `
<CastXML>
  <FundamentalType id="_1" name="short int" size="16"/>
  <FundamentalType id="_2" name="long long unsigned int" size="64"/>
  <FundamentalType id="_3" name="__int128" size="128"/>
  <Typedef id="_t1" name="my_short" type="_1"/>
  <Typedef id="_t2" name="my_u64" type="_2"/>
  <Typedef id="_t3" name="my_i128" type="_3"/>
</CastXML>`
	tree, err := cimport.Parse(strings.NewReader(xml))
	require.NoError(t, err)

	short, err := tree.Descriptor("my_short")
	require.NoError(t, err)
	assert.Equal(t, 2, short.Size())
	packed, err := short.Pack(int64(-2), layout.WithEndian(layout.LittleEndian))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0xFF}, packed)

	u64, err := tree.Descriptor("my_u64")
	require.NoError(t, err)
	assert.Equal(t, 8, u64.Size())

	// 128-bit fundamentals become an array of two 64-bit integers.
	i128, err := tree.Descriptor("my_i128")
	require.NoError(t, err)
	assert.Equal(t, 16, i128.Size())
	v, err := i128.Unpack(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(0)}, v)
}

func TestImportPointerMapsToPlatformWord(t *testing.T) {
	const xml = `
<CastXML>
  <FundamentalType id="_c" name="char" size="8"/>
  <PointerType id="_p" type="_c"/>
  <Typedef id="_t" name="charp" type="_p"/>
</CastXML>`
	tree, err := cimport.Parse(strings.NewReader(xml), cimport.WithPointerSize(4))
	require.NoError(t, err)

	p, err := tree.Descriptor("charp")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Size())
}

func TestImportEnumInheritsUnderlyingType(t *testing.T) {
	const xml = `
<CastXML>
  <FundamentalType id="_u8" name="unsigned char" size="8"/>
  <Enum id="_e1" name="op" type="_u8">
    <EnumValue name="invalid" init="0"/>
    <EnumValue name="hello" init="1"/>
    <EnumValue name="goodbye" init="9"/>
  </Enum>
  <Enum id="_e2" name="wide_op">
    <EnumValue name="a" init="0"/>
  </Enum>
</CastXML>`
	tree, err := cimport.Parse(strings.NewReader(xml))
	require.NoError(t, err)

	op, err := tree.Descriptor("op")
	require.NoError(t, err)
	assert.Equal(t, 1, op.Size())
	packed, err := op.Pack("goodbye")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09}, packed)

	// No explicit underlying type: u32.
	wide, err := tree.Descriptor("wide_op")
	require.NoError(t, err)
	assert.Equal(t, 4, wide.Size())
}

func TestImportUnionAndCVQualifiers(t *testing.T) {
	const xml = `
<CastXML>
  <FundamentalType id="_u16" name="short unsigned int" size="16"/>
  <FundamentalType id="_u32" name="unsigned int" size="32"/>
  <CvQualifiedType id="_cu32" type="_u32" const="1"/>
  <Union id="_u" name="word" size="32" members="_f1 _f2"/>
  <Field id="_f1" name="half" type="_u16" offset="0"/>
  <Field id="_f2" name="full" type="_cu32" offset="0"/>
</CastXML>`
	tree, err := cimport.Parse(strings.NewReader(xml))
	require.NoError(t, err)

	d, err := tree.Descriptor("word")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Size())

	v, err := d.Unpack([]byte{0x01, 0x02, 0x03, 0x04}, layout.WithUnpackEndian(layout.LittleEndian))
	require.NoError(t, err)
	uv := v.(*layout.UnionValue)
	full, err := uv.Get("full")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x04030201), full)
	half, err := uv.Get("half")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0201), half)
}

// An anonymous struct member's fields lift into the parent and pack inline:
// the member's own size advances the parent's running offset once, so no
// extra pad follows it.
func TestImportAnonymousStructLiftsInline(t *testing.T) {
	const xml = `
<CastXML>
  <FundamentalType id="_u8" name="unsigned char" size="8"/>
  <FundamentalType id="_u16" name="short unsigned int" size="16"/>
  <Struct id="_anon" name="" size="16" members="_af1"/>
  <Field id="_af1" name="lo" type="_u16" offset="0"/>
  <Struct id="_outer" name="outer" size="24" members="_f1 _f2"/>
  <Field id="_f1" name="kind" type="_u8" offset="0"/>
  <Field id="_f2" name="" type="_anon" offset="8"/>
</CastXML>`
	tree, err := cimport.Parse(strings.NewReader(xml))
	require.NoError(t, err)

	d, err := tree.Descriptor("outer")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Size())

	v, err := d.Unpack([]byte{0x07, 0x34, 0x12}, layout.WithUnpackEndian(layout.LittleEndian))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kind": uint64(7), "lo": uint64(0x1234)}, v)
}

func TestImportUnknownNameFails(t *testing.T) {
	tree, err := cimport.Parse(strings.NewReader(headerXML))
	require.NoError(t, err)
	_, err = tree.Descriptor("no_such_type")
	require.Error(t, err)
}
