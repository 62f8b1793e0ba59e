package bolt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	p := NewPacker()
	require.NoError(t, p.PackValue(v))
	u := NewUnpacker(p.Bytes())
	got, err := u.UnpackValue()
	require.NoError(t, err)
	return got
}

func TestRoundTripScalars(t *testing.T) {
	assert.Nil(t, roundTrip(t, nil))
	assert.Equal(t, true, roundTrip(t, true))
	assert.Equal(t, false, roundTrip(t, false))
	assert.Equal(t, "hello", roundTrip(t, "hello"))
	assert.Equal(t, 3.14, roundTrip(t, 3.14))
}

func TestRoundTripIntegers(t *testing.T) {
	cases := []int64{-16, -1, 0, 1, 42, 127, 128, -17, -128, -129, 32767, -32768, 32768, 2147483647, -2147483648, 2147483648, 9223372036854775807, -9223372036854775808}
	for _, v := range cases {
		got := roundTrip(t, v)
		assert.Equal(t, v, got, "round trip %d", v)
	}
}

func TestRoundTripStringLengths(t *testing.T) {
	lengths := []int{0, 1, 15, 16, 255, 256, 70000}
	for _, n := range lengths {
		s := make([]byte, n)
		for i := range s {
			s[i] = byte('a' + (i % 26))
		}
		got := roundTrip(t, string(s))
		assert.Equal(t, string(s), got)
	}
}

func TestRoundTripList(t *testing.T) {
	v := []any{int64(1), "two", 3.0, nil, true}
	got := roundTrip(t, v)
	assert.Equal(t, v, got)
}

func TestRoundTripNestedMap(t *testing.T) {
	v := map[string]any{
		"a": int64(1),
		"b": []any{int64(1), int64(2), int64(3)},
		"c": map[string]any{"nested": "value"},
	}
	got := roundTrip(t, v)
	om, ok := got.(*OrderedMap)
	require.True(t, ok)
	assert.Equal(t, v, om.ToMap())
}

func TestOrderedMapPreservesInsertionOrderThroughRoundTrip(t *testing.T) {
	om := NewOrderedMap()
	om.Set("z", int64(1))
	om.Set("a", int64(2))
	om.Set("m", int64(3))

	got := roundTrip(t, om)
	decoded, ok := got.(*OrderedMap)
	require.True(t, ok)
	assert.Equal(t, []string{"z", "a", "m"}, decoded.Keys())
}

func TestUnpackMapRejectsDuplicateKey(t *testing.T) {
	p := NewPacker()
	p.PackMapHeader(2)
	p.PackString("dup")
	p.PackInt(1)
	p.PackString("dup")
	p.PackInt(2)

	u := NewUnpacker(p.Bytes())
	_, err := u.UnpackValue()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate map key")
}

func TestRoundTripStructure(t *testing.T) {
	s := &Structure{Tag: TagNode, Fields: []any{int64(1), []any{"Person"}, map[string]any{"name": "Alice"}}}
	got := roundTrip(t, s)
	decoded, ok := got.(*Structure)
	require.True(t, ok)
	assert.Equal(t, s.Tag, decoded.Tag)
	assert.Equal(t, s.Fields[0], decoded.Fields[0])
	assert.Equal(t, s.Fields[1], decoded.Fields[1])
	props, ok := decoded.Fields[2].(*OrderedMap)
	require.True(t, ok)
	assert.Equal(t, s.Fields[2], props.ToMap())
}

func TestDecodeStructureNode(t *testing.T) {
	s := &Structure{Tag: TagNode, Fields: []any{int64(7), []any{"Person", "Admin"}, map[string]any{"name": "Bob"}, "4:abc:7"}}
	decoded, err := DecodeStructure(s)
	require.NoError(t, err)
	node, ok := decoded.(*Node)
	require.True(t, ok)
	assert.Equal(t, int64(7), node.ID)
	assert.Equal(t, []string{"Person", "Admin"}, node.Labels)
	assert.Equal(t, "Bob", node.Properties["name"])
	assert.Equal(t, "4:abc:7", node.ElementID)
}

func TestDecodeStructureUnknownTagFails(t *testing.T) {
	s := &Structure{Tag: 0xFF, Fields: []any{int64(1)}}
	_, err := DecodeStructure(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown structure tag")
}

func TestUnpackUnexpectedEOF(t *testing.T) {
	u := NewUnpacker([]byte{markerString8, 0x05, 'a', 'b'})
	_, err := u.UnpackValue()
	assert.Error(t, err)
}
