package bolt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

// PackStream marker bytes. Values not covered by a fixed-size marker carry
// their own length prefix, chosen by smallest encoding that fits.
const (
	markerNull = 0xC0

	markerFalse = 0xC2
	markerTrue  = 0xC3

	markerFloat64 = 0xC1

	markerInt8  = 0xC8
	markerInt16 = 0xC9
	markerInt32 = 0xCA
	markerInt64 = 0xCB

	markerTinyStringBase = 0x80
	markerString8        = 0xD0
	markerString16       = 0xD1
	markerString32       = 0xD2

	markerTinyListBase = 0x90
	markerList8        = 0xD4
	markerList16       = 0xD5
	markerList32       = 0xD6

	markerTinyMapBase = 0xA0
	markerMap8        = 0xD8
	markerMap16       = 0xD9
	markerMap32       = 0xDA

	markerTinyStructBase = 0xB0
	markerStruct8        = 0xDC
	markerStruct16       = 0xDD
)

// KV is one key/value pair of an OrderedMap.
type KV struct {
	Key   string
	Value any
}

// OrderedMap is a PackStream map that preserves the order its keys were set
// or decoded in. UnpackValue returns one of these for every wire map instead
// of a native Go map, since iteration over map[string]any has no defined
// order and the wire format requires encoding and decoding to agree on one.
type OrderedMap struct {
	pairs []KV
	index map[string]int
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{index: make(map[string]int)}
}

// Set appends key/value, or overwrites the value in place if key is already
// present.
func (m *OrderedMap) Set(key string, value any) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.pairs[i].Value = value
		return
	}
	m.index[key] = len(m.pairs)
	m.pairs = append(m.pairs, KV{Key: key, Value: value})
}

// Get returns the value stored for key and whether it was present.
func (m *OrderedMap) Get(key string) (any, bool) {
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.pairs[i].Value, true
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	keys := make([]string, len(m.pairs))
	for i, kv := range m.pairs {
		keys[i] = kv.Key
	}
	return keys
}

// Len returns the number of pairs.
func (m *OrderedMap) Len() int { return len(m.pairs) }

// ToMap flattens the OrderedMap into a native Go map, losing order, and does
// the same to every nested OrderedMap it contains (directly or inside a
// list). Callers that only need keyed lookups, not wire-faithful order, use
// this to reuse the ordinary map[string]any APIs elsewhere in the codebase.
func (m *OrderedMap) ToMap() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m.pairs))
	for _, kv := range m.pairs {
		out[kv.Key] = flattenOrderedMaps(kv.Value)
	}
	return out
}

func flattenOrderedMaps(v any) any {
	switch val := v.(type) {
	case *OrderedMap:
		return val.ToMap()
	case []any:
		for i, item := range val {
			val[i] = flattenOrderedMaps(item)
		}
		return val
	default:
		return v
	}
}

// Packer serializes Go values into PackStream-encoded bytes.
type Packer struct {
	buf bytes.Buffer
}

// NewPacker returns a Packer with an empty buffer.
func NewPacker() *Packer {
	return &Packer{}
}

// Reset clears the packer's buffer so it can be reused.
func (p *Packer) Reset() { p.buf.Reset() }

// Bytes returns the bytes packed so far.
func (p *Packer) Bytes() []byte { return p.buf.Bytes() }

func (p *Packer) writeByte(b byte) { p.buf.WriteByte(b) }

func (p *Packer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	p.buf.Write(b[:])
}

func (p *Packer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	p.buf.Write(b[:])
}

func (p *Packer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	p.buf.Write(b[:])
}

// PackNil writes a null value.
func (p *Packer) PackNil() { p.writeByte(markerNull) }

// PackBool writes a boolean value.
func (p *Packer) PackBool(v bool) {
	if v {
		p.writeByte(markerTrue)
	} else {
		p.writeByte(markerFalse)
	}
}

// PackInt writes an integer using the smallest marker that represents it
// exactly, per the PackStream integer range table.
func (p *Packer) PackInt(v int64) {
	switch {
	case v >= -16 && v <= 127:
		p.writeByte(byte(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		p.writeByte(markerInt8)
		p.writeByte(byte(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		p.writeByte(markerInt16)
		p.writeUint16(uint16(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		p.writeByte(markerInt32)
		p.writeUint32(uint32(v))
	default:
		p.writeByte(markerInt64)
		p.writeInt64(v)
	}
}

// PackFloat writes a double-precision float.
func (p *Packer) PackFloat(v float64) {
	p.writeByte(markerFloat64)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	p.buf.Write(b[:])
}

// PackString writes a UTF-8 string.
func (p *Packer) PackString(s string) {
	n := len(s)
	switch {
	case n <= 15:
		p.writeByte(byte(markerTinyStringBase | n))
	case n <= math.MaxUint8:
		p.writeByte(markerString8)
		p.writeByte(byte(n))
	case n <= math.MaxUint16:
		p.writeByte(markerString16)
		p.writeUint16(uint16(n))
	default:
		p.writeByte(markerString32)
		p.writeUint32(uint32(n))
	}
	p.buf.WriteString(s)
}

// PackListHeader writes a list marker for n upcoming items. Callers pack
// each item themselves immediately after.
func (p *Packer) PackListHeader(n int) {
	switch {
	case n <= 15:
		p.writeByte(byte(markerTinyListBase | n))
	case n <= math.MaxUint8:
		p.writeByte(markerList8)
		p.writeByte(byte(n))
	case n <= math.MaxUint16:
		p.writeByte(markerList16)
		p.writeUint16(uint16(n))
	default:
		p.writeByte(markerList32)
		p.writeUint32(uint32(n))
	}
}

// PackMapHeader writes a map marker for n upcoming key/value pairs.
func (p *Packer) PackMapHeader(n int) {
	switch {
	case n <= 15:
		p.writeByte(byte(markerTinyMapBase | n))
	case n <= math.MaxUint8:
		p.writeByte(markerMap8)
		p.writeByte(byte(n))
	case n <= math.MaxUint16:
		p.writeByte(markerMap16)
		p.writeUint16(uint16(n))
	default:
		p.writeByte(markerMap32)
		p.writeUint32(uint32(n))
	}
}

// PackStructHeader writes a structure marker with its field count and tag.
func (p *Packer) PackStructHeader(n int, tag byte) {
	switch {
	case n <= 15:
		p.writeByte(byte(markerTinyStructBase | n))
	case n <= math.MaxUint8:
		p.writeByte(markerStruct8)
		p.writeByte(byte(n))
	default:
		p.writeByte(markerStruct16)
		p.writeUint16(uint16(n))
	}
	p.writeByte(tag)
}

// PackValue recursively packs a Go value of the Value universe: nil, bool,
// any integer type, float32/64, string, []any, map[string]any, *OrderedMap,
// or *Structure. Prefer *OrderedMap over map[string]any when the wire order
// of keys matters, since Go map iteration order is undefined.
func (p *Packer) PackValue(v any) error {
	switch val := v.(type) {
	case nil:
		p.PackNil()
	case bool:
		p.PackBool(val)
	case int:
		p.PackInt(int64(val))
	case int8:
		p.PackInt(int64(val))
	case int16:
		p.PackInt(int64(val))
	case int32:
		p.PackInt(int64(val))
	case int64:
		p.PackInt(val)
	case float32:
		p.PackFloat(float64(val))
	case float64:
		p.PackFloat(val)
	case string:
		p.PackString(val)
	case []byte:
		// PackStream has no dedicated byte-array tag in the v1 wire family
		// used here; encode as a list of integers (0..127 as tiny-ints,
		// 128..255 as INT_16). It decodes back as []any of int64, not as
		// []byte.
		p.PackListHeader(len(val))
		for _, b := range val {
			p.PackInt(int64(b))
		}
	case []any:
		p.PackListHeader(len(val))
		for _, item := range val {
			if err := p.PackValue(item); err != nil {
				return err
			}
		}
	case map[string]any:
		p.PackMapHeader(len(val))
		for k, item := range val {
			p.PackString(k)
			if err := p.PackValue(item); err != nil {
				return err
			}
		}
	case *OrderedMap:
		p.PackMapHeader(val.Len())
		for _, kv := range val.pairs {
			p.PackString(kv.Key)
			if err := p.PackValue(kv.Value); err != nil {
				return err
			}
		}
	case *Structure:
		p.PackStructHeader(len(val.Fields), val.Tag)
		for _, f := range val.Fields {
			if err := p.PackValue(f); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("bolt: cannot pack value of type %T", v)
	}
	return nil
}

// Unpacker deserializes PackStream-encoded bytes into Go values. It reads
// from a fully buffered message; the chunked framer is responsible for
// reassembling chunks before decoding starts.
type Unpacker struct {
	buf []byte
	pos int
}

// NewUnpacker returns an Unpacker positioned at the start of buf.
func NewUnpacker(buf []byte) *Unpacker {
	return &Unpacker{buf: buf}
}

func (u *Unpacker) errf(format string, args ...any) error {
	return fmt.Errorf("bolt: unpack at offset %d: %w", u.pos, fmt.Errorf(format, args...))
}

func (u *Unpacker) readByte() (byte, error) {
	if u.pos >= len(u.buf) {
		return 0, u.errf("unexpected end of message")
	}
	b := u.buf[u.pos]
	u.pos++
	return b, nil
}

func (u *Unpacker) readBytes(n int) ([]byte, error) {
	if u.pos+n > len(u.buf) {
		return nil, u.errf("unexpected end of message, need %d bytes", n)
	}
	b := u.buf[u.pos : u.pos+n]
	u.pos += n
	return b, nil
}

func (u *Unpacker) readUint16() (uint16, error) {
	b, err := u.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (u *Unpacker) readUint32() (uint32, error) {
	b, err := u.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (u *Unpacker) readInt64() (int64, error) {
	b, err := u.readBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// More reports whether any unread bytes remain.
func (u *Unpacker) More() bool { return u.pos < len(u.buf) }

// UnpackValue decodes and returns the next value, recursing into lists,
// maps, and structures.
func (u *Unpacker) UnpackValue() (any, error) {
	marker, err := u.readByte()
	if err != nil {
		return nil, err
	}
	switch {
	case marker == markerNull:
		return nil, nil
	case marker == markerFalse:
		return false, nil
	case marker == markerTrue:
		return true, nil
	case marker == markerFloat64:
		b, err := u.readBytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case marker == markerInt8:
		b, err := u.readByte()
		if err != nil {
			return nil, err
		}
		return int64(int8(b)), nil
	case marker == markerInt16:
		v, err := u.readUint16()
		if err != nil {
			return nil, err
		}
		return int64(int16(v)), nil
	case marker == markerInt32:
		v, err := u.readUint32()
		if err != nil {
			return nil, err
		}
		return int64(int32(v)), nil
	case marker == markerInt64:
		return u.readInt64()
	case marker <= 0x7F || marker >= 0xF0:
		return int64(int8(marker)), nil
	case marker>>4 == 0x8 || marker == markerString8 || marker == markerString16 || marker == markerString32:
		return u.unpackString(marker)
	case marker>>4 == 0x9 || marker == markerList8 || marker == markerList16 || marker == markerList32:
		return u.unpackList(marker)
	case marker>>4 == 0xA || marker == markerMap8 || marker == markerMap16 || marker == markerMap32:
		return u.unpackMap(marker)
	case marker>>4 == 0xB || marker == markerStruct8 || marker == markerStruct16:
		return u.unpackStruct(marker)
	default:
		return nil, u.errf("unknown marker 0x%02X", marker)
	}
}

func (u *Unpacker) unpackString(marker byte) (string, error) {
	var n int
	switch marker {
	case markerString8:
		b, err := u.readByte()
		if err != nil {
			return "", err
		}
		n = int(b)
	case markerString16:
		v, err := u.readUint16()
		if err != nil {
			return "", err
		}
		n = int(v)
	case markerString32:
		v, err := u.readUint32()
		if err != nil {
			return "", err
		}
		n = int(v)
	default:
		n = int(marker & 0x0F)
	}
	b, err := u.readBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (u *Unpacker) listLen(marker byte) (int, error) {
	switch marker {
	case markerList8:
		b, err := u.readByte()
		return int(b), err
	case markerList16:
		v, err := u.readUint16()
		return int(v), err
	case markerList32:
		v, err := u.readUint32()
		return int(v), err
	default:
		return int(marker & 0x0F), nil
	}
}

func (u *Unpacker) unpackList(marker byte) ([]any, error) {
	n, err := u.listLen(marker)
	if err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := u.UnpackValue()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (u *Unpacker) mapLen(marker byte) (int, error) {
	switch marker {
	case markerMap8:
		b, err := u.readByte()
		return int(b), err
	case markerMap16:
		v, err := u.readUint16()
		return int(v), err
	case markerMap32:
		v, err := u.readUint32()
		return int(v), err
	default:
		return int(marker & 0x0F), nil
	}
}

func (u *Unpacker) unpackMap(marker byte) (*OrderedMap, error) {
	n, err := u.mapLen(marker)
	if err != nil {
		return nil, err
	}
	out := &OrderedMap{index: make(map[string]int, n), pairs: make([]KV, 0, n)}
	for i := 0; i < n; i++ {
		k, err := u.UnpackValue()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, u.errf("map key is not a string: %T", k)
		}
		if _, dup := out.Get(key); dup {
			return nil, graphbolterr.NewProtocolError("duplicate map key")
		}
		v, err := u.UnpackValue()
		if err != nil {
			return nil, err
		}
		out.Set(key, v)
	}
	return out, nil
}

func (u *Unpacker) unpackStruct(marker byte) (*Structure, error) {
	var n int
	switch marker {
	case markerStruct8:
		b, err := u.readByte()
		if err != nil {
			return nil, err
		}
		n = int(b)
	case markerStruct16:
		v, err := u.readUint16()
		if err != nil {
			return nil, err
		}
		n = int(v)
	default:
		n = int(marker & 0x0F)
	}
	tag, err := u.readByte()
	if err != nil {
		return nil, err
	}
	fields := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := u.UnpackValue()
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	return &Structure{Tag: tag, Fields: fields}, nil
}
