package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs
const (
	TypeNoData     uint8 = 0x00
	TypeData8      uint8 = 0x08
	TypeBool       uint8 = 0x10
	TypeBitmap8    uint8 = 0x18
	TypeBitmap16   uint8 = 0x19
	TypeBitmap24   uint8 = 0x1A
	TypeBitmap32   uint8 = 0x1B
	TypeUint8      uint8 = 0x20
	TypeUint16     uint8 = 0x21
	TypeUint24     uint8 = 0x22
	TypeUint32     uint8 = 0x23
	TypeUint40     uint8 = 0x24
	TypeUint48     uint8 = 0x25
	TypeInt8       uint8 = 0x28
	TypeInt16      uint8 = 0x29
	TypeInt24      uint8 = 0x2A
	TypeInt32      uint8 = 0x2B
	TypeEnum8      uint8 = 0x30
	TypeEnum16     uint8 = 0x31
	TypeFloat16    uint8 = 0x38
	TypeFloat32    uint8 = 0x39
	TypeFloat64    uint8 = 0x3A
	TypeOctetStr   uint8 = 0x41
	TypeCharStr    uint8 = 0x42
	TypeOctetStr16 uint8 = 0x43
	TypeCharStr16  uint8 = 0x44
	TypeToD        uint8 = 0xE0
	TypeDate       uint8 = 0xE1
	TypeUTC        uint8 = 0xE2
	TypeClusterID  uint8 = 0xE8
	TypeAttrID     uint8 = 0xE9
	TypeEUI64      uint8 = 0xF0
)

// Size markers returned by TypeSize for non-fixed types.
const (
	SizeVariable   = -1 // 1-byte length prefix
	SizeVariable16 = -3 // 2-byte length prefix
	SizeUnknown    = -2
)

type typeInfo struct {
	name   string
	size   int
	signed bool
}

var types = map[uint8]typeInfo{
	TypeNoData:     {"nodata", 0, false},
	TypeBool:       {"bool", 1, false},
	TypeBitmap8:    {"map8", 1, false},
	TypeBitmap16:   {"map16", 2, false},
	TypeBitmap24:   {"map24", 3, false},
	TypeBitmap32:   {"map32", 4, false},
	TypeEnum8:      {"enum8", 1, false},
	TypeEnum16:     {"enum16", 2, false},
	TypeFloat16:    {"float16", 2, false},
	TypeFloat32:    {"float32", 4, false},
	TypeFloat64:    {"float64", 8, false},
	TypeOctetStr:   {"octstr", SizeVariable, false},
	TypeCharStr:    {"string", SizeVariable, false},
	TypeOctetStr16: {"octstr16", SizeVariable16, false},
	TypeCharStr16:  {"string16", SizeVariable16, false},
	TypeToD:        {"ToD", 4, false},
	TypeDate:       {"date", 4, false},
	TypeUTC:        {"UTC", 4, false},
	TypeClusterID:  {"clusterId", 2, false},
	TypeAttrID:     {"attribId", 2, false},
	TypeEUI64:      {"EUI64", 8, false},
}

func init() {
	for i := uint8(0); i < 8; i++ {
		types[TypeData8+i] = typeInfo{fmt.Sprintf("data%d", 8*(i+1)), int(i) + 1, false}
		types[TypeUint8+i] = typeInfo{fmt.Sprintf("uint%d", 8*(i+1)), int(i) + 1, false}
		types[TypeInt8+i] = typeInfo{fmt.Sprintf("int%d", 8*(i+1)), int(i) + 1, true}
	}
}

// TypeSize returns the encoded size of a ZCL type, SizeVariable or
// SizeVariable16 for length-prefixed strings, SizeUnknown otherwise.
func TypeSize(typeID uint8) int {
	if ti, ok := types[typeID]; ok {
		return ti.size
	}
	return SizeUnknown
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	if ti, ok := types[typeID]; ok {
		return ti.name
	}
	return fmt.Sprintf("0x%02X", typeID)
}

func isInteger(typeID uint8) bool {
	switch {
	case typeID >= TypeUint8 && typeID <= TypeInt8+7,
		typeID >= TypeBitmap8 && typeID <= TypeBitmap32,
		typeID == TypeEnum8, typeID == TypeEnum16,
		typeID == TypeClusterID, typeID == TypeAttrID,
		typeID == TypeUTC, typeID == TypeToD, typeID == TypeDate:
		return true
	}
	return false
}

func readUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}

// DecodeValue decodes a typed value, returning the Go value and bytes consumed.
// Integers narrower than 64 bits decode to the smallest fitting Go type
// (uint8/16/32/64, int8/16/32/64); strings to string; octet strings to []byte.
func DecodeValue(typeID uint8, data []byte) (any, int, error) {
	size := TypeSize(typeID)
	switch size {
	case 0:
		return nil, 0, nil
	case SizeUnknown:
		return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
	case SizeVariable, SizeVariable16:
		return decodeString(typeID, size, data)
	}
	if len(data) < size {
		return nil, 0, fmt.Errorf("zcl: not enough data for %s: need %d, have %d", TypeName(typeID), size, len(data))
	}
	raw := data[:size]

	switch typeID {
	case TypeBool:
		return raw[0] != 0, 1, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(raw)), 4, nil
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), 8, nil
	case TypeEUI64:
		var a [8]byte
		copy(a[:], raw)
		return a, 8, nil
	case TypeFloat16:
		return binary.LittleEndian.Uint16(raw), 2, nil
	}

	if !isInteger(typeID) {
		out := make([]byte, size)
		copy(out, raw)
		return out, size, nil
	}
	u := readUint(raw)
	if types[typeID].signed {
		shift := 64 - 8*uint(size)
		s := int64(u<<shift) >> shift
		switch {
		case size == 1:
			return int8(s), size, nil
		case size == 2:
			return int16(s), size, nil
		case size <= 4:
			return int32(s), size, nil
		}
		return s, size, nil
	}
	switch {
	case size == 1:
		return uint8(u), size, nil
	case size == 2:
		return uint16(u), size, nil
	case size <= 4:
		return uint32(u), size, nil
	}
	return u, size, nil
}

func decodeString(typeID uint8, size int, data []byte) (any, int, error) {
	prefix := 1
	if size == SizeVariable16 {
		prefix = 2
	}
	if len(data) < prefix {
		return nil, 0, fmt.Errorf("zcl: no length prefix for %s", TypeName(typeID))
	}
	n := int(readUint(data[:prefix]))
	if (prefix == 1 && n == 0xFF) || (prefix == 2 && n == 0xFFFF) {
		return nil, prefix, nil
	}
	if len(data) < prefix+n {
		return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", TypeName(typeID), n, len(data)-prefix)
	}
	body := data[prefix : prefix+n]
	if typeID == TypeCharStr || typeID == TypeCharStr16 {
		return string(body), prefix + n, nil
	}
	out := make([]byte, n)
	copy(out, body)
	return out, prefix + n, nil
}

// EncodeValue encodes a Go value as the given ZCL type. Numbers coming from
// JSON (float64) are accepted for every numeric type.
func EncodeValue(typeID uint8, val any) ([]byte, error) {
	size := TypeSize(typeID)
	switch typeID {
	case TypeBool:
		b, ok := toBool(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TypeFloat32:
		f, ok := toFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to float32", val)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil
	case TypeFloat64:
		f, ok := toFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to float64", val)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	case TypeEUI64:
		switch a := val.(type) {
		case [8]byte:
			return append([]byte(nil), a[:]...), nil
		case []byte:
			if len(a) != 8 {
				return nil, fmt.Errorf("zcl: EUI64 requires 8 bytes, got %d", len(a))
			}
			return append([]byte(nil), a...), nil
		}
		return nil, fmt.Errorf("zcl: cannot convert %T to EUI64", val)
	case TypeCharStr, TypeCharStr16, TypeOctetStr, TypeOctetStr16:
		return encodeString(typeID, size, val)
	}

	if !isInteger(typeID) && typeID != TypeFloat16 {
		return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
	}
	buf := make([]byte, size)
	if types[typeID].signed {
		v, ok := toInt64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
		}
		limit := int64(1) << (8*uint(size) - 1)
		if size < 8 && (v < -limit || v >= limit) {
			return nil, fmt.Errorf("zcl: value %d overflows %s", v, TypeName(typeID))
		}
		putUint(buf, uint64(v))
		return buf, nil
	}
	v, ok := toUint64(val)
	if !ok {
		return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
	}
	if size < 8 && v >= uint64(1)<<(8*uint(size)) {
		return nil, fmt.Errorf("zcl: value %d overflows %s", v, TypeName(typeID))
	}
	putUint(buf, v)
	return buf, nil
}

func encodeString(typeID uint8, size int, val any) ([]byte, error) {
	var body []byte
	switch v := val.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
	}
	prefix, max := 1, 254
	if size == SizeVariable16 {
		prefix, max = 2, 65534
	}
	if len(body) > max {
		return nil, fmt.Errorf("zcl: %s too long: %d (max %d)", TypeName(typeID), len(body), max)
	}
	buf := make([]byte, prefix+len(body))
	putUint(buf[:prefix], uint64(len(body)))
	copy(buf[prefix:], body)
	return buf, nil
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	}
	return false, false
}

func toUint64(v any) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	i, ok := toInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		if val > math.MaxInt64 || val < math.MinInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
