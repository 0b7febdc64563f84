package od

import (
	"encoding/binary"
	"math"
	"strconv"
)

// DataTypeSize returns the encoded size of fixed size data types,
// 0 for strings and domains.
func DataTypeSize(dataType uint8) int {
	switch dataType {
	case BOOLEAN, UNSIGNED8, INTEGER8:
		return 1
	case UNSIGNED16, INTEGER16:
		return 2
	case UNSIGNED32, INTEGER32, REAL32:
		return 4
	case UNSIGNED64, INTEGER64, REAL64:
		return 8
	default:
		return 0
	}
}

// Helper function for checking consistency between size and datatype
func CheckSize(length int, dataType uint8) error {
	expected := DataTypeSize(dataType)
	switch {
	case expected == 0:
		return nil
	case length < expected:
		return ErrDataShort
	case length > expected:
		return ErrDataLong
	}
	return nil
}

// EncodeFromString value from EDS into bytes respecting canopen datatype
// offset is added to integer values, e.g. for $NODEID
func EncodeFromString(value string, datatype uint8, offset uint8) ([]byte, error) {
	if value == "" {
		// Treat empty string as a 0 value
		value = "0"
	}
	size := DataTypeSize(datatype)
	data := make([]byte, size)
	switch datatype {
	case BOOLEAN, UNSIGNED8, UNSIGNED16, UNSIGNED32, UNSIGNED64:
		parsed, err := strconv.ParseUint(value, 0, size*8)
		if err != nil {
			return nil, err
		}
		putUint(data, parsed+uint64(offset))
	case INTEGER8, INTEGER16, INTEGER32, INTEGER64:
		parsed, err := strconv.ParseInt(value, 0, size*8)
		if err != nil {
			return nil, err
		}
		putUint(data, uint64(parsed+int64(offset)))
	case REAL32:
		parsed, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(data, math.Float32bits(float32(parsed)))
	case REAL64:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(data, math.Float64bits(parsed))
	case VISIBLE_STRING, OCTET_STRING, UNICODE_STRING:
		return []byte(value), nil
	case DOMAIN:
		return []byte{}, nil
	default:
		return nil, ErrTypeMismatch
	}
	return data, nil
}

func putUint(data []byte, value uint64) {
	switch len(data) {
	case 1:
		data[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(data, value)
	}
}

// Encode from generic type
func EncodeFromGeneric(data any) ([]byte, error) {
	var encoded []byte
	switch val := data.(type) {
	case bool:
		encoded = []byte{0}
		if val {
			encoded[0] = 1
		}
	case uint8:
		encoded = []byte{val}
	case int8:
		encoded = []byte{byte(val)}
	case uint16:
		encoded = binary.LittleEndian.AppendUint16(nil, val)
	case int16:
		encoded = binary.LittleEndian.AppendUint16(nil, uint16(val))
	case uint32:
		encoded = binary.LittleEndian.AppendUint32(nil, val)
	case int32:
		encoded = binary.LittleEndian.AppendUint32(nil, uint32(val))
	case uint64:
		encoded = binary.LittleEndian.AppendUint64(nil, val)
	case int64:
		encoded = binary.LittleEndian.AppendUint64(nil, uint64(val))
	case float32:
		encoded = binary.LittleEndian.AppendUint32(nil, math.Float32bits(val))
	case float64:
		encoded = binary.LittleEndian.AppendUint64(nil, math.Float64bits(val))
	case string:
		encoded = []byte(val)
	case []byte:
		encoded = val
	default:
		return nil, ErrTypeMismatch
	}
	return encoded, nil
}

// EncodeFromTypeExact is like [EncodeFromGeneric] but also checks that the
// concrete go type matches dataType
func EncodeFromTypeExact(data any, dataType uint8) ([]byte, error) {
	var expected uint8
	switch data.(type) {
	case bool:
		expected = BOOLEAN
	case uint8:
		expected = UNSIGNED8
	case int8:
		expected = INTEGER8
	case uint16:
		expected = UNSIGNED16
	case int16:
		expected = INTEGER16
	case uint32:
		expected = UNSIGNED32
	case int32:
		expected = INTEGER32
	case uint64:
		expected = UNSIGNED64
	case int64:
		expected = INTEGER64
	case float32:
		expected = REAL32
	case float64:
		expected = REAL64
	case string:
		if dataType != VISIBLE_STRING && dataType != UNICODE_STRING {
			return nil, ErrTypeMismatch
		}
		expected = dataType
	case []byte:
		// raw bytes are accepted for any type, size is checked instead
		encoded := data.([]byte)
		return encoded, CheckSize(len(encoded), dataType)
	default:
		return nil, ErrTypeMismatch
	}
	if expected != dataType {
		return nil, ErrTypeMismatch
	}
	return EncodeFromGeneric(data)
}

// Decode byte array given the CANopen data type
// Function will return either string, int64, uint64, float64 or []byte
func DecodeToType(data []byte, dataType uint8) (any, error) {
	if err := CheckSize(len(data), dataType); err != nil {
		return nil, err
	}
	switch dataType {
	case BOOLEAN, UNSIGNED8, UNSIGNED16, UNSIGNED32, UNSIGNED64:
		return getUint(data), nil
	case INTEGER8:
		return int64(int8(data[0])), nil
	case INTEGER16:
		return int64(int16(binary.LittleEndian.Uint16(data))), nil
	case INTEGER32:
		return int64(int32(binary.LittleEndian.Uint32(data))), nil
	case INTEGER64:
		return int64(binary.LittleEndian.Uint64(data)), nil
	case REAL32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	case REAL64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case VISIBLE_STRING, UNICODE_STRING:
		return string(data), nil
	case OCTET_STRING, DOMAIN:
		return append([]byte(nil), data...), nil
	default:
		return nil, ErrTypeMismatch
	}
}

// Decode byte array given the CANopen data type
// Function will return the exact type (uint8,uint16,...,int8,...)
func DecodeToTypeExact(data []byte, dataType uint8) (any, error) {
	v, err := DecodeToType(data, dataType)
	if err != nil {
		return nil, err
	}
	switch dataType {
	case BOOLEAN:
		return data[0] != 0, nil
	case UNSIGNED8:
		return uint8(v.(uint64)), nil
	case UNSIGNED16:
		return uint16(v.(uint64)), nil
	case UNSIGNED32:
		return uint32(v.(uint64)), nil
	case INTEGER8:
		return int8(v.(int64)), nil
	case INTEGER16:
		return int16(v.(int64)), nil
	case INTEGER32:
		return int32(v.(int64)), nil
	case REAL32:
		return float32(v.(float64)), nil
	}
	return v, nil
}

func getUint(data []byte) uint64 {
	switch len(data) {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	default:
		return binary.LittleEndian.Uint64(data)
	}
}

// Decode the attribute in function of the of attribute type and pdo mapping for EDS entry
func EncodeAttribute(accessType string, pdoMapping bool, dataType uint8) uint8 {
	var attribute uint8
	switch accessType {
	case "rw", "rww", "rwr":
		attribute = AttributeSdoRw
	case "ro", "const":
		attribute = AttributeSdoR
	case "wo":
		attribute = AttributeSdoW
	default:
		attribute = AttributeSdoRw
	}
	if pdoMapping {
		attribute |= AttributeTrpdo
	}
	if dataType == VISIBLE_STRING || dataType == OCTET_STRING || dataType == UNICODE_STRING {
		attribute |= AttributeStr
	}
	return attribute
}
