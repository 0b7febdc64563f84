package od

import (
	"sync"
)

// Variable is the smallest addressable object of an [ObjectDictionary],
// one value at an (index, subindex).
type Variable struct {
	mu           sync.RWMutex
	Name         string
	SubIndex     uint8
	DataType     uint8
	Attribute    uint8
	value        []byte
	valueDefault []byte
}

// Create a new variable
func NewVariable(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	encoded, err := EncodeFromString(value, datatype, 0)
	if err != nil {
		return nil, err
	}
	if datatype == VISIBLE_STRING || datatype == OCTET_STRING || datatype == UNICODE_STRING {
		attribute |= AttributeStr
	}
	return &Variable{
		SubIndex:     subindex,
		Name:         name,
		DataType:     datatype,
		Attribute:    attribute,
		value:        encoded,
		valueDefault: append([]byte(nil), encoded...),
	}, nil
}

func (v *Variable) HasAttribute(attribute uint8) bool {
	return v.Attribute&attribute != 0
}

// DataLength is the current size of the value in bytes
func (v *Variable) DataLength() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint32(len(v.value))
}

// Bytes returns a copy of the current value
func (v *Variable) Bytes() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]byte(nil), v.value...)
}

// Write replaces the value. Fixed size types must be written exactly,
// strings may be written shorter or longer and domains may take any size.
func (v *Variable) Write(data []byte) error {
	if err := CheckSize(len(data), v.DataType); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = append(v.value[:0], data...)
	return nil
}

// Value decodes the current value, see [DecodeToTypeExact]
func (v *Variable) Value() (any, error) {
	return DecodeToTypeExact(v.Bytes(), v.DataType)
}

// SetValue encodes value, which must match the variable data type
func (v *Variable) SetValue(value any) error {
	encoded, err := EncodeFromTypeExact(value, v.DataType)
	if err != nil {
		return err
	}
	return v.Write(encoded)
}

// Reset restores the default value
func (v *Variable) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = append(v.value[:0], v.valueDefault...)
}
