package od

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSample(t *testing.T) {
	od, err := Parse("testdata/sample.eds", 0x10)
	require.Nil(t, err)
	assert.Equal(t, []uint16{0x1000, 0x1008, 0x1018, 0x1200, 0x2000, 0x2001, 0x2002}, od.Indexes())

	deviceType, err := od.Variable(0x1000, 0)
	require.Nil(t, err)
	value, err := deviceType.Value()
	assert.Nil(t, err)
	assert.EqualValues(t, uint32(0x191), value)
	assert.False(t, deviceType.HasAttribute(AttributeSdoW))

	cobId, err := od.Variable(0x1200, 1)
	require.Nil(t, err)
	value, _ = cobId.Value()
	assert.EqualValues(t, uint32(0x610), value)

	name, err := od.Variable(0x1008, 0)
	require.Nil(t, err)
	assert.Equal(t, []byte("gosdo test node"), name.Bytes())
	assert.True(t, name.HasAttribute(AttributeStr))

	assert.Equal(t, 5, od.Index(0x1018).SubCount())
	assert.NotNil(t, od.Find("Identity object"))
	_, err = od.Variable(0x1018, 9)
	assert.Equal(t, ErrSubNotExist, err)
	_, err = od.Variable(0x3000, 0)
	assert.Equal(t, ErrIdxNotExist, err)
	_, err = od.Variable(0x1000, 1)
	assert.Equal(t, ErrSubNotExist, err)
}

func TestParseReader(t *testing.T) {
	raw, err := os.ReadFile("testdata/sample.eds")
	require.Nil(t, err)
	od, err := Parse(bytes.NewReader(raw), 1)
	require.Nil(t, err)
	assert.NotNil(t, od.Index(0x2000))
	_, err = Parse([]byte("[2000]\nParameterName=x\nObjectType=0x7\nDataType=0x0007\nAccessType=rw\nDefaultValue=zz\n"), 0)
	assert.NotNil(t, err)
}

func TestVariableWrite(t *testing.T) {
	od := NewOD()
	u16, err := od.AddVariableType(0x2001, "u16", UNSIGNED16, AttributeSdoRw, "0x10")
	require.Nil(t, err)
	assert.Equal(t, ErrDataLong, u16.Write([]byte{1, 2, 3}))
	assert.Equal(t, ErrDataShort, u16.Write([]byte{1}))
	assert.Nil(t, u16.Write([]byte{0x34, 0x12}))
	value, _ := u16.Value()
	assert.Equal(t, uint16(0x1234), value)
	assert.Nil(t, u16.SetValue(uint16(7)))
	assert.Equal(t, ErrTypeMismatch, u16.SetValue(uint32(7)))
	u16.Reset()
	assert.Equal(t, []byte{0x10, 0}, u16.Bytes())

	domain, err := od.AddVariableType(0x2000, "domain", DOMAIN, AttributeSdoRw, "")
	require.Nil(t, err)
	assert.EqualValues(t, 0, domain.DataLength())
	assert.Nil(t, domain.Write(make([]byte, 900)))
	assert.EqualValues(t, 900, domain.DataLength())
}

func TestEncodeDecode(t *testing.T) {
	encoded, err := EncodeFromString("-2", INTEGER16, 0)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xFE, 0xFF}, encoded)
	decoded, err := DecodeToType(encoded, INTEGER16)
	assert.Nil(t, err)
	assert.EqualValues(t, int64(-2), decoded)
	encoded, _ = EncodeFromString("0x600", UNSIGNED32, 5)
	assert.Equal(t, []byte{0x05, 0x06, 0, 0}, encoded)
	_, err = DecodeToType([]byte{1, 2, 3}, UNSIGNED32)
	assert.Equal(t, ErrDataShort, err)
	encoded, _ = EncodeFromGeneric(float32(1.5))
	decoded, _ = DecodeToTypeExact(encoded, REAL32)
	assert.Equal(t, float32(1.5), decoded)
	_, err = EncodeFromGeneric(struct{}{})
	assert.Equal(t, ErrTypeMismatch, err)
	assert.Equal(t, 0, DataTypeSize(VISIBLE_STRING))
	assert.Equal(t, AttributeSdoR|AttributeStr, EncodeAttribute("ro", false, VISIBLE_STRING))
	assert.Contains(t, ErrDataLong.Error(), "too long")
}
