package od

import (
	"fmt"
)

// ODR is the result of an object dictionary access. Every value maps
// onto one SDO abort code.
type ODR int8

const (
	ErrPartial      ODR = -1
	ErrNo           ODR = 0
	ErrOutOfMem     ODR = 1
	ErrUnsuppAccess ODR = 2
	ErrWriteOnly    ODR = 3
	ErrReadonly     ODR = 4
	ErrIdxNotExist  ODR = 5
	ErrNoMap        ODR = 6
	ErrMapLen       ODR = 7
	ErrParIncompat  ODR = 8
	ErrDevIncompat  ODR = 9
	ErrHw           ODR = 10
	ErrTypeMismatch ODR = 11
	ErrDataLong     ODR = 12
	ErrDataShort    ODR = 13
	ErrSubNotExist  ODR = 14
	ErrInvalidValue ODR = 15
	ErrValueHigh    ODR = 16
	ErrValueLow     ODR = 17
	ErrMaxLessMin   ODR = 18
	ErrNoRessource  ODR = 19
	ErrGeneral      ODR = 20
	ErrDataTransf   ODR = 21
	ErrDataLocCtrl  ODR = 22
	ErrDataDevState ODR = 23
	ErrOdMissing    ODR = 24
	ErrNoData       ODR = 25
)

var odrDescriptions = map[ODR]string{
	ErrPartial:      "partial access",
	ErrNo:           "no error",
	ErrOutOfMem:     "out of memory",
	ErrUnsuppAccess: "unsupported access",
	ErrWriteOnly:    "object is write only",
	ErrReadonly:     "object is read only",
	ErrIdxNotExist:  "index does not exist",
	ErrNoMap:        "object cannot be mapped",
	ErrMapLen:       "mapped objects exceed pdo length",
	ErrParIncompat:  "parameter incompatibility",
	ErrDevIncompat:  "device incompatibility",
	ErrHw:           "hardware error",
	ErrTypeMismatch: "data type mismatch",
	ErrDataLong:     "data too long",
	ErrDataShort:    "data too short",
	ErrSubNotExist:  "sub-index does not exist",
	ErrInvalidValue: "invalid value",
	ErrValueHigh:    "value too high",
	ErrValueLow:     "value too low",
	ErrMaxLessMin:   "maximum less than minimum",
	ErrNoRessource:  "resource not available",
	ErrGeneral:      "general error",
	ErrDataTransf:   "data cannot be transferred",
	ErrDataLocCtrl:  "data cannot be transferred because of local control",
	ErrDataDevState: "data cannot be transferred because of device state",
	ErrOdMissing:    "object dictionary not present",
	ErrNoData:       "no data available",
}

func (odr ODR) Error() string {
	if description, ok := odrDescriptions[odr]; ok {
		return "OD error : " + description
	}
	return fmt.Sprintf("OD error %d", int(odr))
}

// CANopen data types (CiA 301, table 44)
const (
	BOOLEAN        uint8 = 0x01
	INTEGER8       uint8 = 0x02
	INTEGER16      uint8 = 0x03
	INTEGER32      uint8 = 0x04
	UNSIGNED8      uint8 = 0x05
	UNSIGNED16     uint8 = 0x06
	UNSIGNED32     uint8 = 0x07
	REAL32         uint8 = 0x08
	VISIBLE_STRING uint8 = 0x09
	OCTET_STRING   uint8 = 0x0A
	UNICODE_STRING uint8 = 0x0B
	DOMAIN         uint8 = 0x0F
	REAL64         uint8 = 0x11
	INTEGER64      uint8 = 0x15
	UNSIGNED64     uint8 = 0x1B
)

// Object types
const (
	ObjectTypeDOMAIN uint8 = 2
	ObjectTypeVAR    uint8 = 7
	ObjectTypeARRAY  uint8 = 8
	ObjectTypeRECORD uint8 = 9
)

// Object dictionary object attribute
const (
	AttributeSdoR  uint8 = 0x01 // SDO server may read from the variable
	AttributeSdoW  uint8 = 0x02 // SDO server may write to the variable
	AttributeSdoRw uint8 = 0x03 // SDO server may read from or write to the variable
	AttributeTpdo  uint8 = 0x04 // Variable is mappable into TPDO (can be read)
	AttributeRpdo  uint8 = 0x08 // Variable is mappable into RPDO (can be written)
	AttributeTrpdo uint8 = 0x0C // Variable is mappable into TPDO or RPDO
	// Shorter value, than specified variable size, may be
	// written to the variable. Used for VISIBLE_STRING and OCTET_STRING.
	AttributeStr uint8 = 0x80
)

// Communication profile entries
const (
	EntryDeviceType                  uint16 = 0x1000
	EntryManufacturerDeviceName      uint16 = 0x1008
	EntryManufacturerHardwareVersion uint16 = 0x1009
	EntryManufacturerSoftwareVersion uint16 = 0x100A
	EntryIdentityObject              uint16 = 0x1018
	EntrySDOServerParameter          uint16 = 0x1200
	EntrySDOClientParameter          uint16 = 0x1280
	EntryConciseDCF                  uint16 = 0x1F22
)
