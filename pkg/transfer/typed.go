package transfer

import (
	"github.com/samsamfire/gosdo/pkg/od"
)

// CheckLength verifies that n bytes fit a value of dataType
func CheckLength(n int, dataType uint8) error {
	return convertOdError(od.CheckSize(n, dataType))
}

func convertOdError(err error) error {
	switch err {
	case od.ErrDataLong:
		return ErrLengthHigh
	case od.ErrDataShort:
		return ErrLengthLow
	}
	return err
}

// BeginSendValue encodes value as dataType and starts sending it
func (r *Request) BeginSendValue(dataType uint8, value any) error {
	encoded, err := od.EncodeFromTypeExact(value, dataType)
	if err != nil {
		return convertOdError(err)
	}
	r.BeginSend(encoded)
	return nil
}

// BeginReceiveValue starts receiving a value of dataType, the size is
// known for fixed size types
func (r *Request) BeginReceiveValue(dataType uint8) {
	size := od.DataTypeSize(dataType)
	r.BeginReceive(uint64(size), size > 0)
}

// AcceptValue receives a complete value of the data type given to
// [Request.BeginReceiveValue]. A value of the wrong length fails with
// [ErrLengthHigh] or [ErrLengthLow].
func (r *Request) AcceptValue(data []byte) error {
	if _, err := r.Accept(data); err != nil {
		if err == ErrSizeExceeded {
			return ErrLengthHigh
		}
		return err
	}
	return r.Finish()
}

// Value decodes the received value as dataType, see [od.DecodeToTypeExact]
func (r *Request) Value(dataType uint8) (any, error) {
	value, err := od.DecodeToTypeExact(r.Bytes(), dataType)
	if err != nil {
		return nil, convertOdError(err)
	}
	return value, nil
}
