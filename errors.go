package canopen

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrNoBus           = errors.New("no bus attached")
)
