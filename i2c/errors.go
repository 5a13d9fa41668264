package i2c

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("i2c: bus is closed")

type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// BusError reports a failed register transaction: NACK, addressing failure,
// timeout reported by the transport or a closed bus.
type BusError struct {
	Address  uint16
	Register uint8
	Op       Op
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("i2c: %s 0x%02x register 0x%02x: %v", e.Op, e.Address, e.Register, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}
