//go:build !linux
// +build !linux

package i2c

import (
	"errors"
)

var noImplementationError = errors.New("There is no implementation of i2c bus for this platform!")

func Open(busNumber BusNumber) (*Bus, error) {
	return nil, noImplementationError
}
