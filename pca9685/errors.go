package pca9685

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady = errors.New("pca9685: device is not initialized")
	ErrShutdown = errors.New("pca9685: device is shut down")
	ErrChannel  = errors.New("pca9685: channel out of range")
)

// InitError reports the initialization step that failed. A device that
// returned it is not functional.
type InitError struct {
	Address uint16
	Step    string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("pca9685 0x%02x: init %s: %v", e.Address, e.Step, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ChannelError reports a channel update that did not complete. When Written
// is non-zero the channel holds a mix of old and new bytes and has to be
// rewritten before its output means anything.
type ChannelError struct {
	Address uint16
	Channel int
	Written int
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("pca9685 0x%02x: channel %d: %d of 4 registers written: %v",
		e.Address, e.Channel, e.Written, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Partial reports whether the channel is left in an unknown state.
func (e *ChannelError) Partial() bool {
	return e.Written > 0
}
