package i2c

import (
	"io"
	"sync"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/i2c"
)

type BusNumber int

// Bus1 is the header bus the JetCar hats sit on.
const Bus1 BusNumber = 1

const DevicePath = "/dev/i2c-%d"

// Registers is the register access available to a caller holding the bus.
type Registers interface {
	WriteRegister(address uint16, register, value uint8) error
	ReadRegister(address uint16, register uint8) (uint8, error)
}

// Bus serializes every transaction to one physical I2C bus. It is shared by
// all device drivers attached to that bus.
type Bus struct {
	mu     sync.Mutex
	conn   i2c.Bus
	closer io.Closer
	closed bool
}

// New wraps an already opened periph bus. If conn also implements io.Closer
// it is closed by Close.
func New(conn i2c.Bus) *Bus {
	b := &Bus{conn: conn}
	if c, ok := conn.(io.Closer); ok {
		b.closer = c
	}
	return b
}

func (b *Bus) String() string {
	return b.conn.String()
}

func (b *Bus) WriteRegister(address uint16, register, value uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeRegister(address, register, value)
}

func (b *Bus) ReadRegister(address uint16, register uint8) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readRegister(address, register)
}

// ReadWord reads a big-endian 16-bit register.
func (b *Bus) ReadWord(address uint16, register uint8) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, &BusError{Address: address, Register: register, Op: OpRead, Err: ErrClosed}
	}
	buf := []uint8{0, 0}
	if err := b.conn.Tx(address, []uint8{register}, buf); err != nil {
		return 0, &BusError{Address: address, Register: register, Op: OpRead, Err: err}
	}
	return (uint16(buf[0]) << 8) | uint16(buf[1]), nil
}

// WriteWord writes a big-endian 16-bit register.
func (b *Bus) WriteWord(address uint16, register uint8, data uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &BusError{Address: address, Register: register, Op: OpWrite, Err: ErrClosed}
	}
	buf := []uint8{register, uint8(data >> 8), uint8(data)}
	if err := b.conn.Tx(address, buf, nil); err != nil {
		return &BusError{Address: address, Register: register, Op: OpWrite, Err: err}
	}
	return nil
}

// Exclusive runs fn with the bus held, so that a multi-byte update to one
// device is never interleaved with transactions to another.
func (b *Bus) Exclusive(fn func(r Registers) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(held{b})
}

// Close releases the underlying bus handle. Subsequent transactions fail with
// ErrClosed. Calling Close more than once is harmless.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	glog.V(1).Infof("i2c: releasing %s", b.conn)
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) writeRegister(address uint16, register, value uint8) error {
	if b.closed {
		return &BusError{Address: address, Register: register, Op: OpWrite, Err: ErrClosed}
	}
	if err := b.conn.Tx(address, []uint8{register, value}, nil); err != nil {
		return &BusError{Address: address, Register: register, Op: OpWrite, Err: err}
	}
	return nil
}

func (b *Bus) readRegister(address uint16, register uint8) (uint8, error) {
	if b.closed {
		return 0, &BusError{Address: address, Register: register, Op: OpRead, Err: ErrClosed}
	}
	buf := []uint8{0}
	if err := b.conn.Tx(address, []uint8{register}, buf); err != nil {
		return 0, &BusError{Address: address, Register: register, Op: OpRead, Err: err}
	}
	return buf[0], nil
}

// held gives Exclusive callers lock-free access while b.mu is already taken.
type held struct {
	b *Bus
}

func (h held) WriteRegister(address uint16, register, value uint8) error {
	return h.b.writeRegister(address, register, value)
}

func (h held) ReadRegister(address uint16, register uint8) (uint8, error) {
	return h.b.readRegister(address, register)
}
