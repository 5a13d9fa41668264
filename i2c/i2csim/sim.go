// Package i2csim simulates register-file devices behind a periph i2c.Bus.
//
// Writes store their payload starting at the addressed register and reads
// return consecutive registers, which is how the PCA9685 and INA219 behave
// with auto-increment enabled. It backs the unit tests and the -sim dry-run
// mode of the commands.
package i2csim

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

var (
	ErrNoDevice = errors.New("i2csim: no device acknowledged address")
	ErrInjected = errors.New("i2csim: injected transaction failure")
	ErrClosed   = errors.New("i2csim: bus closed")
)

// Transaction is one recorded Tx call.
type Transaction struct {
	Addr uint16
	W    []byte
	R    int
}

// Fault fails transactions addressed to Register on Address. Count limits
// the number of failures; zero fails until ClearFaults.
type Fault struct {
	Address  uint16
	Register uint8
	Count    int
}

type Sim struct {
	mu      sync.Mutex
	devices map[uint16]*[256]uint8
	log     []Transaction
	faults  []*Fault
	closed  bool
}

// New returns a simulator answering on the given addresses.
func New(addresses ...uint16) *Sim {
	s := &Sim{devices: make(map[uint16]*[256]uint8)}
	for _, a := range addresses {
		s.devices[a] = &[256]uint8{}
	}
	return s
}

func (s *Sim) String() string {
	return "i2csim"
}

func (s *Sim) SetSpeed(f physic.Frequency) error {
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sim) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	regs, ok := s.devices[addr]
	if !ok {
		return fmt.Errorf("%w 0x%02x", ErrNoDevice, addr)
	}
	if len(w) == 0 {
		return errors.New("i2csim: transaction without register address")
	}
	reg := w[0]
	if s.fault(addr, reg) {
		return ErrInjected
	}
	t := Transaction{Addr: addr, W: append([]byte(nil), w...), R: len(r)}
	s.log = append(s.log, t)
	for i, b := range w[1:] {
		regs[uint8(int(reg)+i)] = b
	}
	for i := range r {
		r[i] = regs[uint8(int(reg)+i)]
	}
	return nil
}

func (s *Sim) fault(addr uint16, reg uint8) bool {
	for i, f := range s.faults {
		if f.Address != addr || f.Register != reg {
			continue
		}
		if f.Count > 0 {
			f.Count--
			if f.Count == 0 {
				s.faults = append(s.faults[:i], s.faults[i+1:]...)
			}
		}
		return true
	}
	return false
}

func (s *Sim) Fail(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

func (s *Sim) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Register returns the stored value of one register.
func (s *Sim) Register(addr uint16, reg uint8) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if regs, ok := s.devices[addr]; ok {
		return regs[reg]
	}
	return 0
}

func (s *Sim) SetRegister(addr uint16, reg, value uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if regs, ok := s.devices[addr]; ok {
		regs[reg] = value
	}
}

// Transactions returns a copy of the recorded successful transactions.
func (s *Sim) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transaction(nil), s.log...)
}

func (s *Sim) ResetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
}
