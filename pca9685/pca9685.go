// Package pca9685 drives a 16-channel, 12-bit PCA9685 PWM generator over a
// shared I2C bus.
//
// A Dev only becomes usable once the reset, sleep, prescale and wake sequence
// has completed; channel writes issued in any other state fail with
// ErrNotReady.
package pca9685

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/physic"

	"jetcar/i2c"
)

const (
	_MODE1      uint8 = 0x00
	_MODE2      uint8 = 0x01
	_LED0_ON_L  uint8 = 0x06
	_PRE_SCALE  uint8 = 0xFE
	_SWRST      uint8 = 0x06 // reset command byte written to MODE1
	_RESTART    uint8 = 0x80
	_AI         uint8 = 0x20 // register auto-increment
	_SLEEP      uint8 = 0x10
	_ALLCALL    uint8 = 0x01
	_OUTDRV     uint8 = 0x04 // totem-pole outputs
	_HIGH_WIDTH uint8 = 0x1F // 4 count bits plus the full on/off bit
)

const (
	Channels   = 16
	Resolution = 4096
	MaxDuty    = Resolution - 1

	OscillatorFrequency = 25 * physic.MegaHertz

	minPrescale = 3
	maxPrescale = 255
)

type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Shutdown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Shutdown:
		return "shutdown"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config selects the PWM frequency and the mode bits a device is brought up
// with.
type Config struct {
	Frequency physic.Frequency
	// Oscillator defaults to OscillatorFrequency.
	Oscillator physic.Frequency
	// Mode1 bits set together with RESTART once the oscillator runs again.
	Mode1 uint8
	// Mode2 is written after wake when non-zero.
	Mode2         uint8
	AutoIncrement bool
	ResetDelay    time.Duration
	WakeDelay     time.Duration
}

// ServoConfig is the bring-up used for the steering servo controller.
func ServoConfig(freq physic.Frequency) Config {
	return Config{
		Frequency:     freq,
		Mode2:         _OUTDRV,
		AutoIncrement: true,
		ResetDelay:    100 * time.Millisecond,
		WakeDelay:     5 * time.Millisecond,
	}
}

// MotorConfig is the bring-up used for the H-bridge controller: burst writes
// and all-call answering enabled on wake.
func MotorConfig(freq physic.Frequency) Config {
	return Config{
		Frequency: freq,
		Mode1:     _AI | _ALLCALL,
		WakeDelay: 5 * time.Millisecond,
	}
}

func (c Config) oscillator() physic.Frequency {
	if c.Oscillator == 0 {
		return OscillatorFrequency
	}
	return c.Oscillator
}

// Prescale computes floor(osc / (4096 * freq) - 1), the divisor that yields
// freq from the reference oscillator.
func Prescale(osc, freq physic.Frequency) (uint8, error) {
	if freq <= 0 || osc <= 0 {
		return 0, fmt.Errorf("pca9685: invalid frequency %s from oscillator %s", freq, osc)
	}
	v := math.Floor(float64(osc)/(Resolution*float64(freq)) - 1)
	if v < minPrescale || v > maxPrescale {
		return 0, fmt.Errorf("pca9685: %s is out of range for oscillator %s (prescale %.0f)", freq, osc, v)
	}
	return uint8(v), nil
}

// Mode is the read-back of the operating mode registers.
type Mode struct {
	Mode1    uint8
	Mode2    uint8
	Prescale uint8
}

type Dev struct {
	mu    sync.RWMutex
	bus   *i2c.Bus
	addr  uint16
	cfg   Config
	state State
}

// New brings the device at addr into continuous PWM operation and returns it
// only once it is Ready.
func New(bus *i2c.Bus, addr uint16, cfg Config) (*Dev, error) {
	d := newDev(bus, addr, cfg)
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

func newDev(bus *i2c.Bus, addr uint16, cfg Config) *Dev {
	return &Dev{bus: bus, addr: addr, cfg: cfg}
}

func (d *Dev) String() string {
	return fmt.Sprintf("pca9685@0x%02x", d.addr)
}

func (d *Dev) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Init runs the full initialization sequence. Running it again on a Ready
// device leaves the same mode and prescale in place.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Shutdown {
		return ErrShutdown
	}
	d.state = Initializing
	if err := d.init(); err != nil {
		d.state = Uninitialized
		glog.Errorf("%s: %v", d, err)
		return err
	}
	d.state = Ready
	glog.Infof("%s: running at %s", d, d.cfg.Frequency)
	return nil
}

func (d *Dev) init() error {
	prescale, err := Prescale(d.cfg.oscillator(), d.cfg.Frequency)
	if err != nil {
		return d.initError("prescale", err)
	}
	if err := d.bus.WriteRegister(d.addr, _MODE1, _SWRST); err != nil {
		return d.initError("reset", err)
	}
	time.Sleep(d.cfg.ResetDelay)

	oldmode, err := d.bus.ReadRegister(d.addr, _MODE1)
	if err != nil {
		return d.initError("read mode", err)
	}
	// The oscillator has to be stopped before PRE_SCALE accepts a write.
	if err := d.bus.WriteRegister(d.addr, _MODE1, (oldmode&^_RESTART)|_SLEEP); err != nil {
		return d.initError("sleep", err)
	}
	if err := d.bus.WriteRegister(d.addr, _PRE_SCALE, prescale); err != nil {
		return d.initError("prescale", err)
	}
	if err := d.bus.WriteRegister(d.addr, _MODE1, oldmode); err != nil {
		return d.initError("wake", err)
	}
	time.Sleep(d.cfg.WakeDelay)

	if d.cfg.Mode2 != 0 {
		if err := d.bus.WriteRegister(d.addr, _MODE2, d.cfg.Mode2); err != nil {
			return d.initError("mode2", err)
		}
	}
	run := oldmode | _RESTART | d.cfg.Mode1
	if d.cfg.AutoIncrement {
		run |= _AI
	}
	if err := d.bus.WriteRegister(d.addr, _MODE1, run); err != nil {
		return d.initError("run", err)
	}
	return nil
}

func (d *Dev) initError(step string, err error) error {
	return &InitError{Address: d.addr, Step: step, Err: err}
}

// SetChannelDuty writes on and off counts for one channel as four single-byte
// transactions, LED_ON low/high then LED_OFF low/high, with the bus held for
// the whole update. Range checking of the counts is left to the caller; only
// the bits the device accepts are transmitted.
func (d *Dev) SetChannelDuty(channel int, on, off uint16) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state != Ready {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, d, d.state)
	}
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("%w: %d", ErrChannel, channel)
	}
	base := _LED0_ON_L + uint8(channel*4)
	values := [4]uint8{
		uint8(on), uint8(on>>8) & _HIGH_WIDTH,
		uint8(off), uint8(off>>8) & _HIGH_WIDTH,
	}
	written := 0
	err := d.bus.Exclusive(func(r i2c.Registers) error {
		for i, v := range values {
			if err := r.WriteRegister(d.addr, base+uint8(i), v); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return &ChannelError{Address: d.addr, Channel: channel, Written: written, Err: err}
	}
	if glog.V(3) {
		glog.Infof("%s: channel %d on=%d off=%d", d, channel, on, off)
	}
	return nil
}

// Duty reads back the on and off counts of a channel.
func (d *Dev) Duty(channel int) (on, off uint16, err error) {
	if channel < 0 || channel >= Channels {
		return 0, 0, fmt.Errorf("%w: %d", ErrChannel, channel)
	}
	base := _LED0_ON_L + uint8(channel*4)
	var values [4]uint8
	err = d.bus.Exclusive(func(r i2c.Registers) error {
		for i := range values {
			v, err := r.ReadRegister(d.addr, base+uint8(i))
			if err != nil {
				return err
			}
			values[i] = v
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	on = uint16(values[0]) | uint16(values[1])<<8
	off = uint16(values[2]) | uint16(values[3])<<8
	return on, off, nil
}

// Mode reads back MODE1, MODE2 and PRE_SCALE.
func (d *Dev) Mode() (Mode, error) {
	var m Mode
	err := d.bus.Exclusive(func(r i2c.Registers) error {
		var err error
		if m.Mode1, err = r.ReadRegister(d.addr, _MODE1); err != nil {
			return err
		}
		if m.Mode2, err = r.ReadRegister(d.addr, _MODE2); err != nil {
			return err
		}
		m.Prescale, err = r.ReadRegister(d.addr, _PRE_SCALE)
		return err
	})
	return m, err
}

// Shutdown moves the device to its terminal state. Channels are left as they
// are; callers zero them first.
func (d *Dev) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = Shutdown
}
