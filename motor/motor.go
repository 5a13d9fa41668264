// Package motor drives the two DC drive motors of the car through H-bridge
// channel triplets on one PCA9685.
package motor

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/golang/glog"

	"jetcar/pca9685"
)

var ErrWiring = errors.New("motor: invalid wiring")

// Triplet names the three channels of one H-bridge: two direction inputs and
// the enable (magnitude) input.
type Triplet struct {
	DirA   int `yaml:"dir_a"`
	DirB   int `yaml:"dir_b"`
	Enable int `yaml:"enable"`
}

func (t Triplet) channels() []int {
	return []int{t.DirA, t.DirB, t.Enable}
}

// Wiring maps both motors onto controller channels. Managed is the number of
// channels, starting at 0, that Stop zeroes.
type Wiring struct {
	Right   Triplet `yaml:"right"`
	Left    Triplet `yaml:"left"`
	Managed int     `yaml:"managed"`
}

// DefaultWiring is the JetCar motor hat: IN1/IN2/ENA on 0-2 for the right
// motor and ENB/IN4/IN3 on 5-7 for the left one. The left triplet is mounted
// with mirrored polarity so the same pattern drives both wheels forward.
func DefaultWiring() Wiring {
	return Wiring{
		Right:   Triplet{DirA: 0, DirB: 1, Enable: 2},
		Left:    Triplet{DirA: 7, DirB: 6, Enable: 5},
		Managed: 9,
	}
}

func (w Wiring) Validate() error {
	if w.Managed <= 0 || w.Managed > pca9685.Channels {
		return fmt.Errorf("%w: %d managed channels", ErrWiring, w.Managed)
	}
	seen := make(map[int]bool)
	for _, ch := range append(w.Right.channels(), w.Left.channels()...) {
		if ch < 0 || ch >= w.Managed {
			return fmt.Errorf("%w: channel %d outside managed range 0-%d", ErrWiring, ch, w.Managed-1)
		}
		if seen[ch] {
			return fmt.Errorf("%w: channel %d used twice", ErrWiring, ch)
		}
		seen[ch] = true
	}
	return nil
}

type Direction int

const (
	Stopped Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return "stopped"
}

// Pattern holds the off counts written to one motor triplet.
type Pattern struct {
	DirA, DirB, Enable uint16
}

// Magnitude is round(|speed| * 4095) with speed clamped to [-1, 1].
func Magnitude(speed float64) uint16 {
	return uint16(math.Round(math.Abs(clamp(speed)) * pca9685.MaxDuty))
}

// Command returns the direction and triplet pattern shared by both motors for
// a normalized speed. Forward sets DirA and Enable, backward sets both
// direction inputs with Enable low; the two never overlap.
func Command(speed float64) (Direction, Pattern) {
	speed = clamp(speed)
	m := Magnitude(speed)
	switch {
	case speed > 0:
		return Forward, Pattern{DirA: m, DirB: 0, Enable: m}
	case speed < 0:
		return Backward, Pattern{DirA: m, DirB: m, Enable: 0}
	}
	return Stopped, Pattern{}
}

func clamp(v float64) float64 {
	return min(max(v, -1), 1)
}

// Driver is the part of a PWM controller the motors need.
type Driver interface {
	SetChannelDuty(channel int, on, off uint16) error
	State() pca9685.State
}

type Pair struct {
	mu     sync.Mutex
	dev    Driver
	wiring Wiring
	speed  float64
}

// New binds both motors to an initialized driver.
func New(dev Driver, wiring Wiring) (*Pair, error) {
	if state := dev.State(); state != pca9685.Ready {
		return nil, fmt.Errorf("motor: %w (driver is %s)", pca9685.ErrNotReady, state)
	}
	if err := wiring.Validate(); err != nil {
		return nil, err
	}
	return &Pair{dev: dev, wiring: wiring}, nil
}

// SetSpeed commands both motors with a normalized speed, nominally in
// [-1, 1]. Channels are written one at a time; a failure part way leaves the
// motors in an inconsistent state until the next successful call.
func (p *Pair) SetSpeed(normalized float64) error {
	if math.IsNaN(normalized) {
		return fmt.Errorf("motor: speed command is NaN")
	}
	speed := clamp(normalized)
	if speed != normalized {
		glog.V(1).Infof("motor: speed %.3f clamped to %.3f", normalized, speed)
	}
	dir, pattern := Command(speed)

	p.mu.Lock()
	defer p.mu.Unlock()
	if dir == Stopped {
		if err := p.stopAll(); err != nil {
			return err
		}
	} else {
		if err := p.apply("right", p.wiring.Right, pattern); err != nil {
			return err
		}
		if err := p.apply("left", p.wiring.Left, pattern); err != nil {
			return err
		}
	}
	p.speed = speed
	if glog.V(2) {
		glog.Infof("motor: %s %+v", dir, pattern)
	}
	return nil
}

// Stop zeroes every managed channel.
func (p *Pair) Stop() error {
	return p.SetSpeed(0)
}

// Speed returns the last successfully commanded speed.
func (p *Pair) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

func (p *Pair) apply(side string, t Triplet, pattern Pattern) error {
	for _, w := range []struct {
		channel int
		value   uint16
	}{
		{t.DirA, pattern.DirA},
		{t.DirB, pattern.DirB},
		{t.Enable, pattern.Enable},
	} {
		if err := p.dev.SetChannelDuty(w.channel, 0, w.value); err != nil {
			return fmt.Errorf("motor: %s motor: %w", side, err)
		}
	}
	return nil
}

func (p *Pair) stopAll() error {
	for ch := 0; ch < p.wiring.Managed; ch++ {
		if err := p.dev.SetChannelDuty(ch, 0, 0); err != nil {
			return fmt.Errorf("motor: stop: %w", err)
		}
	}
	return nil
}
