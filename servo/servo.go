// Package servo maps normalized steering commands onto the duty counts of a
// hobby servo attached to one PCA9685 channel.
package servo

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/golang/glog"

	"jetcar/pca9685"
)

// SteeringScale converts a normalized steering command to degrees before the
// MaxAngle clamp. It is smaller than the default MaxAngle of 140, so commands
// in [-1, 1] reach at most ±100° and the last part of the linkage travel is
// only reachable with inputs beyond the nominal range. Whether that margin is
// intended is an open product question; the scale-then-clamp order is kept.
const SteeringScale = 100.0

var ErrCalibration = errors.New("servo: invalid calibration")

// Calibration holds the three measured duty counts of the steering linkage.
// The two sides are interpolated independently, so Left and Right need not be
// symmetric around Center.
type Calibration struct {
	MaxAngle float64
	Center   uint16
	Left     uint16
	Right    uint16
}

// DefaultCalibration matches the stock JetCar steering linkage.
func DefaultCalibration() Calibration {
	return Calibration{
		MaxAngle: 140,
		Center:   320,
		Left:     320 - 140,
		Right:    320 + 140,
	}
}

// Validate rejects calibrations that would make the steering response
// non-monotonic. Left <= Center <= Right and its mirror are both accepted.
func (c Calibration) Validate() error {
	if c.MaxAngle <= 0 || math.IsNaN(c.MaxAngle) || math.IsInf(c.MaxAngle, 0) {
		return fmt.Errorf("%w: max angle %v", ErrCalibration, c.MaxAngle)
	}
	for _, v := range []uint16{c.Center, c.Left, c.Right} {
		if v > pca9685.MaxDuty {
			return fmt.Errorf("%w: duty %d exceeds %d", ErrCalibration, v, pca9685.MaxDuty)
		}
	}
	ascending := c.Left <= c.Center && c.Center <= c.Right
	descending := c.Right <= c.Center && c.Center <= c.Left
	if !ascending && !descending {
		return fmt.Errorf("%w: left %d, center %d, right %d are not ordered", ErrCalibration, c.Left, c.Center, c.Right)
	}
	return nil
}

// ClampAngle limits angle to [-MaxAngle, MaxAngle].
func (c Calibration) ClampAngle(angle float64) float64 {
	return min(max(angle, -c.MaxAngle), c.MaxAngle)
}

// AngleToPWM interpolates the duty count for angle, clamped to ±MaxAngle,
// rounded to the nearest count.
func (c Calibration) AngleToPWM(angle float64) uint16 {
	angle = c.ClampAngle(angle)
	center := float64(c.Center)
	var pwm float64
	switch {
	case angle < 0:
		pwm = center + (angle/c.MaxAngle)*(center-float64(c.Left))
	case angle > 0:
		pwm = center + (angle/c.MaxAngle)*(float64(c.Right)-center)
	default:
		return c.Center
	}
	return uint16(math.Round(min(max(pwm, 0), pca9685.MaxDuty)))
}

// Driver is the part of a PWM controller a servo needs.
type Driver interface {
	SetChannelDuty(channel int, on, off uint16) error
	State() pca9685.State
}

type Servo struct {
	mu      sync.Mutex
	dev     Driver
	channel int
	cal     Calibration
	angle   float64
}

// New binds a servo to one channel of an initialized driver.
func New(dev Driver, channel int, cal Calibration) (*Servo, error) {
	if state := dev.State(); state != pca9685.Ready {
		return nil, fmt.Errorf("servo: %w (driver is %s)", pca9685.ErrNotReady, state)
	}
	if channel < 0 || channel >= pca9685.Channels {
		return nil, fmt.Errorf("servo: %w: %d", pca9685.ErrChannel, channel)
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &Servo{dev: dev, channel: channel, cal: cal}, nil
}

// SetSteering commands a normalized steering position, nominally in [-1, 1].
// On error the servo keeps its last position, since the PWM output is
// free-running once written.
func (s *Servo) SetSteering(normalized float64) error {
	if math.IsNaN(normalized) {
		return fmt.Errorf("servo: steering command is NaN")
	}
	return s.SetAngle(normalized * SteeringScale)
}

// SetAngle commands a steering angle in degrees.
func (s *Servo) SetAngle(angle float64) error {
	if math.IsNaN(angle) {
		return fmt.Errorf("servo: angle command is NaN")
	}
	clamped := s.cal.ClampAngle(angle)
	if clamped != angle {
		glog.V(1).Infof("servo: angle %.1f clamped to %.1f", angle, clamped)
	}
	pwm := s.cal.AngleToPWM(clamped)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dev.SetChannelDuty(s.channel, 0, pwm); err != nil {
		return err
	}
	s.angle = clamped
	if glog.V(2) {
		glog.Infof("servo: angle %.1f pwm %d", clamped, pwm)
	}
	return nil
}

// Angle returns the last successfully commanded angle.
func (s *Servo) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}
