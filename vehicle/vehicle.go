// Package vehicle composes the steering servo and the drive motors of the car
// behind Drive, Stop and Shutdown.
package vehicle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/physic"

	"jetcar/i2c"
	"jetcar/motor"
	"jetcar/pca9685"
	"jetcar/servo"
)

const (
	DefaultServoAddress uint16 = 0x40
	DefaultMotorAddress uint16 = 0x60

	DefaultServoFrequency = 50 * physic.Hertz
	DefaultMotorFrequency = 100 * physic.Hertz

	DefaultRetries = 2
)

var ErrShutdown = errors.New("vehicle: shut down")

type Config struct {
	ServoAddress    uint16
	MotorAddress    uint16
	Servo           pca9685.Config
	Motor           pca9685.Config
	SteeringChannel int
	Calibration     servo.Calibration
	Wiring          motor.Wiring
	// Retries is the number of extra attempts per actuator command after a
	// bus failure. Every attempt rewrites whole channels.
	Retries int
}

func DefaultConfig() Config {
	return Config{
		ServoAddress:    DefaultServoAddress,
		MotorAddress:    DefaultMotorAddress,
		Servo:           pca9685.ServoConfig(DefaultServoFrequency),
		Motor:           pca9685.MotorConfig(DefaultMotorFrequency),
		SteeringChannel: 0,
		Calibration:     servo.DefaultCalibration(),
		Wiring:          motor.DefaultWiring(),
		Retries:         DefaultRetries,
	}
}

func (c Config) Validate() error {
	if c.ServoAddress == c.MotorAddress {
		return fmt.Errorf("vehicle: servo and motor controllers share address 0x%02x", c.ServoAddress)
	}
	if c.Retries < 0 {
		return fmt.Errorf("vehicle: negative retry count %d", c.Retries)
	}
	if err := c.Calibration.Validate(); err != nil {
		return err
	}
	return c.Wiring.Validate()
}

type Status struct {
	Speed float64 `json:"speed"`
	Angle float64 `json:"angle"`
	State string  `json:"state"`
}

type Vehicle struct {
	mu       sync.Mutex
	bus      *i2c.Bus
	servoDev *pca9685.Dev
	motorDev *pca9685.Dev
	steering *servo.Servo
	drive    *motor.Pair
	retries  int
	shutdown bool
}

// New initializes both controllers on bus and returns a stopped, centered
// vehicle. On success the vehicle owns bus and Shutdown closes it.
func New(bus *i2c.Bus, cfg Config) (*Vehicle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	servoDev, err := pca9685.New(bus, cfg.ServoAddress, cfg.Servo)
	if err != nil {
		return nil, fmt.Errorf("vehicle: steering controller: %w", err)
	}
	motorDev, err := pca9685.New(bus, cfg.MotorAddress, cfg.Motor)
	if err != nil {
		return nil, fmt.Errorf("vehicle: motor controller: %w", err)
	}
	steering, err := servo.New(servoDev, cfg.SteeringChannel, cfg.Calibration)
	if err != nil {
		return nil, err
	}
	drive, err := motor.New(motorDev, cfg.Wiring)
	if err != nil {
		return nil, err
	}
	v := &Vehicle{
		bus:      bus,
		servoDev: servoDev,
		motorDev: motorDev,
		steering: steering,
		drive:    drive,
		retries:  cfg.Retries,
	}
	if err := v.stop(); err != nil {
		return nil, fmt.Errorf("vehicle: initial stop: %w", err)
	}
	glog.Infof("vehicle: ready on %s (steering %s, motors %s)", bus, servoDev, motorDev)
	return v, nil
}

// Drive commands speed then steering, both nominally in [-1, 1] and clamped
// otherwise. Both actuators are attempted; their errors are joined.
func (v *Vehicle) Drive(speed, steering float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shutdown {
		return ErrShutdown
	}
	speedErr := v.retry("speed", func() error { return v.drive.SetSpeed(speed) })
	steerErr := v.retry("steering", func() error { return v.steering.SetSteering(steering) })
	return errors.Join(speedErr, steerErr)
}

// SetAngle points the steering at angle degrees without touching the motors.
func (v *Vehicle) SetAngle(angle float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shutdown {
		return ErrShutdown
	}
	return v.retry("angle", func() error { return v.steering.SetAngle(angle) })
}

// Stop zeroes the motors then centers the steering. The bus stays open.
func (v *Vehicle) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shutdown {
		return ErrShutdown
	}
	return v.stop()
}

// Reset is Stop.
func (v *Vehicle) Reset() error {
	return v.Stop()
}

// Shutdown stops the vehicle and releases the bus. It must run once at end of
// life, including error and interrupt exits; later calls return nil.
func (v *Vehicle) Shutdown() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shutdown {
		return nil
	}
	v.shutdown = true
	stopErr := v.stop()
	v.servoDev.Shutdown()
	v.motorDev.Shutdown()
	closeErr := v.bus.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		glog.Errorf("vehicle: shutdown: %v", err)
		return err
	}
	glog.Info("vehicle: shut down")
	return nil
}

func (v *Vehicle) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	state := pca9685.Ready
	if v.shutdown {
		state = pca9685.Shutdown
	}
	return Status{
		Speed: v.drive.Speed(),
		Angle: v.steering.Angle(),
		State: state.String(),
	}
}

func (v *Vehicle) stop() error {
	speedErr := v.retry("stop motors", v.drive.Stop)
	steerErr := v.retry("center steering", func() error { return v.steering.SetSteering(0) })
	return errors.Join(speedErr, steerErr)
}

func (v *Vehicle) retry(op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= v.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		// only bus failures are transient
		var busErr *i2c.BusError
		if !errors.As(err, &busErr) {
			break
		}
		glog.Warningf("vehicle: %s attempt %d/%d: %v", op, attempt+1, v.retries+1, err)
	}
	return err
}
