// Package config loads the car configuration: built-in defaults, then an
// optional YAML file, then JETCAR_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"
	"periph.io/x/conn/v3/physic"

	"jetcar/i2c"
	"jetcar/i2c/i2csim"
	"jetcar/motor"
	"jetcar/pca9685"
	"jetcar/servo"
	"jetcar/vehicle"
)

type Config struct {
	Bus     Bus     `yaml:"bus"`
	Servo   Servo   `yaml:"servo"`
	Motor   Motor   `yaml:"motor"`
	Retries int     `yaml:"retries" env:"JETCAR_RETRIES"`
	Server  Server  `yaml:"server"`
	Battery Battery `yaml:"battery"`
}

// Bus selects the I2C bus. Name, when set, goes through the periph registry;
// otherwise /dev/i2c-<Number> is opened directly. Sim replaces the hardware
// with the register simulator.
type Bus struct {
	Number int    `yaml:"number" env:"JETCAR_I2C_BUS"`
	Name   string `yaml:"name" env:"JETCAR_I2C_NAME"`
	Sim    bool   `yaml:"sim" env:"JETCAR_SIM"`
}

type Servo struct {
	Address     int     `yaml:"address" env:"JETCAR_SERVO_ADDRESS"`
	Channel     int     `yaml:"channel" env:"JETCAR_STEERING_CHANNEL"`
	FrequencyHz float64 `yaml:"frequency_hz" env:"JETCAR_SERVO_FREQUENCY_HZ"`
	MaxAngle    float64 `yaml:"max_angle" env:"JETCAR_MAX_ANGLE"`
	CenterPWM   int     `yaml:"center_pwm" env:"JETCAR_CENTER_PWM"`
	LeftPWM     int     `yaml:"left_pwm" env:"JETCAR_LEFT_PWM"`
	RightPWM    int     `yaml:"right_pwm" env:"JETCAR_RIGHT_PWM"`
}

type Motor struct {
	Address     int          `yaml:"address" env:"JETCAR_MOTOR_ADDRESS"`
	FrequencyHz float64      `yaml:"frequency_hz" env:"JETCAR_MOTOR_FREQUENCY_HZ"`
	Wiring      motor.Wiring `yaml:"wiring"`
}

type Server struct {
	Address string        `yaml:"address" env:"JETCAR_SERVER_ADDRESS"`
	Timeout time.Duration `yaml:"timeout" env:"JETCAR_SERVER_TIMEOUT"`
	Public  string        `yaml:"public" env:"JETCAR_SERVER_PUBLIC"`
}

// Battery configures the INA219 on the 3S pack.
type Battery struct {
	Enabled bool          `yaml:"enabled" env:"JETCAR_BATTERY"`
	Address int           `yaml:"address" env:"JETCAR_BATTERY_ADDRESS"`
	Cells   int           `yaml:"cells" env:"JETCAR_BATTERY_CELLS"`
	Period  time.Duration `yaml:"period" env:"JETCAR_BATTERY_PERIOD"`
}

func Default() *Config {
	cal := servo.DefaultCalibration()
	return &Config{
		Bus: Bus{Number: int(i2c.Bus1)},
		Servo: Servo{
			Address:     int(vehicle.DefaultServoAddress),
			Channel:     0,
			FrequencyHz: 50,
			MaxAngle:    cal.MaxAngle,
			CenterPWM:   int(cal.Center),
			LeftPWM:     int(cal.Left),
			RightPWM:    int(cal.Right),
		},
		Motor: Motor{
			Address:     int(vehicle.DefaultMotorAddress),
			FrequencyHz: 100,
			Wiring:      motor.DefaultWiring(),
		},
		Retries: vehicle.DefaultRetries,
		Server: Server{
			Address: ":1337",
			Timeout: time.Second,
			Public:  "./public",
		},
		Battery: Battery{
			Enabled: true,
			Address: 0x41,
			Cells:   3,
			Period:  time.Second,
		},
	}
}

// Load reads path, when not empty, over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses YAML over the defaults without consulting the environment.
func Decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for name, addr := range map[string]int{
		"servo":   c.Servo.Address,
		"motor":   c.Motor.Address,
		"battery": c.Battery.Address,
	} {
		if addr < 0x03 || addr > 0x77 {
			return fmt.Errorf("config: %s address 0x%02x is not a 7-bit device address", name, addr)
		}
	}
	for name, hz := range map[string]float64{"servo": c.Servo.FrequencyHz, "motor": c.Motor.FrequencyHz} {
		if _, err := pca9685.Prescale(pca9685.OscillatorFrequency, hertz(hz)); err != nil {
			return fmt.Errorf("config: %s frequency: %w", name, err)
		}
	}
	for name, pwm := range map[string]int{
		"center_pwm": c.Servo.CenterPWM,
		"left_pwm":   c.Servo.LeftPWM,
		"right_pwm":  c.Servo.RightPWM,
	} {
		if pwm < 0 || pwm > pca9685.MaxDuty {
			return fmt.Errorf("config: servo %s %d outside 0-%d", name, pwm, pca9685.MaxDuty)
		}
	}
	if c.Battery.Enabled && (c.Battery.Period <= 0 || c.Battery.Cells <= 0) {
		return fmt.Errorf("config: battery needs a positive period and cell count")
	}
	if c.Battery.Enabled && (c.Battery.Address == c.Servo.Address || c.Battery.Address == c.Motor.Address) {
		return fmt.Errorf("config: battery monitor shares address 0x%02x", c.Battery.Address)
	}
	return c.Vehicle().Validate()
}

// Vehicle converts the file layout into the vehicle builder configuration.
func (c *Config) Vehicle() vehicle.Config {
	v := vehicle.DefaultConfig()
	v.ServoAddress = uint16(c.Servo.Address)
	v.MotorAddress = uint16(c.Motor.Address)
	v.Servo = pca9685.ServoConfig(hertz(c.Servo.FrequencyHz))
	v.Motor = pca9685.MotorConfig(hertz(c.Motor.FrequencyHz))
	v.SteeringChannel = c.Servo.Channel
	v.Calibration = servo.Calibration{
		MaxAngle: c.Servo.MaxAngle,
		Center:   uint16(c.Servo.CenterPWM),
		Left:     uint16(c.Servo.LeftPWM),
		Right:    uint16(c.Servo.RightPWM),
	}
	v.Wiring = c.Motor.Wiring
	v.Retries = c.Retries
	return v
}

// OpenBus opens the configured bus.
func (c *Config) OpenBus() (*i2c.Bus, error) {
	switch {
	case c.Bus.Sim:
		return i2c.New(i2csim.New(
			uint16(c.Servo.Address), uint16(c.Motor.Address), uint16(c.Battery.Address))), nil
	case c.Bus.Name != "":
		return i2c.OpenNamed(c.Bus.Name)
	}
	return i2c.Open(i2c.BusNumber(c.Bus.Number))
}

func hertz(hz float64) physic.Frequency {
	return physic.Frequency(hz * float64(physic.Hertz))
}
