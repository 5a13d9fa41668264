package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"jetcar/motor"
	"jetcar/servo"
)

const testYaml = `
bus:
  number: 8
servo:
  address: 0x42
  center_pwm: 330
  left_pwm: 200
  right_pwm: 470
motor:
  address: 0x61
  frequency_hz: 60
  wiring:
    left:
      dir_a: 5
      dir_b: 6
      enable: 7
retries: 4
battery:
  enabled: false
  period: 500ms
`

func TestConfigParsing(t *testing.T) {
	Convey("defaults are valid", t, func() {
		cfg := Default()
		So(cfg.Validate(), ShouldBeNil)
		So(cfg.Vehicle().Calibration, ShouldResemble, servo.DefaultCalibration())
		So(cfg.Vehicle().Wiring, ShouldResemble, motor.DefaultWiring())
	})

	Convey("parsing is successful", t, func() {
		cfg, err := Decode([]byte(testYaml))
		So(err, ShouldBeNil)

		Convey("addresses accept hex", func() {
			So(cfg.Servo.Address, ShouldEqual, 0x42)
			So(cfg.Motor.Address, ShouldEqual, 0x61)
		})

		Convey("unset fields keep their defaults", func() {
			So(cfg.Servo.MaxAngle, ShouldEqual, 140.0)
			So(cfg.Servo.FrequencyHz, ShouldEqual, 50.0)
			So(cfg.Motor.Wiring.Right, ShouldResemble, motor.DefaultWiring().Right)
			So(cfg.Server.Address, ShouldEqual, ":1337")
		})

		Convey("vehicle config carries the calibration", func() {
			v := cfg.Vehicle()
			So(v.ServoAddress, ShouldEqual, uint16(0x42))
			So(v.Calibration, ShouldResemble, servo.Calibration{MaxAngle: 140, Center: 330, Left: 200, Right: 470})
			So(v.Wiring.Left, ShouldResemble, motor.Triplet{DirA: 5, DirB: 6, Enable: 7})
			So(v.Retries, ShouldEqual, 4)
		})

		Convey("durations parse", func() {
			So(cfg.Battery.Period, ShouldEqual, 500*time.Millisecond)
		})
	})

	Convey("invalid configurations are rejected", t, func() {
		_, err := Decode([]byte("servo:\n  left_pwm: 400\n"))
		So(err, ShouldNotBeNil)

		_, err = Decode([]byte("motor:\n  address: 0x40\n"))
		So(err, ShouldNotBeNil)

		_, err = Decode([]byte("servo:\n  frequency_hz: 5000\n"))
		So(err, ShouldNotBeNil)

		_, err = Decode([]byte("servo:\n  address: 0x90\n"))
		So(err, ShouldNotBeNil)

		_, err = Decode([]byte("motor:\n  wiring:\n    managed: 4\n"))
		So(err, ShouldNotBeNil)
	})
}

func TestLoadAppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jetcar.yaml")
	if err := os.WriteFile(path, []byte(testYaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JETCAR_CENTER_PWM", "340")
	t.Setenv("JETCAR_SIM", "true")

	Convey("environment overrides the file", t, func() {
		cfg, err := Load(path)
		So(err, ShouldBeNil)
		So(cfg.Servo.CenterPWM, ShouldEqual, 340)
		So(cfg.Servo.LeftPWM, ShouldEqual, 200)
		So(cfg.Bus.Sim, ShouldBeTrue)

		Convey("and the simulated bus answers on the configured addresses", func() {
			bus, err := cfg.OpenBus()
			So(err, ShouldBeNil)
			So(bus.WriteRegister(0x61, 0x00, 0x06), ShouldBeNil)
			So(bus.Close(), ShouldBeNil)
		})
	})

	Convey("missing file fails", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		So(err, ShouldNotBeNil)
	})
}
