package servo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"jetcar/pca9685"
)

type write struct {
	channel int
	on, off uint16
}

type fakeDriver struct {
	state  pca9685.State
	writes []write
	err    error
}

func (f *fakeDriver) SetChannelDuty(channel int, on, off uint16) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, write{channel, on, off})
	return nil
}

func (f *fakeDriver) State() pca9685.State {
	return f.state
}

func TestAngleToPWM(t *testing.T) {
	cal := Calibration{MaxAngle: 140, Center: 320, Left: 180, Right: 460}
	tests := []struct {
		angle float64
		want  uint16
	}{
		{0, 320},
		{100, 420},
		{-100, 220},
		{140, 460},
		{-140, 180},
		{500, 460},
		{-500, 180},
		{70, 390},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, cal.AngleToPWM(tt.angle), "angle %v", tt.angle)
	}
}

func TestAngleToPWMAsymmetricAndRounded(t *testing.T) {
	cal := Calibration{MaxAngle: 140, Center: 320, Left: 250, Right: 461}
	// 320 + 100/140*141 = 420.71
	require.Equal(t, uint16(421), cal.AngleToPWM(100))
	// 320 - 100/140*70 = 270
	require.Equal(t, uint16(270), cal.AngleToPWM(-100))
}

func TestAngleToPWMMonotonic(t *testing.T) {
	cal := Calibration{MaxAngle: 140, Center: 300, Left: 150, Right: 480}
	prev := cal.AngleToPWM(-200)
	for a := -200.0; a <= 200; a += 0.25 {
		pwm := cal.AngleToPWM(a)
		require.GreaterOrEqual(t, pwm, prev, "angle %v", a)
		prev = pwm
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultCalibration().Validate())
	require.NoError(t, Calibration{MaxAngle: 140, Center: 320, Left: 460, Right: 180}.Validate())
	require.NoError(t, Calibration{MaxAngle: 90, Center: 320, Left: 320, Right: 320}.Validate())

	bad := []Calibration{
		{MaxAngle: 140, Center: 500, Left: 180, Right: 460},
		{MaxAngle: 140, Center: 100, Left: 180, Right: 460},
		{MaxAngle: 0, Center: 320, Left: 180, Right: 460},
		{MaxAngle: 140, Center: 320, Left: 180, Right: 5000},
	}
	for _, c := range bad {
		require.ErrorIs(t, c.Validate(), ErrCalibration, "%+v", c)
	}
}

func TestSetSteering(t *testing.T) {
	dev := &fakeDriver{state: pca9685.Ready}
	s, err := New(dev, 0, Calibration{MaxAngle: 140, Center: 320, Left: 180, Right: 460})
	require.NoError(t, err)

	require.NoError(t, s.SetSteering(1.0))
	require.Equal(t, write{0, 0, 420}, dev.writes[0])
	require.Equal(t, 100.0, s.Angle())

	require.NoError(t, s.SetSteering(0))
	require.Equal(t, write{0, 0, 320}, dev.writes[1])

	require.NoError(t, s.SetSteering(-0.0))
	require.Equal(t, write{0, 0, 320}, dev.writes[2])

	// beyond the nominal range the clamp reaches the mechanical end
	require.NoError(t, s.SetSteering(2.0))
	require.Equal(t, write{0, 0, 460}, dev.writes[3])
	require.Equal(t, 140.0, s.Angle())

	require.Error(t, s.SetSteering(math.NaN()))
	require.Len(t, dev.writes, 4)
}

func TestSetSteeringKeepsLastAngleOnError(t *testing.T) {
	dev := &fakeDriver{state: pca9685.Ready}
	s, err := New(dev, 0, DefaultCalibration())
	require.NoError(t, err)
	require.NoError(t, s.SetSteering(0.5))

	dev.err = errors.New("nack")
	require.Error(t, s.SetSteering(-1))
	require.Equal(t, 50.0, s.Angle())
}

func TestNewRequiresReadyDriver(t *testing.T) {
	_, err := New(&fakeDriver{state: pca9685.Uninitialized}, 0, DefaultCalibration())
	require.ErrorIs(t, err, pca9685.ErrNotReady)

	_, err = New(&fakeDriver{state: pca9685.Ready}, 16, DefaultCalibration())
	require.ErrorIs(t, err, pca9685.ErrChannel)

	_, err = New(&fakeDriver{state: pca9685.Ready}, 0, Calibration{MaxAngle: 140, Center: 10, Left: 20, Right: 30})
	require.ErrorIs(t, err, ErrCalibration)
}

func TestSetAngleRejectsNaN(t *testing.T) {
	dev := &fakeDriver{state: pca9685.Ready}
	s, err := New(dev, 0, DefaultCalibration())
	require.NoError(t, err)
	require.NoError(t, s.SetAngle(30))

	require.Error(t, s.SetAngle(math.NaN()))
	require.Len(t, dev.writes, 1)
	require.Equal(t, 30.0, s.Angle())
}
