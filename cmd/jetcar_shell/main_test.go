package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"jetcar/i2c"
	"jetcar/i2c/i2csim"
	"jetcar/vehicle"
)

type fakeShell struct {
	closed bool
}

func (f *fakeShell) Close() {
	f.closed = true
}

func newCar(t *testing.T) (*vehicle.Vehicle, *i2csim.Sim) {
	cfg := vehicle.DefaultConfig()
	cfg.Servo.ResetDelay, cfg.Servo.WakeDelay = 0, 0
	cfg.Motor.ResetDelay, cfg.Motor.WakeDelay = 0, 0
	sim := i2csim.New(cfg.ServoAddress, cfg.MotorAddress)
	car, err := vehicle.New(i2c.New(sim), cfg)
	require.NoError(t, err)
	return car, sim
}

func TestSignalShutsDownRunningCar(t *testing.T) {
	car, sim := newCar(t)
	require.NoError(t, car.Drive(1, 0))
	require.Equal(t, uint8(0xff), sim.Register(vehicle.DefaultMotorAddress, 0x06+4*2+2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shell := &fakeShell{}
	releaseOnSignal(ctx, make(chan struct{}), car, shell)

	require.True(t, shell.closed)
	require.True(t, sim.Closed())
	require.Equal(t, "shutdown", car.Status().State)
	for ch := 0; ch < 9; ch++ {
		base := uint8(0x06 + 4*ch)
		require.Zero(t, sim.Register(vehicle.DefaultMotorAddress, base+2), "channel %d", ch)
		require.Zero(t, sim.Register(vehicle.DefaultMotorAddress, base+3), "channel %d", ch)
	}
	require.ErrorIs(t, car.Drive(1, 0), vehicle.ErrShutdown)
}

func TestQuitLeavesCarToCaller(t *testing.T) {
	car, sim := newCar(t)
	quit := make(chan struct{})
	close(quit)
	shell := &fakeShell{}
	releaseOnSignal(context.Background(), quit, car, shell)

	require.False(t, shell.closed)
	require.False(t, sim.Closed())
	require.Equal(t, "ready", car.Status().State)
	require.NoError(t, car.Shutdown())
}
