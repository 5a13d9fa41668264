package ups

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"jetcar/i2c"
	"jetcar/i2c/i2csim"
)

func TestChargePercents(t *testing.T) {
	require.Equal(t, 0.0, ChargePercents(3.2))
	require.Equal(t, 100.0, ChargePercents(4.2))
	require.InDelta(t, 50.0, ChargePercents(3.75), 1e-9)
}

func TestPoll(t *testing.T) {
	cal := i2ctest.IO{Addr: 0x41, W: []byte{0x05, 0x10, 0x00}}
	p := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			cal,
			{Addr: 0x41, W: []byte{0x00, 0x3E, 0xEF}},
			cal,
			{Addr: 0x41, W: []byte{0x01}, R: []byte{0x00, 0x00}},
			cal,
			// 11.4V
			{Addr: 0x41, W: []byte{0x02}, R: []byte{0x59, 0x10}},
			{Addr: 0x41, W: []byte{0x04}, R: []byte{0xFC, 0x18}},
			{Addr: 0x41, W: []byte{0x03}, R: []byte{0x00, 0x64}},
		},
		DontPanic: true,
	}
	m, err := NewMonitor(i2c.New(p), 0x41, 3)
	require.NoError(t, err)
	require.False(t, m.Status().Valid)

	require.NoError(t, m.Poll())
	s := m.Status()
	require.True(t, s.Valid)
	require.InDelta(t, 11.4, s.BatteryVoltage, 1e-9)
	require.InDelta(t, 3.8, s.CellVoltage, 1e-9)
	require.InDelta(t, 60.0, s.ChargePercents, 1e-6)
	require.InDelta(t, -0.1, s.Current, 1e-9)
	require.NoError(t, p.Close())
}

func TestRunAndStop(t *testing.T) {
	sim := i2csim.New(0x40, 0x41)
	bus := i2c.New(sim)
	m, err := NewMonitor(bus, 0x41, 3)
	require.NoError(t, err)

	m.Start(time.Millisecond)
	require.Eventually(t, func() bool { return m.Status().Valid }, time.Second, time.Millisecond)

	// the vehicle keeps using the same bus while the monitor polls
	for i := 0; i < 20; i++ {
		require.NoError(t, bus.WriteRegister(0x40, 0x06, uint8(i)))
	}
	m.Stop()
	m.Stop()
}

func TestStopWithoutRun(t *testing.T) {
	m, err := NewMonitor(i2c.New(i2csim.New(0x41)), 0x41, 3)
	require.NoError(t, err)
	m.Stop()
}

func TestStopRightAfterStartWaitsForPoller(t *testing.T) {
	sim := i2csim.New(0x41)
	bus := i2c.New(sim)
	m, err := NewMonitor(bus, 0x41, 3)
	require.NoError(t, err)

	m.Start(time.Millisecond)
	m.Stop()
	sim.ResetLog()
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sim.Transactions())

	// a stopped monitor does not start again
	m.Start(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sim.Transactions())
}
