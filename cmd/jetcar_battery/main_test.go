package main

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/require"

	"jetcar/ups"
)

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, 3, ups.Status{
		BatteryVoltage: 11.4,
		CellVoltage:    3.8,
		Current:        -0.25,
		Power:          2.85,
		ChargePercents: 60,
	})
	require.Equal(t, "3S: 11.400 V\n1S: 3.800 V\nCurrent: 0.250 A\nPower: 2.850 W\nCharge: 60%\n**********\n", out.String())
}

func TestRunOnceOnSimulator(t *testing.T) {
	require.NoError(t, flag.Set("sim", "true"))
	require.NoError(t, flag.Set("once", "true"))
	t.Cleanup(func() {
		flag.Set("sim", "false")
		flag.Set("once", "false")
	})
	require.NoError(t, run())
}

func TestRunReturnsConfigError(t *testing.T) {
	require.NoError(t, flag.Set("config", "/nonexistent/jetcar.yaml"))
	t.Cleanup(func() { flag.Set("config", "") })
	require.Error(t, run())
}
