package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"jetcar/command"
	"jetcar/i2c"
	"jetcar/i2c/i2csim"
	"jetcar/vehicle"
)

func newTestServer(t *testing.T, timeout time.Duration) (*server, *i2csim.Sim, string) {
	cfg := vehicle.DefaultConfig()
	cfg.Servo.ResetDelay, cfg.Servo.WakeDelay = 0, 0
	cfg.Motor.ResetDelay, cfg.Motor.WakeDelay = 0, 0
	sim := i2csim.New(cfg.ServoAddress, cfg.MotorAddress)
	car, err := vehicle.New(i2c.New(sim), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { car.Shutdown() })

	s := &server{car: car, timeout: timeout}
	ts := httptest.NewServer(http.HandlerFunc(s.serveWSRequest))
	t.Cleanup(ts.Close)
	return s, sim, "ws" + strings.TrimPrefix(ts.URL, "http")
}

// dirCount reads the first direction channel of the right motor, which is
// driven in both directions.
func dirCount(sim *i2csim.Sim) uint16 {
	const base = 0x06
	return uint16(sim.Register(vehicle.DefaultMotorAddress, base+2)) |
		uint16(sim.Register(vehicle.DefaultMotorAddress, base+3))<<8
}

func drive(t *testing.T, conn *websocket.Conn, speed float64) SystemStatus {
	msg, err := command.Marshal(command.Command{Type: command.Drive, Speed: speed})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	var status SystemStatus
	require.NoError(t, jsoniter.Unmarshal(reply, &status))
	return status
}

func TestDisconnectStopsVehicle(t *testing.T) {
	s, sim, url := newTestServer(t, time.Second)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	status := drive(t, conn, 0.5)
	require.Empty(t, status.Error)
	require.Equal(t, 0.5, status.Vehicle.Speed)
	require.Equal(t, uint16(2048), dirCount(sim))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return s.car.Status().Speed == 0 && dirCount(sim) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReadTimeoutStopsVehicle(t *testing.T) {
	s, sim, url := newTestServer(t, 100*time.Millisecond)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status := drive(t, conn, -1)
	require.Equal(t, -1.0, status.Vehicle.Speed)
	require.Eventually(t, func() bool {
		return s.car.Status().Speed == 0 && dirCount(sim) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSecondClientIsRejected(t *testing.T) {
	_, _, url := newTestServer(t, time.Second)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	drive(t, conn, 0.2)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
