package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"jetcar/command"
	"jetcar/config"
	"jetcar/ups"
	"jetcar/vehicle"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	simulate   = flag.Bool("sim", false, "drive the register simulator instead of the I2C bus")
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin:     checkOrigin,
}

type SystemStatus struct {
	Vehicle vehicle.Status `json:"vehicle"`
	Battery *ups.Status    `json:"battery,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type server struct {
	car     *vehicle.Vehicle
	battery *ups.Monitor
	timeout time.Duration
	wsMutex sync.Mutex
}

func init() {
	flag.Set("logtostderr", "true")
}

func checkOrigin(r *http.Request) bool {
	return true
}

func (s *server) serveWSRequest(w http.ResponseWriter, r *http.Request) {
	if !s.wsMutex.TryLock() {
		glog.Warning("Websocket multiple connections are not allowed with ", r.Host)
		http.Error(w, "vehicle is already controlled", http.StatusConflict)
		return
	}
	defer s.wsMutex.Unlock()
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warning("Websocket upgrade error: ", err)
		return
	}
	glog.Info("Websocket connection established with ", r.Host)
	defer conn.Close()
	for {
		conn.SetReadDeadline(time.Now().Add(s.timeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			glog.Warning("Websocket read error: ", err)
			break
		}
		cmd, err := command.Unmarshal(message)
		if err != nil {
			glog.Warning("Websocket command format error: ", err)
			break
		}
		status := SystemStatus{}
		// a failed tick is reported and the next command tries again
		if err := cmd.Apply(s.car); err != nil {
			glog.Errorf("Command %s failed: %v", cmd.Type, err)
			status.Error = err.Error()
		}
		status.Vehicle = s.car.Status()
		if s.battery != nil {
			battery := s.battery.Status()
			status.Battery = &battery
		}
		message, err = command.Marshal(status)
		if err != nil {
			glog.Errorf("Status encoding error: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			glog.Warning("Websocket write error: ", err)
			break
		}
	}
	if err := s.car.Reset(); err != nil && !errors.Is(err, vehicle.ErrShutdown) {
		glog.Errorf("Could not stop vehicle: %v", err)
	}
	glog.Info("Websocket connection terminated with ", r.Host)
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *simulate {
		cfg.Bus.Sim = true
	}
	bus, err := cfg.OpenBus()
	if err != nil {
		return fmt.Errorf("open i2c bus: %w", err)
	}
	car, err := vehicle.New(bus, cfg.Vehicle())
	if err != nil {
		bus.Close()
		return err
	}
	defer car.Shutdown()

	s := &server{car: car, timeout: cfg.Server.Timeout}
	if cfg.Battery.Enabled {
		monitor, err := ups.NewMonitor(bus, uint16(cfg.Battery.Address), cfg.Battery.Cells)
		if err != nil {
			glog.Warningf("Battery monitor disabled: %v", err)
		} else {
			s.battery = monitor
			monitor.Start(cfg.Battery.Period)
			defer monitor.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWSRequest)
	mux.Handle("/", http.FileServer(http.Dir(cfg.Server.Public)))
	srv := &http.Server{Addr: cfg.Server.Address, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	glog.Infof("Listening on %s", cfg.Server.Address)

	select {
	case <-ctx.Done():
		glog.Info("stop requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Server.Timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("unable to start HTTP server: %w", err)
		}
		return nil
	}
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		glog.Exit(err)
	}
	glog.Flush()
}
