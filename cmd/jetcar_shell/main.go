package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"jetcar/config"
	"jetcar/vehicle"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	simulate   = flag.Bool("sim", false, "drive the register simulator instead of the I2C bus")
)

func init() {
	flag.Set("logtostderr", "true")
}

// sweepSteps exercises the steering linkage end to end and settles centered.
var sweepSteps = []struct {
	steering float64
	hold     time.Duration
}{
	{0, 2 * time.Second},
	{-1, 2 * time.Second},
	{1, 2 * time.Second},
	{-1, 500 * time.Millisecond},
	{1, 500 * time.Millisecond},
	{-1, 500 * time.Millisecond},
	{1, 500 * time.Millisecond},
	{-1, 500 * time.Millisecond},
	{1, 500 * time.Millisecond},
	{-1, 500 * time.Millisecond},
	{1, 2500 * time.Millisecond},
	{0, 0},
}

func floatArgs(c *ishell.Context, n int) ([]float64, bool) {
	if len(c.Args) != n {
		c.Err(fmt.Errorf("expected %d arguments, got %d", n, len(c.Args)))
		return nil, false
	}
	values := make([]float64, n)
	for i, arg := range c.Args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			c.Err(err)
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func report(c *ishell.Context, car *vehicle.Vehicle, err error) {
	if err != nil {
		c.Err(err)
	}
	s := car.Status()
	c.Printf("speed %.3f  angle %.1f  %s\n", s.Speed, s.Angle, s.State)
}

func commands(car *vehicle.Vehicle) []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name:    "drive",
			Aliases: []string{"d"},
			Help:    "SPEED STEERING, both in [-1, 1]",
			Func: func(c *ishell.Context) {
				if v, ok := floatArgs(c, 2); ok {
					report(c, car, car.Drive(v[0], v[1]))
				}
			},
		},
		{
			Name: "speed",
			Help: "SPEED in [-1, 1], steering unchanged",
			Func: func(c *ishell.Context) {
				if v, ok := floatArgs(c, 1); ok {
					report(c, car, car.Drive(v[0], car.Status().Angle/100))
				}
			},
		},
		{
			Name: "steer",
			Help: "STEERING in [-1, 1], speed unchanged",
			Func: func(c *ishell.Context) {
				if v, ok := floatArgs(c, 1); ok {
					report(c, car, car.Drive(car.Status().Speed, v[0]))
				}
			},
		},
		{
			Name: "angle",
			Help: "DEGREES, clamped to the calibrated maximum",
			Func: func(c *ishell.Context) {
				if v, ok := floatArgs(c, 1); ok {
					report(c, car, car.SetAngle(v[0]))
				}
			},
		},
		{
			Name:    "stop",
			Aliases: []string{"s"},
			Help:    "zero the motors and center the steering",
			Func: func(c *ishell.Context) {
				report(c, car, car.Stop())
			},
		},
		{
			Name: "status",
			Help: "print the last commanded speed and angle",
			Func: func(c *ishell.Context) {
				report(c, car, nil)
			},
		},
		{
			Name: "sweep",
			Help: "swing the steering between both ends, then stop",
			Func: func(c *ishell.Context) {
				for _, step := range sweepSteps {
					if err := car.Drive(0, step.steering); err != nil {
						c.Err(err)
						break
					}
					time.Sleep(step.hold)
				}
				report(c, car, car.Stop())
			},
		},
	}
}

// closer is the part of the shell released on a signal.
type closer interface {
	Close()
}

// releaseOnSignal shuts the car down and closes shell once ctx is done, unless
// quit is closed first. The line editor only sees Ctrl-C while it waits for
// input, so a signal during a running command or a SIGTERM arrives here.
func releaseOnSignal(ctx context.Context, quit <-chan struct{}, car *vehicle.Vehicle, shell closer) {
	select {
	case <-ctx.Done():
		glog.Info("stop requested")
		if err := car.Shutdown(); err != nil {
			glog.Errorf("Could not shut down vehicle: %v", err)
		}
		shell.Close()
	case <-quit:
	}
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

	shell := ishell.New()
	shell.SetPrompt("jetcar> ")
	shell.Interrupt(func(c *ishell.Context, count int, input string) {
		if err := car.Stop(); err != nil {
			c.Err(err)
		}
		if count >= 2 {
			c.Stop()
			return
		}
		c.Println("stopped, press Ctrl-C again to quit")
	})
	for _, cmd := range commands(car) {
		shell.AddCmd(cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	quit := make(chan struct{})
	released := make(chan struct{})
	go func() {
		defer close(released)
		releaseOnSignal(ctx, quit, car, shell)
	}()
	shell.Run()
	close(quit)
	<-released
	return nil
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		glog.Exit(err)
	}
	glog.Flush()
}
