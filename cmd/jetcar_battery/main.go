package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"

	"jetcar/config"
	"jetcar/ups"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	simulate   = flag.Bool("sim", false, "read the register simulator instead of the I2C bus")
	once       = flag.Bool("once", false, "print a single reading and exit")
)

func init() {
	flag.Set("logtostderr", "true")
}

func printStatus(w io.Writer, cells int, s ups.Status) {
	fmt.Fprintf(w, "%dS: %.3f V\n", cells, s.BatteryVoltage)
	fmt.Fprintf(w, "1S: %.3f V\n", s.CellVoltage)
	fmt.Fprintf(w, "Current: %.3f A\n", -s.Current)
	fmt.Fprintf(w, "Power: %.3f W\n", s.Power)
	fmt.Fprintf(w, "Charge: %d%%\n", int(s.ChargePercents))
	fmt.Fprintln(w, "**********")
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
		return fmt.Errorf("can not open i2c bus: %w", err)
	}
	defer bus.Close()
	monitor, err := ups.NewMonitor(bus, uint16(cfg.Battery.Address), cfg.Battery.Cells)
	if err != nil {
		return fmt.Errorf("can not initialize ina219: %w", err)
	}
	for {
		if err := monitor.Poll(); err != nil {
			glog.Error("Can not read battery: ", err)
		} else {
			printStatus(os.Stdout, cfg.Battery.Cells, monitor.Status())
		}
		if *once {
			return nil
		}
		time.Sleep(cfg.Battery.Period)
	}
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		glog.Exit(err)
	}
	glog.Flush()
}
