package ups

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"jetcar/i2c"
	"jetcar/ina219"
)

// Assume 4.0V is the maximum a Li-Ion cell shows under load and 3.5V the
// minimum it is discharged to.
const (
	CellVoltageFull  = 4.0
	CellVoltageEmpty = 3.5
)

// negative ShuntVoltage and Current means the battery is discharging
type Status struct {
	BusVoltage     float64 `json:"busVoltage"`
	ShuntVoltage   float64 `json:"shuntVoltage"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	CellVoltage    float64 `json:"cellVoltage"`
	Current        float64 `json:"current"`
	Power          float64 `json:"power"`
	ChargePercents float64 `json:"chargePercents"`
	Valid          bool    `json:"valid"`
}

// Monitor polls the battery INA219 on the shared vehicle bus.
type Monitor struct {
	mu       sync.RWMutex
	sensor   *ina219.INA219
	cells    int
	status   Status
	running  bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewMonitor(bus *i2c.Bus, address uint16, cells int) (*Monitor, error) {
	sensor, err := ina219.New(bus, address)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		sensor: sensor,
		cells:  cells,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start launches Run on its own goroutine. Once Start returns, Stop waits for
// that goroutine, so no reading is taken after Stop.
func (m *Monitor) Start(refreshPeriod time.Duration) {
	if m.claim() {
		go m.run(refreshPeriod)
	}
}

// Run polls every refreshPeriod until Stop is called. It runs at most once
// per Monitor.
func (m *Monitor) Run(refreshPeriod time.Duration) {
	if m.claim() {
		m.run(refreshPeriod)
	}
}

func (m *Monitor) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *Monitor) run(refreshPeriod time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		if err := m.Poll(); err != nil {
			glog.Warningf("ups: %v", err)
		}
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
	}
}

// Poll takes one reading.
func (m *Monitor) Poll() error {
	shuntVoltage, err := m.sensor.ReadShuntVoltage()
	if err != nil {
		return err
	}
	busVoltage, err := m.sensor.ReadBusVoltage()
	if err != nil {
		return err
	}
	current, err := m.sensor.ReadCurrent()
	if err != nil {
		return err
	}
	power, err := m.sensor.ReadPower()
	if err != nil {
		return err
	}
	batteryVoltage := busVoltage - shuntVoltage
	cellVoltage := batteryVoltage / float64(m.cells)

	m.mu.Lock()
	m.status = Status{
		BusVoltage:     busVoltage,
		ShuntVoltage:   shuntVoltage,
		BatteryVoltage: batteryVoltage,
		CellVoltage:    cellVoltage,
		Current:        current,
		Power:          power,
		ChargePercents: ChargePercents(cellVoltage),
		Valid:          true,
	}
	m.mu.Unlock()
	return nil
}

// Stop ends Run and waits for it to return. Calling it again is harmless.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if running {
		<-m.done
	}
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func ChargePercents(cellVoltage float64) float64 {
	percents := (cellVoltage - CellVoltageEmpty) / (CellVoltageFull - CellVoltageEmpty) * 100
	return min(max(percents, 0), 100)
}
