package i2c

import (
	"fmt"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// OpenNamed opens a bus through the periph registry, e.g. "1" or "I2C1".
// An empty name selects the first registered bus.
func OpenNamed(name string) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("i2c: host init: %w", err)
	}
	conn, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %q: %w", name, err)
	}
	return New(conn), nil
}
