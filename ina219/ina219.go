package ina219

import "jetcar/i2c"

// based on: https://www.waveshare.com/wiki/UPS_Module_3S

const (
	// Config Register (R/W)
	_REG_CONFIG uint8 = 0x00
	// SHUNT VOLTAGE REGISTER (R)
	_REG_SHUNTVOLTAGE uint8 = 0x01

	// BUS VOLTAGE REGISTER (R)
	_REG_BUSVOLTAGE uint8 = 0x02

	// POWER REGISTER (R)
	_REG_POWER uint8 = 0x03

	// CURRENT REGISTER (R)
	_REG_CURRENT uint8 = 0x04

	// CALIBRATION REGISTER (R/W)
	_REG_CALIBRATION uint8 = 0x05
)

type BusVoltageRange uint16

const (
	RANGE_32V BusVoltageRange = 0x01 // set bus voltage range to 32V (default)
)

type Gain uint16

const (
	DIV_8_320MV Gain = 0x03 // shunt prog. gain set to /8, 320 mV range
)

type ADCResolution uint16

const (
	ADCRES_12BIT_32S ADCResolution = 0x0D // 12bit,  32 samples, 17.02ms
)

type Mode uint16

const (
	SANDBVOLT_CONTINUOUS Mode = 0x07 // shunt and bus voltage continuous
)

// ADDRESS_DEFAULT is where the JetCar power board places its INA219.
const ADDRESS_DEFAULT uint16 = 0x41

type INA219 struct {
	bus        *i2c.Bus
	address    uint16
	config     uint16
	calValue   uint16
	currentLSB float64 // mA per bit
	powerLSB   float64 // W per bit
}

// New calibrates the INA219 at address for up to 32V and 2A through a 0.1
// ohm shunt.
func New(bus *i2c.Bus, address uint16) (*INA219, error) {
	ina219 := &INA219{
		bus:     bus,
		address: address,
	}
	err := ina219.setCalibration32Volts2Amps()
	return ina219, err
}

// Counter overflow occurs at 3.2A. Current LSB is 100uA per bit, which gives
// Cal = trunc(0.04096 / (0.0001 * 0.1)) = 4096 and a power LSB of 20 times
// the current LSB.
func (i *INA219) setCalibration32Volts2Amps() error {
	i.currentLSB = 0.1
	i.calValue = 4096
	i.powerLSB = 0.002

	if err := i.bus.WriteWord(i.address, _REG_CALIBRATION, i.calValue); err != nil {
		return err
	}

	i.config = uint16(RANGE_32V)<<13 |
		uint16(DIV_8_320MV)<<11 |
		uint16(ADCRES_12BIT_32S)<<7 |
		uint16(ADCRES_12BIT_32S)<<3 |
		uint16(SANDBVOLT_CONTINUOUS)
	return i.bus.WriteWord(i.address, _REG_CONFIG, i.config)
}

// ReadShuntVoltage returns volts across the shunt; negative while the
// battery discharges.
func (i *INA219) ReadShuntVoltage() (float64, error) {
	if err := i.bus.WriteWord(i.address, _REG_CALIBRATION, i.calValue); err != nil {
		return 0, err
	}
	value, err := i.bus.ReadWord(i.address, _REG_SHUNTVOLTAGE)
	if err != nil {
		return 0, err
	}
	return float64(int16(value)) * 0.00001, nil
}

func (i *INA219) ReadBusVoltage() (float64, error) {
	if err := i.bus.WriteWord(i.address, _REG_CALIBRATION, i.calValue); err != nil {
		return 0, err
	}
	value, err := i.bus.ReadWord(i.address, _REG_BUSVOLTAGE)
	if err != nil {
		return 0, err
	}
	return float64(value>>3) * 0.004, nil
}

// ReadCurrent returns amps; negative while the battery discharges.
func (i *INA219) ReadCurrent() (float64, error) {
	value, err := i.bus.ReadWord(i.address, _REG_CURRENT)
	if err != nil {
		return 0, err
	}
	return float64(int16(value)) * i.currentLSB * 0.001, nil
}

func (i *INA219) ReadPower() (float64, error) {
	value, err := i.bus.ReadWord(i.address, _REG_POWER)
	if err != nil {
		return 0, err
	}
	return float64(value) * i.powerLSB, nil
}
