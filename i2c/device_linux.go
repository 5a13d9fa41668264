//go:build linux
// +build linux

package i2c

// based on: https://gist.github.com/tetsu-koba/33b339d26ac9c730fb09773acf39eac5#file-i2c-go

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"periph.io/x/conn/v3/physic"
)

// Open opens /dev/i2c-N directly through the I2C_RDWR ioctl.
func Open(busNumber BusNumber) (*Bus, error) {
	path := fmt.Sprintf(DevicePath, busNumber)
	f, err := os.OpenFile(path, syscall.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return New(&device{f: f, path: path}), nil
}

// device implements periph's i2c.BusCloser on top of a raw character device.
type device struct {
	f    *os.File
	path string
}

func (d *device) String() string {
	return d.path
}

func (d *device) Close() error {
	return d.f.Close()
}

func (d *device) SetSpeed(f physic.Frequency) error {
	return errors.New("i2c: bus speed is fixed by the device tree")
}

func (d *device) Tx(addr uint16, w, r []byte) error {
	msgs := make([]i2c_msg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2c_msg{
			addr:  addr,
			flags: 0,
			len:   uint16(len(w)),
			buf:   uintptr(unsafe.Pointer(&w[0])),
		})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2c_msg{
			addr:  addr,
			flags: uint16(_I2C_M_RD),
			len:   uint16(len(r)),
			buf:   uintptr(unsafe.Pointer(&r[0])),
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	return transfer(d.f, &msgs[0], len(msgs))
}

const (
	_I2C_RDWR = 0x0707
	_I2C_M_RD = 0x0001
)

type i2c_msg struct {
	addr      uint16
	flags     uint16
	len       uint16
	__padding uint16
	buf       uintptr
}

type i2c_rdwr_ioctl_data struct {
	msgs  uintptr
	nmsgs uint32
}

func transfer(f *os.File, msgs *i2c_msg, n int) (err error) {
	data := i2c_rdwr_ioctl_data{
		msgs:  uintptr(unsafe.Pointer(msgs)),
		nmsgs: uint32(n),
	}
	_, _, errno := syscall.Syscall(
		syscall.SYS_IOCTL,
		uintptr(f.Fd()),
		uintptr(_I2C_RDWR),
		uintptr(unsafe.Pointer(&data)),
	)
	if errno != 0 {
		err = errno
	}
	return
}
