package jsio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Joystick is an open /dev/input/jsN device in non-blocking mode. The
// identity data (name, driver version, axis and button maps) is read
// once at open.
type Joystick struct {
	fd        int
	name      string
	version   uint32
	axisMap   []uint8
	buttonMap []uint16
}

func Open(path string) (*Joystick, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	j := &Joystick{fd: fd}
	if err := j.identify(); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to identify %s: %w", path, err)
	}
	return j, nil
}

func (j *Joystick) identify() error {
	var name [256]byte
	if err := j.ioctl(JSIOCGNAME(len(name)), unsafe.Pointer(&name[0])); err != nil {
		return fmt.Errorf("failed to read device name: %w", err)
	}
	j.name = unix.ByteSliceToString(name[:])

	if err := j.ioctl(JSIOCGVERSION, unsafe.Pointer(&j.version)); err != nil {
		return fmt.Errorf("failed to read driver version: %w", err)
	}

	var axes, buttons uint8
	if err := j.ioctl(JSIOCGAXES, unsafe.Pointer(&axes)); err != nil {
		return fmt.Errorf("failed to read axis count: %w", err)
	}
	if err := j.ioctl(JSIOCGBUTTONS, unsafe.Pointer(&buttons)); err != nil {
		return fmt.Errorf("failed to read button count: %w", err)
	}

	var axisMap [64]uint8
	var buttonMap [512]uint16
	if err := j.ioctl(JSIOCGAXMAP, unsafe.Pointer(&axisMap[0])); err != nil {
		return fmt.Errorf("failed to read axis map: %w", err)
	}
	if err := j.ioctl(JSIOCGBTNMAP, unsafe.Pointer(&buttonMap[0])); err != nil {
		return fmt.Errorf("failed to read button map: %w", err)
	}
	j.axisMap = append([]uint8(nil), axisMap[:axes]...)
	j.buttonMap = append([]uint16(nil), buttonMap[:buttons]...)
	return nil
}

func (j *Joystick) ioctl(cmd uint32, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(j.fd), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (j *Joystick) Name() string       { return j.name }
func (j *Joystick) Version() uint32    { return j.version }
func (j *Joystick) AxisMap() []uint8   { return j.axisMap }
func (j *Joystick) ButtonMap() []uint16 { return j.buttonMap }

// Fd returns the raw descriptor for poll multiplexing.
func (j *Joystick) Fd() int { return j.fd }

// Correction reads the driver's correction entries, one per axis.
func (j *Joystick) Correction() ([]Correction, error) {
	corr := make([]Correction, len(j.axisMap))
	if len(corr) == 0 {
		return corr, nil
	}
	if err := j.ioctl(JSIOCGCORR, unsafe.Pointer(&corr[0])); err != nil {
		return nil, fmt.Errorf("failed to read corrections: %w", err)
	}
	return corr, nil
}

func (j *Joystick) SetCorrection(corr []Correction) error {
	if len(corr) == 0 {
		return nil
	}
	if err := j.ioctl(JSIOCSCORR, unsafe.Pointer(&corr[0])); err != nil {
		return fmt.Errorf("failed to write corrections: %w", err)
	}
	return nil
}

// ReadAll drains every complete event currently queued on the
// descriptor, invoking fn for each. It returns once the device would
// block.
func (j *Joystick) ReadAll(fn func(Event)) error {
	var buf [EventSize]byte
	for {
		n, err := unix.Read(j.fd, buf[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil
		case err != nil:
			return fmt.Errorf("failed to read joystick event: %w", err)
		case n != EventSize:
			return nil
		}
		fn(DecodeEvent(buf[:]))
	}
}

func (j *Joystick) Close() error {
	return unix.Close(j.fd)
}
