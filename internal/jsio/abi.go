// Package jsio speaks the Linux joystick character device ABI from
// linux/joystick.h: the 8-byte event record, the correction entry used
// for calibration and the js ioctl numbers.
package jsio

import "encoding/binary"

// Event types.
const (
	EventButton uint8 = 0x01
	EventAxis   uint8 = 0x02
	EventInit   uint8 = 0x80
)

// Input codes used for controls that have no position on the real
// device (linux/input-event-codes.h).
const (
	BtnMisc uint16 = 0x100
	AbsMisc uint8  = 0x28
)

// Correction types.
const (
	CorrNone   uint16 = 0x00
	CorrBroken uint16 = 0x01
)

// Event mirrors struct js_event.
type Event struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

const EventSize = 8

func (e Event) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], e.Time)
	binary.LittleEndian.PutUint16(b[4:6], uint16(e.Value))
	b[6] = e.Type
	b[7] = e.Number
}

func DecodeEvent(b []byte) Event {
	return Event{
		Time:   binary.LittleEndian.Uint32(b[0:4]),
		Value:  int16(binary.LittleEndian.Uint16(b[4:6])),
		Type:   b[6],
		Number: b[7],
	}
}

// Correction mirrors struct js_corr.
type Correction struct {
	Coef [8]int32
	Prec int16
	Type uint16
}

const CorrectionSize = 36

func (c Correction) Encode(b []byte) {
	for i, coef := range c.Coef {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(coef))
	}
	binary.LittleEndian.PutUint16(b[32:34], uint16(c.Prec))
	binary.LittleEndian.PutUint16(b[34:36], c.Type)
}

func DecodeCorrection(b []byte) Correction {
	var c Correction
	for i := range c.Coef {
		c.Coef[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	c.Prec = int16(binary.LittleEndian.Uint16(b[32:34]))
	c.Type = binary.LittleEndian.Uint16(b[34:36])
	return c
}

func EncodeCorrections(corr []Correction) []byte {
	b := make([]byte, len(corr)*CorrectionSize)
	for i, c := range corr {
		c.Encode(b[i*CorrectionSize:])
	}
	return b
}

func DecodeCorrections(b []byte) []Correction {
	corr := make([]Correction, len(b)/CorrectionSize)
	for i := range corr {
		corr[i] = DecodeCorrection(b[i*CorrectionSize:])
	}
	return corr
}

// js ioctl numbers, composed the way asm-generic/ioctl.h does.
const (
	iocWrite = 1
	iocRead  = 2

	iocMagic = uint32('j')

	// IocSizeMask strips the size field from an ioctl number, leaving
	// the (dir, magic, nr) base that variable-size commands share.
	IocSizeMask = 0x3fff << 16
)

func ioc(dir, nr, size uint32) uint32 {
	return dir<<30 | size<<16 | iocMagic<<8 | nr
}

const (
	JSIOCGVERSION = iocRead<<30 | 4<<16 | iocMagic<<8 | 0x01
	JSIOCGAXES    = iocRead<<30 | 1<<16 | iocMagic<<8 | 0x11
	JSIOCGBUTTONS = iocRead<<30 | 1<<16 | iocMagic<<8 | 0x12
	JSIOCGCORR    = iocRead<<30 | 36<<16 | iocMagic<<8 | 0x22
	JSIOCSCORR    = iocWrite<<30 | 36<<16 | iocMagic<<8 | 0x21

	// Axis map: __u8[ABS_CNT]; button map: __u16[KEY_MAX - BTN_MISC + 1].
	JSIOCGAXMAP  = iocRead<<30 | 64<<16 | iocMagic<<8 | 0x32
	JSIOCGBTNMAP = iocRead<<30 | 1024<<16 | iocMagic<<8 | 0x34
)

// JSIOCGNAME returns the name ioctl number for a buffer of n bytes.
func JSIOCGNAME(n int) uint32 {
	return ioc(iocRead, 0x13, uint32(n))
}
