package cuse

import (
	"encoding/binary"
	"fmt"
)

// Opcodes and flags of the character-device subset of the FUSE
// protocol, as spoken over /dev/cuse.
const (
	opOpen      = 14
	opRead      = 15
	opRelease   = 18
	opInterrupt = 36
	opDestroy   = 38
	opIoctl     = 39
	opPoll      = 40
	opCuseInit  = 4096

	notifyPoll = 1

	cuseUnrestrictedIoctl = 1 << 0

	fopenDirectIO = 1 << 0

	ioctlRetry = 1 << 2

	pollScheduleNotify = 1 << 0

	inHeaderSize  = 40
	outHeaderSize = 16
)

var le = binary.LittleEndian

// inHeader is the fixed preamble of every kernel request.
type inHeader struct {
	Len    uint32
	Opcode uint32
	Unique uint64
	Nodeid uint64
	UID    uint32
	GID    uint32
	PID    uint32
}

func decodeInHeader(b []byte) (inHeader, error) {
	if len(b) < inHeaderSize {
		return inHeader{}, fmt.Errorf("request truncated: %d bytes", len(b))
	}
	h := inHeader{
		Len:    le.Uint32(b[0:]),
		Opcode: le.Uint32(b[4:]),
		Unique: le.Uint64(b[8:]),
		Nodeid: le.Uint64(b[16:]),
		UID:    le.Uint32(b[24:]),
		GID:    le.Uint32(b[28:]),
		PID:    le.Uint32(b[32:]),
	}
	if int(h.Len) < inHeaderSize || int(h.Len) > len(b) {
		return inHeader{}, fmt.Errorf("request length %d out of range for %d bytes", h.Len, len(b))
	}
	return h, nil
}

type initIn struct {
	Major uint32
	Minor uint32
	Flags uint32
}

func decodeInitIn(b []byte) (initIn, error) {
	if len(b) < 16 {
		return initIn{}, fmt.Errorf("init request truncated: %d bytes", len(b))
	}
	return initIn{
		Major: le.Uint32(b[0:]),
		Minor: le.Uint32(b[4:]),
		Flags: le.Uint32(b[12:]),
	}, nil
}

type openIn struct {
	Flags uint32
}

func decodeOpenIn(b []byte) (openIn, error) {
	if len(b) < 8 {
		return openIn{}, fmt.Errorf("open request truncated: %d bytes", len(b))
	}
	return openIn{Flags: le.Uint32(b[0:])}, nil
}

type readIn struct {
	Fh    uint64
	Size  uint32
	Flags uint32
}

func decodeReadIn(b []byte) (readIn, error) {
	if len(b) < 40 {
		return readIn{}, fmt.Errorf("read request truncated: %d bytes", len(b))
	}
	return readIn{
		Fh:    le.Uint64(b[0:]),
		Size:  le.Uint32(b[16:]),
		Flags: le.Uint32(b[32:]),
	}, nil
}

type releaseIn struct {
	Fh uint64
}

func decodeReleaseIn(b []byte) (releaseIn, error) {
	if len(b) < 24 {
		return releaseIn{}, fmt.Errorf("release request truncated: %d bytes", len(b))
	}
	return releaseIn{Fh: le.Uint64(b[0:])}, nil
}

type ioctlIn struct {
	Fh      uint64
	Flags   uint32
	Cmd     uint32
	Arg     uint64
	InSize  uint32
	OutSize uint32
	In      []byte
}

func decodeIoctlIn(b []byte) (ioctlIn, error) {
	if len(b) < 32 {
		return ioctlIn{}, fmt.Errorf("ioctl request truncated: %d bytes", len(b))
	}
	in := ioctlIn{
		Fh:      le.Uint64(b[0:]),
		Flags:   le.Uint32(b[8:]),
		Cmd:     le.Uint32(b[12:]),
		Arg:     le.Uint64(b[16:]),
		InSize:  le.Uint32(b[24:]),
		OutSize: le.Uint32(b[28:]),
	}
	if int(in.InSize) > len(b)-32 {
		return ioctlIn{}, fmt.Errorf("ioctl data truncated: want %d, got %d", in.InSize, len(b)-32)
	}
	in.In = b[32 : 32+int(in.InSize)]
	return in, nil
}

type pollIn struct {
	Fh     uint64
	Kh     uint64
	Flags  uint32
	Events uint32
}

func decodePollIn(b []byte) (pollIn, error) {
	if len(b) < 24 {
		return pollIn{}, fmt.Errorf("poll request truncated: %d bytes", len(b))
	}
	return pollIn{
		Fh:     le.Uint64(b[0:]),
		Kh:     le.Uint64(b[8:]),
		Flags:  le.Uint32(b[16:]),
		Events: le.Uint32(b[20:]),
	}, nil
}

type interruptIn struct {
	Unique uint64
}

func decodeInterruptIn(b []byte) (interruptIn, error) {
	if len(b) < 8 {
		return interruptIn{}, fmt.Errorf("interrupt request truncated: %d bytes", len(b))
	}
	return interruptIn{Unique: le.Uint64(b[0:])}, nil
}

// encodeReply assembles an out header plus payload into one buffer,
// ready for a single write to the device.
func encodeReply(unique uint64, errno int32, payload []byte) []byte {
	buf := make([]byte, outHeaderSize+len(payload))
	le.PutUint32(buf[0:], uint32(len(buf)))
	le.PutUint32(buf[4:], uint32(errno))
	le.PutUint64(buf[8:], unique)
	copy(buf[outHeaderSize:], payload)
	return buf
}

func encodeInitOut(devName string, devMajor, devMinor uint32) []byte {
	name := []byte("DEVNAME=" + devName)
	name = append(name, 0)
	buf := make([]byte, 72+len(name))
	le.PutUint32(buf[0:], 7)                     // major
	le.PutUint32(buf[4:], 8)                     // minor
	le.PutUint32(buf[12:], cuseUnrestrictedIoctl) // flags
	le.PutUint32(buf[16:], 1<<20)                // max_read
	le.PutUint32(buf[20:], 1<<20)                // max_write
	le.PutUint32(buf[24:], devMajor)
	le.PutUint32(buf[28:], devMinor)
	copy(buf[72:], name)
	return buf
}

func encodeOpenOut(fh uint64, directIO bool) []byte {
	buf := make([]byte, 16)
	le.PutUint64(buf[0:], fh)
	if directIO {
		le.PutUint32(buf[8:], fopenDirectIO)
	}
	return buf
}

func encodeIoctlOut(result int32, flags uint32, inIovs, outIovs uint32, data []byte) []byte {
	buf := make([]byte, 16+len(data))
	le.PutUint32(buf[0:], uint32(result))
	le.PutUint32(buf[4:], flags)
	le.PutUint32(buf[8:], inIovs)
	le.PutUint32(buf[12:], outIovs)
	copy(buf[16:], data)
	return buf
}

func encodeIoctlIovec(base uint64, length int) []byte {
	buf := make([]byte, 16)
	le.PutUint64(buf[0:], base)
	le.PutUint64(buf[8:], uint64(length))
	return buf
}

func encodePollOut(revents uint32) []byte {
	buf := make([]byte, 8)
	le.PutUint32(buf[0:], revents)
	return buf
}

// encodePollNotify builds the unsolicited wakeup message for a poll
// handle. Notifications carry the notify code in the error field and a
// zero unique.
func encodePollNotify(kh uint64) []byte {
	buf := make([]byte, outHeaderSize+8)
	le.PutUint32(buf[0:], uint32(len(buf)))
	le.PutUint32(buf[4:], notifyPoll)
	le.PutUint64(buf[16:], kh)
	return buf
}
