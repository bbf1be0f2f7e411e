package bridge

import (
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/stickshift-dev/stickshift/internal/devhost"
	"github.com/stickshift-dev/stickshift/internal/jsio"
)

// Source is the real device feeding a descriptor.
type Source interface {
	Fd() int
	ReadAll(fn func(jsio.Event)) error
	Close() error
}

// Device is the virtual joystick a descriptor exposes.
type Device interface {
	Name() string
	Version() uint32
	NumButtons() int
	NumAxes() int
	AxisCode(i int) uint8
	ButtonCode(i int) uint16
	Correction() ([]jsio.Correction, error)
	SetCorrection([]jsio.Correction) error
	Input(ev jsio.Event)
	OnEvent(fn func(ev jsio.Event, init bool))
}

// File is one open descriptor on the virtual device: its own source
// device, its own input graph and its own event queue. Two programs
// opening the joystick get fully independent state.
type File struct {
	log  *zap.Logger
	mu   sync.Mutex
	wake *waitPipe

	src Source
	dev Device

	events []jsio.Event

	readReq  devhost.ReadRequest
	pollHand devhost.PollHandle
}

func newFile(log *zap.Logger, wake *waitPipe, src Source, dev Device) *File {
	f := &File{log: log, wake: wake, src: src, dev: dev}
	dev.OnEvent(f.addEvent)
	return f
}

func (f *File) addEvent(ev jsio.Event, init bool) {
	if init {
		ev.Type |= jsio.EventInit
	}
	f.events = append(f.events, ev)
}

func (f *File) readAllInput() {
	err := f.src.ReadAll(func(ev jsio.Event) {
		f.dev.Input(ev)
	})
	if err != nil {
		f.log.Warn("failed to drain input device", zap.Error(err))
	}
}

// attemptOutput fulfils the outstanding read request if any events are
// queued, in stable (time, type, number) order. Called with the lock
// held.
func (f *File) attemptOutput() bool {
	sort.SliceStable(f.events, func(i, j int) bool {
		a, b := f.events[i], f.events[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Number < b.Number
	})

	wanted := f.readReq.Size() / jsio.EventSize
	n := len(f.events)
	if wanted < n {
		n = wanted
	}
	if n == 0 {
		return false
	}

	buf := make([]byte, n*jsio.EventSize)
	for i, ev := range f.events[:n] {
		ev.Encode(buf[i*jsio.EventSize:])
	}
	f.events = f.events[n:]

	if err := f.readReq.ReplyData(buf); err != nil {
		f.log.Warn("failed to reply to read", zap.Error(err))
	}
	f.readReq = nil
	return true
}

func (f *File) Read(req devhost.ReadRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readReq = req
	f.readAllInput()
	if f.attemptOutput() {
		return
	}

	if req.Size() < jsio.EventSize {
		// Too small for a single event: a zero-byte reply, the queue
		// stays intact.
		req.ReplyData(nil)
		f.readReq = nil
		return
	}
	if req.NonBlocking() {
		req.ReplyErr(unix.EWOULDBLOCK)
		f.readReq = nil
		return
	}

	// Park the read until input arrives.
	req.OnInterrupt(func() {
		f.readInterrupted(req)
	})
	f.wake.Notify()
}

func (f *File) readInterrupted(req devhost.ReadRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readReq != req {
		return
	}
	req.ReplyErr(unix.EINTR)
	f.readReq = nil
}

func (f *File) Poll(req devhost.PollRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ph := req.Handle(); ph != nil {
		if f.pollHand != nil && f.pollHand.Kh() != ph.Kh() {
			f.pollHand.Destroy()
		}
		f.pollHand = ph
	}

	var revents uint32
	if len(f.events) > 0 {
		revents |= unix.POLLIN
	}
	req.ReplyPoll(revents)

	if f.pollHand != nil {
		f.wake.Notify()
	}
}

// ReadAvailable drains the source once the I/O loop saw it become
// readable, then wakes up whoever is waiting on the descriptor.
func (f *File) ReadAvailable() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readAllInput()

	if f.pollHand != nil && len(f.events) > 0 {
		if err := f.pollHand.Notify(); err != nil {
			f.log.Warn("failed to notify poll", zap.Error(err))
		}
		f.pollHand.Destroy()
		f.pollHand = nil
	}

	if f.readReq != nil {
		f.attemptOutput()
	}
}

// WantInput reports whether anyone is waiting for input on this
// descriptor.
func (f *File) WantInput() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readReq != nil || f.pollHand != nil
}

func (f *File) Fd() int {
	return f.src.Fd()
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.readReq != nil {
		err = multierr.Append(err, f.readReq.ReplyErr(unix.EIO))
		f.readReq = nil
	}
	if f.pollHand != nil {
		f.pollHand.Destroy()
		f.pollHand = nil
	}
	return multierr.Append(err, f.src.Close())
}

func (f *File) Ioctl(req devhost.IoctlRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmdsize := int(req.Cmd() >> 16 & 0x3fff)
	switch req.Cmd() &^ uint32(jsio.IocSizeMask) {
	case jsio.JSIOCGNAME(0):
		name := f.dev.Name()
		var data []byte
		if name != "" {
			data = append([]byte(name), 0)
		}
		if req.OutSize() == 0 {
			req.ReplyRetryOut(req.Arg(), len(data))
		} else {
			req.ReplyIoctl(0, data)
		}

	case jsio.JSIOCGVERSION &^ jsio.IocSizeMask:
		if req.OutSize() == 0 {
			req.ReplyRetryOut(req.Arg(), 4)
		} else {
			var buf [4]byte
			buf[0] = byte(f.dev.Version())
			buf[1] = byte(f.dev.Version() >> 8)
			buf[2] = byte(f.dev.Version() >> 16)
			buf[3] = byte(f.dev.Version() >> 24)
			req.ReplyIoctl(0, buf[:])
		}

	case jsio.JSIOCGAXES &^ jsio.IocSizeMask:
		if req.OutSize() == 0 {
			req.ReplyRetryOut(req.Arg(), 1)
		} else {
			req.ReplyIoctl(0, []byte{uint8(f.dev.NumAxes())})
		}

	case jsio.JSIOCGBUTTONS &^ jsio.IocSizeMask:
		if req.OutSize() == 0 {
			req.ReplyRetryOut(req.Arg(), 1)
		} else {
			req.ReplyIoctl(0, []byte{uint8(f.dev.NumButtons())})
		}

	case jsio.JSIOCGAXMAP &^ jsio.IocSizeMask:
		if req.OutSize() == 0 {
			req.ReplyRetryOut(req.Arg(), cmdsize)
		} else {
			buf := make([]byte, cmdsize)
			toFill := f.dev.NumAxes()
			if toFill > len(buf) {
				toFill = len(buf)
			}
			for i := 0; i < toFill; i++ {
				buf[i] = f.dev.AxisCode(i)
			}
			req.ReplyIoctl(0, buf)
		}

	case jsio.JSIOCGBTNMAP &^ jsio.IocSizeMask:
		if req.OutSize() == 0 {
			req.ReplyRetryOut(req.Arg(), cmdsize)
		} else {
			buf := make([]byte, cmdsize)
			toFill := f.dev.NumButtons()
			if toFill > len(buf)/2 {
				toFill = len(buf) / 2
			}
			for i := 0; i < toFill; i++ {
				code := f.dev.ButtonCode(i)
				buf[i*2] = byte(code)
				buf[i*2+1] = byte(code >> 8)
			}
			req.ReplyIoctl(0, buf)
		}

	case jsio.JSIOCGCORR &^ jsio.IocSizeMask:
		want := f.dev.NumAxes() * jsio.CorrectionSize
		if req.OutSize() < want {
			req.ReplyRetryOut(req.Arg(), want)
		} else {
			corr, err := f.dev.Correction()
			if err != nil {
				f.log.Warn("failed to read corrections", zap.Error(err))
				req.ReplyErr(unix.EIO)
				return
			}
			req.ReplyIoctl(0, jsio.EncodeCorrections(corr))
		}

	case jsio.JSIOCSCORR &^ jsio.IocSizeMask:
		want := f.dev.NumAxes() * jsio.CorrectionSize
		if len(req.InData()) < want {
			req.ReplyRetryIn(req.Arg(), want)
		} else {
			if err := f.dev.SetCorrection(jsio.DecodeCorrections(req.InData()[:want])); err != nil {
				f.log.Warn("failed to set corrections", zap.Error(err))
				req.ReplyErr(unix.EIO)
				return
			}
			req.ReplyIoctl(0, nil)
		}

	default:
		f.log.Warn("unknown ioctl", zap.Uint32("cmd", req.Cmd()))
		req.ReplyErr(unix.EINVAL)
	}
}
