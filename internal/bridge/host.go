// Package bridge hosts virtual joystick descriptors on top of a
// device host transport. Each open descriptor gets its own real
// device, its own input graph and its own event queue; a shared I/O
// loop drains the real devices whenever a descriptor is waiting for
// input.
package bridge

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/stickshift-dev/stickshift/internal/devhost"
)

// OpenFunc builds the source device and the virtual device for one
// new descriptor.
type OpenFunc func() (Source, Device, error)

// Host implements devhost.Ops over a table of open descriptors and
// runs the I/O loop that feeds them.
type Host struct {
	log   *zap.Logger
	open  OpenFunc
	files *xsync.MapOf[uint64, *File]
	wake  *waitPipe
}

func NewHost(log *zap.Logger, open OpenFunc) (*Host, error) {
	wake, err := newWaitPipe()
	if err != nil {
		return nil, err
	}
	return &Host{
		log:   log,
		open:  open,
		files: xsync.NewMapOf[uint64, *File](),
		wake:  wake,
	}, nil
}

func (h *Host) Open(req devhost.OpenRequest) {
	src, dev, err := h.open()
	if err != nil {
		h.log.Error("failed to open device", zap.Error(err))
		req.ReplyErr(unix.ENODEV)
		return
	}

	f := newFile(h.log, h.wake, src, dev)
	var fh uint64
	for {
		if _, taken := h.files.LoadOrStore(fh, f); !taken {
			break
		}
		fh++
	}

	if err := req.ReplyOpen(fh, true); err != nil {
		h.log.Warn("failed to reply to open", zap.Error(err))
		h.files.Delete(fh)
		f.Close()
		return
	}
	h.log.Info("descriptor opened", zap.Uint64("fh", fh))
	h.wake.Notify()
}

func (h *Host) Release(req devhost.ReleaseRequest) {
	f, ok := h.files.LoadAndDelete(req.Fh())
	if !ok {
		req.ReplyErr(unix.EINVAL)
		return
	}
	if err := f.Close(); err != nil {
		h.log.Warn("failed to close descriptor", zap.Uint64("fh", req.Fh()), zap.Error(err))
	}
	req.ReplyErr(0)
	h.log.Info("descriptor released", zap.Uint64("fh", req.Fh()))
	h.wake.Notify()
}

func (h *Host) Read(req devhost.ReadRequest) {
	f, ok := h.files.Load(req.Fh())
	if !ok {
		req.ReplyErr(unix.EINVAL)
		return
	}
	f.Read(req)
}

func (h *Host) Ioctl(req devhost.IoctlRequest) {
	f, ok := h.files.Load(req.Fh())
	if !ok {
		req.ReplyErr(unix.EINVAL)
		return
	}
	f.Ioctl(req)
}

func (h *Host) Poll(req devhost.PollRequest) {
	f, ok := h.files.Load(req.Fh())
	if !ok {
		req.ReplyErr(unix.EINVAL)
		return
	}
	f.Poll(req)
}

func (h *Host) Destroy() {
	h.wake.Exit()
}

// Run polls the real devices behind descriptors that have a parked
// read or a registered poll handle, draining them as input arrives.
// It returns when the context is cancelled or Destroy is called.
func (h *Host) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, h.wake.Exit)
	defer stop()
	defer h.closeAll()
	defer h.wake.Close()

	for {
		pollFds := []unix.PollFd{{Fd: int32(h.wake.WaitFd()), Events: unix.POLLIN}}
		var wanted []*File
		h.files.Range(func(_ uint64, f *File) bool {
			if f.WantInput() {
				pollFds = append(pollFds, unix.PollFd{Fd: int32(f.Fd()), Events: unix.POLLIN})
				wanted = append(wanted, f)
			}
			return true
		})

		n, err := unix.Poll(pollFds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to poll devices: %w", err)
		}
		if n == 0 {
			continue
		}

		if pollFds[0].Revents&unix.POLLIN != 0 {
			var b [1]byte
			unix.Read(h.wake.WaitFd(), b[:])
			if b[0] == 'y' {
				return ctx.Err()
			}
			continue
		}

		for i, pfd := range pollFds[1:] {
			if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
				wanted[i].ReadAvailable()
			}
		}
	}
}

func (h *Host) closeAll() {
	h.files.Range(func(fh uint64, f *File) bool {
		h.files.Delete(fh)
		f.Close()
		return true
	})
}
