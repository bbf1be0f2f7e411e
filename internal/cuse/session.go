// Package cuse speaks the CUSE variant of the FUSE protocol over
// /dev/cuse, registering a character device with the kernel and
// translating its requests into devhost operations.
package cuse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/stickshift-dev/stickshift/internal/devhost"
)

const controlPath = "/dev/cuse"

// Transport registers a character device named DevName with the given
// device numbers and serves its requests.
type Transport struct {
	log      *zap.Logger
	devName  string
	devMajor uint32
	devMinor uint32
}

func New(log *zap.Logger, devName string, devMajor, devMinor uint32) *Transport {
	return &Transport{
		log:      log,
		devName:  devName,
		devMajor: devMajor,
		devMinor: devMinor,
	}
}

// Serve opens the control device and dispatches requests to ops until
// the context is cancelled or the kernel tears the session down.
func (t *Transport) Serve(ctx context.Context, ops devhost.Ops) error {
	ctl, err := os.OpenFile(controlPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", controlPath, err)
	}

	s := &session{
		log:        t.log,
		ctl:        ctl,
		ops:        ops,
		interrupts: map[uint64]func(){},
	}

	stop := context.AfterFunc(ctx, func() {
		ctl.Close()
	})
	defer stop()
	defer ctl.Close()
	defer ops.Destroy()

	if err := s.handshake(t.devName, t.devMajor, t.devMinor); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	t.log.Info("device registered",
		zap.String("name", t.devName),
		zap.Uint32("major", t.devMajor),
		zap.Uint32("minor", t.devMinor),
	)

	err = s.serve()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type session struct {
	log *zap.Logger
	ctl *os.File
	ops devhost.Ops

	writeMu sync.Mutex

	mu         sync.Mutex
	interrupts map[uint64]func()
}

func (s *session) handshake(devName string, devMajor, devMinor uint32) error {
	buf := make([]byte, 1<<20+4096)
	n, err := s.ctl.Read(buf)
	if err != nil {
		return fmt.Errorf("failed to read init request: %w", err)
	}
	hdr, err := decodeInHeader(buf[:n])
	if err != nil {
		return err
	}
	if hdr.Opcode != opCuseInit {
		return fmt.Errorf("expected init request, got opcode %d", hdr.Opcode)
	}
	init, err := decodeInitIn(buf[inHeaderSize:n])
	if err != nil {
		return err
	}
	if init.Major != 7 {
		return fmt.Errorf("unsupported protocol version %d.%d", init.Major, init.Minor)
	}
	return s.writeReply(hdr.Unique, 0, encodeInitOut(devName, devMajor, devMinor))
}

func (s *session) serve() error {
	buf := make([]byte, 1<<20+4096)
	for {
		n, err := s.ctl.Read(buf)
		if err != nil {
			if errors.Is(err, fs.ErrClosed) || errors.Is(err, unix.ENODEV) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		hdr, err := decodeInHeader(buf[:n])
		if err != nil {
			s.log.Warn("bad request", zap.Error(err))
			continue
		}
		body := buf[inHeaderSize:hdr.Len]

		if done := s.dispatch(hdr, body); done {
			return nil
		}
	}
}

// dispatch decodes one request and hands it to ops. It reports whether
// the session is over.
func (s *session) dispatch(hdr inHeader, body []byte) bool {
	switch hdr.Opcode {
	case opOpen:
		in, err := decodeOpenIn(body)
		if err != nil {
			s.replyBad(hdr, err)
			return false
		}
		s.ops.Open(&openRequest{
			request: request{s: s, unique: hdr.Unique},
			flags:   in.Flags,
		})

	case opRead:
		in, err := decodeReadIn(body)
		if err != nil {
			s.replyBad(hdr, err)
			return false
		}
		s.ops.Read(&readRequest{
			request:     request{s: s, unique: hdr.Unique, fh: in.Fh},
			size:        int(in.Size),
			nonBlocking: in.Flags&unix.O_NONBLOCK != 0,
		})

	case opIoctl:
		in, err := decodeIoctlIn(body)
		if err != nil {
			s.replyBad(hdr, err)
			return false
		}
		data := make([]byte, len(in.In))
		copy(data, in.In)
		s.ops.Ioctl(&ioctlRequest{
			request: request{s: s, unique: hdr.Unique, fh: in.Fh},
			cmd:     in.Cmd,
			arg:     in.Arg,
			in:      data,
			outSize: int(in.OutSize),
		})

	case opPoll:
		in, err := decodePollIn(body)
		if err != nil {
			s.replyBad(hdr, err)
			return false
		}
		req := &pollRequest{
			request: request{s: s, unique: hdr.Unique, fh: in.Fh},
		}
		if in.Flags&pollScheduleNotify != 0 {
			req.handle = &pollHandle{s: s, kh: in.Kh}
		}
		s.ops.Poll(req)

	case opRelease:
		in, err := decodeReleaseIn(body)
		if err != nil {
			s.replyBad(hdr, err)
			return false
		}
		s.ops.Release(&releaseRequest{
			request: request{s: s, unique: hdr.Unique, fh: in.Fh},
		})

	case opInterrupt:
		in, err := decodeInterruptIn(body)
		if err != nil {
			s.log.Warn("bad interrupt request", zap.Error(err))
			return false
		}
		s.mu.Lock()
		fn := s.interrupts[in.Unique]
		s.mu.Unlock()
		if fn != nil {
			fn()
		}

	case opDestroy:
		s.writeReply(hdr.Unique, 0, nil)
		return true

	default:
		s.log.Debug("unsupported opcode", zap.Uint32("opcode", hdr.Opcode))
		s.writeReply(hdr.Unique, -int32(unix.ENOSYS), nil)
	}
	return false
}

func (s *session) replyBad(hdr inHeader, err error) {
	s.log.Warn("bad request", zap.Uint32("opcode", hdr.Opcode), zap.Error(err))
	s.writeReply(hdr.Unique, -int32(unix.EINVAL), nil)
}

func (s *session) setInterrupt(unique uint64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts[unique] = fn
}

func (s *session) clearInterrupt(unique uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.interrupts, unique)
}

func (s *session) writeReply(unique uint64, errno int32, payload []byte) error {
	return s.writeRaw(encodeReply(unique, errno, payload))
}

func (s *session) writeRaw(buf []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.ctl.Write(buf); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	return nil
}

// request carries the identity shared by every descriptor request.
// Replying clears any interrupt registration for the request.
type request struct {
	s      *session
	unique uint64
	fh     uint64
}

func (r *request) Fh() uint64 {
	return r.fh
}

func (r *request) ReplyErr(errno unix.Errno) error {
	return r.reply(-int32(errno), nil)
}

func (r *request) reply(errno int32, payload []byte) error {
	r.s.clearInterrupt(r.unique)
	return r.s.writeReply(r.unique, errno, payload)
}

type openRequest struct {
	request
	flags uint32
}

func (r *openRequest) Flags() uint32 {
	return r.flags
}

func (r *openRequest) ReplyOpen(fh uint64, directIO bool) error {
	return r.reply(0, encodeOpenOut(fh, directIO))
}

type readRequest struct {
	request
	size        int
	nonBlocking bool
}

func (r *readRequest) Size() int {
	return r.size
}

func (r *readRequest) NonBlocking() bool {
	return r.nonBlocking
}

func (r *readRequest) ReplyData(b []byte) error {
	return r.reply(0, b)
}

func (r *readRequest) OnInterrupt(fn func()) {
	r.s.setInterrupt(r.unique, fn)
}

type ioctlRequest struct {
	request
	cmd     uint32
	arg     uint64
	in      []byte
	outSize int
}

func (r *ioctlRequest) Cmd() uint32 {
	return r.cmd
}

func (r *ioctlRequest) Arg() uint64 {
	return r.arg
}

func (r *ioctlRequest) InData() []byte {
	return r.in
}

func (r *ioctlRequest) OutSize() int {
	return r.outSize
}

func (r *ioctlRequest) ReplyIoctl(result int32, data []byte) error {
	return r.reply(0, encodeIoctlOut(result, 0, 0, 0, data))
}

func (r *ioctlRequest) ReplyRetryIn(arg uint64, size int) error {
	return r.reply(0, encodeIoctlOut(0, ioctlRetry, 1, 0, encodeIoctlIovec(arg, size)))
}

func (r *ioctlRequest) ReplyRetryOut(arg uint64, size int) error {
	return r.reply(0, encodeIoctlOut(0, ioctlRetry, 0, 1, encodeIoctlIovec(arg, size)))
}

type pollRequest struct {
	request
	handle *pollHandle
}

func (r *pollRequest) Handle() devhost.PollHandle {
	if r.handle == nil {
		return nil
	}
	return r.handle
}

func (r *pollRequest) ReplyPoll(revents uint32) error {
	return r.reply(0, encodePollOut(revents))
}

type releaseRequest struct {
	request
}

// pollHandle is a kernel poll registration. The kernel drops the
// registration once notified, so Destroy has nothing to send.
type pollHandle struct {
	s  *session
	kh uint64
}

func (h *pollHandle) Kh() uint64 {
	return h.kh
}

func (h *pollHandle) Notify() error {
	return h.s.writeRaw(encodePollNotify(h.kh))
}

func (h *pollHandle) Destroy() {}
