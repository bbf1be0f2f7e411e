// Package devhost defines the contract between the event bridge and
// the framework hosting the virtual character device. The host decodes
// kernel requests, hands them to an Ops implementation and carries the
// replies back; the bridge stays free of wire details.
package devhost

import (
	"context"

	"golang.org/x/sys/unix"
)

// Request is the part every descriptor-bound request shares. ReplyErr
// with errno 0 acknowledges success for requests that carry no data.
type Request interface {
	Fh() uint64
	ReplyErr(errno unix.Errno) error
}

// OpenRequest asks for a new descriptor. The handler picks the file
// handle the kernel will pass back on subsequent requests.
type OpenRequest interface {
	Flags() uint32
	ReplyOpen(fh uint64, directIO bool) error
	ReplyErr(errno unix.Errno) error
}

// ReadRequest asks for up to Size bytes. A reply may carry fewer bytes
// than requested. A handler that wants to block keeps the request and
// registers an interrupt callback instead of replying.
type ReadRequest interface {
	Request
	Size() int
	NonBlocking() bool
	ReplyData(b []byte) error
	OnInterrupt(fn func())
}

// IoctlRequest carries an unrestricted ioctl. Until the kernel has
// been told the transfer sizes via a retry reply, InData is empty and
// OutSize is zero.
type IoctlRequest interface {
	Request
	Cmd() uint32
	Arg() uint64
	InData() []byte
	OutSize() int
	ReplyIoctl(result int32, data []byte) error
	ReplyRetryIn(arg uint64, size int) error
	ReplyRetryOut(arg uint64, size int) error
}

// PollHandle identifies a kernel poll registration. Notify tells the
// kernel the descriptor became ready; Destroy releases the handle
// without notifying.
type PollHandle interface {
	Kh() uint64
	Notify() error
	Destroy()
}

// PollRequest asks for the descriptor's current readiness. Handle is
// nil when the kernel did not register for a wakeup.
type PollRequest interface {
	Request
	Handle() PollHandle
	ReplyPoll(revents uint32) error
}

type ReleaseRequest interface {
	Request
}

// Ops is implemented by the event bridge. Destroy is called once when
// the session is being torn down.
type Ops interface {
	Open(req OpenRequest)
	Read(req ReadRequest)
	Ioctl(req IoctlRequest)
	Poll(req PollRequest)
	Release(req ReleaseRequest)
	Destroy()
}

// Transport runs a device host session, dispatching requests to ops
// until the context is cancelled or the session ends.
type Transport interface {
	Serve(ctx context.Context, ops Ops) error
}
