package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/stickshift-dev/stickshift/internal/devhost"
	"github.com/stickshift-dev/stickshift/internal/jsio"
)

type fakeSource struct {
	fd     int
	events []jsio.Event
	err    error
	closed bool
}

func (s *fakeSource) Fd() int { return s.fd }

func (s *fakeSource) ReadAll(fn func(jsio.Event)) error {
	for _, ev := range s.events {
		fn(ev)
	}
	s.events = nil
	return s.err
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// fakeDevice passes every input event straight through to the
// subscriber, the way an identity map would.
type fakeDevice struct {
	name      string
	version   uint32
	axisCodes []uint8
	btnCodes  []uint16
	corr      []jsio.Correction
	setErr    error
	fn        func(ev jsio.Event, init bool)
}

func (d *fakeDevice) Name() string          { return d.name }
func (d *fakeDevice) Version() uint32       { return d.version }
func (d *fakeDevice) NumButtons() int       { return len(d.btnCodes) }
func (d *fakeDevice) NumAxes() int          { return len(d.axisCodes) }
func (d *fakeDevice) AxisCode(i int) uint8  { return d.axisCodes[i] }
func (d *fakeDevice) ButtonCode(i int) uint16 { return d.btnCodes[i] }

func (d *fakeDevice) Correction() ([]jsio.Correction, error) {
	return append([]jsio.Correction(nil), d.corr...), nil
}

func (d *fakeDevice) SetCorrection(corr []jsio.Correction) error {
	if d.setErr != nil {
		return d.setErr
	}
	d.corr = append([]jsio.Correction(nil), corr...)
	return nil
}

func (d *fakeDevice) Input(ev jsio.Event) {
	init := ev.Type&jsio.EventInit != 0
	ev.Type &^= jsio.EventInit
	d.fn(ev, init)
}

func (d *fakeDevice) OnEvent(fn func(ev jsio.Event, init bool)) {
	d.fn = fn
}

type fakeRequest struct {
	fh         uint64
	errno      unix.Errno
	errReplied bool
}

func (r *fakeRequest) Fh() uint64 { return r.fh }

func (r *fakeRequest) ReplyErr(errno unix.Errno) error {
	r.errno = errno
	r.errReplied = true
	return nil
}

type fakeReadRequest struct {
	fakeRequest
	size        int
	nonBlocking bool
	data        []byte
	dataReplied bool
	interrupt   func()
}

func (r *fakeReadRequest) Size() int         { return r.size }
func (r *fakeReadRequest) NonBlocking() bool { return r.nonBlocking }

func (r *fakeReadRequest) ReplyData(b []byte) error {
	r.data = append([]byte(nil), b...)
	r.dataReplied = true
	return nil
}

func (r *fakeReadRequest) OnInterrupt(fn func()) {
	r.interrupt = fn
}

type retryReply struct {
	arg  uint64
	size int
}

type fakeIoctlRequest struct {
	fakeRequest
	cmd     uint32
	arg     uint64
	in      []byte
	outSize int

	result       int32
	data         []byte
	ioctlReplied bool
	retryIn      *retryReply
	retryOut     *retryReply
}

func (r *fakeIoctlRequest) Cmd() uint32    { return r.cmd }
func (r *fakeIoctlRequest) Arg() uint64    { return r.arg }
func (r *fakeIoctlRequest) InData() []byte { return r.in }
func (r *fakeIoctlRequest) OutSize() int   { return r.outSize }

func (r *fakeIoctlRequest) ReplyIoctl(result int32, data []byte) error {
	r.result = result
	r.data = append([]byte(nil), data...)
	r.ioctlReplied = true
	return nil
}

func (r *fakeIoctlRequest) ReplyRetryIn(arg uint64, size int) error {
	r.retryIn = &retryReply{arg: arg, size: size}
	return nil
}

func (r *fakeIoctlRequest) ReplyRetryOut(arg uint64, size int) error {
	r.retryOut = &retryReply{arg: arg, size: size}
	return nil
}

type fakePollHandle struct {
	kh        uint64
	notified  bool
	destroyed bool
}

func (h *fakePollHandle) Kh() uint64 { return h.kh }

func (h *fakePollHandle) Notify() error {
	h.notified = true
	return nil
}

func (h *fakePollHandle) Destroy() {
	h.destroyed = true
}

type fakePollRequest struct {
	fakeRequest
	handle      *fakePollHandle
	revents     uint32
	pollReplied bool
}

func (r *fakePollRequest) Handle() devhost.PollHandle {
	if r.handle == nil {
		return nil
	}
	return r.handle
}

func (r *fakePollRequest) ReplyPoll(revents uint32) error {
	r.revents = revents
	r.pollReplied = true
	return nil
}

func newTestFile(t *testing.T, src *fakeSource, dev *fakeDevice) *File {
	t.Helper()
	wake, err := newWaitPipe()
	require.NoError(t, err)
	t.Cleanup(wake.Close)
	return newFile(zap.NewNop(), wake, src, dev)
}

func TestFileReadSortsEvents(t *testing.T) {
	src := &fakeSource{events: []jsio.Event{
		{Time: 5, Value: 1, Type: jsio.EventButton, Number: 1},
		{Time: 2, Value: 7, Type: jsio.EventAxis, Number: 0},
	}}
	f := newTestFile(t, src, &fakeDevice{})

	req := &fakeReadRequest{size: 32}
	f.Read(req)

	require.True(t, req.dataReplied)
	require.Len(t, req.data, 2*jsio.EventSize)
	assert.Equal(t, jsio.Event{Time: 2, Value: 7, Type: jsio.EventAxis, Number: 0},
		jsio.DecodeEvent(req.data))
	assert.Equal(t, jsio.Event{Time: 5, Value: 1, Type: jsio.EventButton, Number: 1},
		jsio.DecodeEvent(req.data[jsio.EventSize:]))
}

func TestFileReadPartial(t *testing.T) {
	src := &fakeSource{events: []jsio.Event{
		{Time: 1, Value: 1, Type: jsio.EventButton, Number: 0},
		{Time: 2, Value: 0, Type: jsio.EventButton, Number: 0},
	}}
	f := newTestFile(t, src, &fakeDevice{})

	first := &fakeReadRequest{size: jsio.EventSize}
	f.Read(first)
	require.True(t, first.dataReplied)
	assert.Equal(t, uint32(1), jsio.DecodeEvent(first.data).Time)

	// The rest of the queue is served without new device input.
	second := &fakeReadRequest{size: jsio.EventSize}
	f.Read(second)
	require.True(t, second.dataReplied)
	assert.Equal(t, uint32(2), jsio.DecodeEvent(second.data).Time)
}

func TestFileReadMarksInitEvents(t *testing.T) {
	src := &fakeSource{events: []jsio.Event{
		{Time: 1, Value: 0, Type: jsio.EventButton | jsio.EventInit, Number: 0},
	}}
	f := newTestFile(t, src, &fakeDevice{})

	req := &fakeReadRequest{size: jsio.EventSize}
	f.Read(req)

	require.True(t, req.dataReplied)
	assert.Equal(t, jsio.EventButton|jsio.EventInit, jsio.DecodeEvent(req.data).Type)
}

func TestFileReadNonBlocking(t *testing.T) {
	f := newTestFile(t, &fakeSource{}, &fakeDevice{})

	req := &fakeReadRequest{size: 32, nonBlocking: true}
	f.Read(req)

	assert.True(t, req.errReplied)
	assert.Equal(t, unix.EWOULDBLOCK, req.errno)
	assert.False(t, f.WantInput())
}

func TestFileReadSmallBuffer(t *testing.T) {
	src := &fakeSource{events: []jsio.Event{
		{Time: 1, Value: 1, Type: jsio.EventButton, Number: 0},
	}}
	f := newTestFile(t, src, &fakeDevice{})

	req := &fakeReadRequest{size: jsio.EventSize - 1}
	f.Read(req)

	// Too small for one event: an empty reply, the event stays queued.
	require.True(t, req.dataReplied)
	assert.Empty(t, req.data)

	next := &fakeReadRequest{size: jsio.EventSize}
	f.Read(next)
	require.True(t, next.dataReplied)
	assert.Len(t, next.data, jsio.EventSize)
}

func TestFileReadParksUntilInput(t *testing.T) {
	src := &fakeSource{}
	f := newTestFile(t, src, &fakeDevice{})

	req := &fakeReadRequest{size: 32}
	f.Read(req)
	assert.False(t, req.dataReplied)
	assert.True(t, f.WantInput())

	src.events = []jsio.Event{{Time: 9, Value: 1, Type: jsio.EventButton, Number: 2}}
	f.ReadAvailable()

	require.True(t, req.dataReplied)
	assert.Equal(t, uint32(9), jsio.DecodeEvent(req.data).Time)
	assert.False(t, f.WantInput())
}

func TestFileReadInterrupted(t *testing.T) {
	f := newTestFile(t, &fakeSource{}, &fakeDevice{})

	req := &fakeReadRequest{size: 32}
	f.Read(req)
	require.NotNil(t, req.interrupt)

	req.interrupt()
	assert.True(t, req.errReplied)
	assert.Equal(t, unix.EINTR, req.errno)
	assert.False(t, f.WantInput())
}

func TestFilePoll(t *testing.T) {
	src := &fakeSource{}
	f := newTestFile(t, src, &fakeDevice{})

	handle := &fakePollHandle{kh: 7}
	req := &fakePollRequest{handle: handle}
	f.Poll(req)

	require.True(t, req.pollReplied)
	assert.Zero(t, req.revents)
	assert.True(t, f.WantInput())

	src.events = []jsio.Event{{Time: 1, Value: 1, Type: jsio.EventButton, Number: 0}}
	f.ReadAvailable()

	assert.True(t, handle.notified)
	assert.True(t, handle.destroyed)
	assert.False(t, f.WantInput())

	// With events queued the next poll reports readable.
	again := &fakePollRequest{}
	f.Poll(again)
	assert.Equal(t, uint32(unix.POLLIN), again.revents)
}

func TestFilePollReplacesHandle(t *testing.T) {
	f := newTestFile(t, &fakeSource{}, &fakeDevice{})

	first := &fakePollHandle{kh: 1}
	f.Poll(&fakePollRequest{handle: first})
	second := &fakePollHandle{kh: 2}
	f.Poll(&fakePollRequest{handle: second})

	assert.True(t, first.destroyed)
	assert.False(t, second.destroyed)
}

func TestFileClose(t *testing.T) {
	src := &fakeSource{}
	f := newTestFile(t, src, &fakeDevice{})

	req := &fakeReadRequest{size: 32}
	f.Read(req)
	handle := &fakePollHandle{kh: 3}
	f.Poll(&fakePollRequest{handle: handle})

	require.NoError(t, f.Close())

	assert.True(t, req.errReplied)
	assert.Equal(t, unix.EIO, req.errno)
	assert.True(t, handle.destroyed)
	assert.True(t, src.closed)
}
