package bridge

import (
	"fmt"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// waitPipe wakes the I/O loop out of its poll. A 'n' byte asks the
// loop to rebuild its descriptor set, a 'y' byte asks it to exit.
type waitPipe struct {
	r, w   int
	closed atomic.Bool
}

func newWaitPipe() (*waitPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create wait pipe: %w", err)
	}
	return &waitPipe{r: fds[0], w: fds[1]}, nil
}

func (p *waitPipe) WaitFd() int {
	return p.r
}

func (p *waitPipe) Notify() {
	p.send('n')
}

func (p *waitPipe) Exit() {
	p.send('y')
}

func (p *waitPipe) send(b byte) {
	if p.closed.Load() {
		return
	}
	unix.Write(p.w, []byte{b})
}

func (p *waitPipe) Close() {
	if p.closed.Swap(true) {
		return
	}
	unix.Close(p.w)
	unix.Close(p.r)
}
