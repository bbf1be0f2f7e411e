package joymodel

// Slot receives a value change: the event timestamp in driver
// milliseconds, the new value and whether the change is part of an
// initial state sweep.
type Slot func(time uint32, value int16, init bool)

// ChangeSignal delivers value changes to connected slots synchronously,
// in connection order. The zero value is ready to use.
type ChangeSignal struct {
	conns []*Connection
}

// Connection is a single slot attached to a ChangeSignal.
type Connection struct {
	sig    *ChangeSignal
	fn     Slot
	closed bool
}

// Connect attaches fn to the signal and returns its connection handle.
func (s *ChangeSignal) Connect(fn Slot) *Connection {
	c := &Connection{sig: s, fn: fn}
	s.conns = append(s.conns, c)
	return c
}

// Emit delivers a change to every connected slot. A slot connected
// while an emit is in flight is first called on the next emit; a slot
// closed during an emit is not called for the rest of it.
func (s *ChangeSignal) Emit(time uint32, value int16, init bool) {
	snapshot := s.conns
	for _, c := range snapshot {
		if c.closed {
			continue
		}
		c.fn(time, value, init)
	}
}

// Close detaches the slot from its signal. Closing an already closed
// connection is a no-op.
func (c *Connection) Close() {
	if c.closed || c.sig == nil {
		return
	}
	c.closed = true
	conns := c.sig.conns
	for i, other := range conns {
		if other == c {
			c.sig.conns = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	c.sig = nil
}
