package joymodel

import (
	"go.uber.org/atomic"

	"github.com/stickshift-dev/stickshift/internal/jsio"
)

// Input is a single control in the input graph. Feeding it a value may
// emit a change on its signal.
type Input interface {
	Input(time uint32, value int16, init bool)
	Value() int16
	Changed() *ChangeSignal
}

// Axis is a proportional control. It suppresses repeats of the current
// value, except during an initial state sweep, where it adopts the
// value unconditionally.
type Axis struct {
	code    uint8
	value   int16
	changed ChangeSignal
}

func NewAxis(code uint8) *Axis {
	return &Axis{code: code}
}

func (a *Axis) Code() uint8 {
	return a.code
}

func (a *Axis) Input(time uint32, value int16, init bool) {
	if !init && value == a.value {
		return
	}
	a.value = value
	a.changed.Emit(time, value, init)
}

func (a *Axis) Value() int16 {
	return a.value
}

func (a *Axis) Changed() *ChangeSignal {
	return &a.changed
}

var buttonSerial atomic.Uint64

// Button is a two-state control carrying a key code and an ordering
// position. The first input it sees is always forwarded; after that
// repeats of the current value are suppressed.
//
// The serial is assigned at creation and breaks ordering ties between
// buttons sharing an order, keeping enumeration stable across opens.
type Button struct {
	code        uint16
	order       int
	serial      uint64
	value       int16
	initialized bool
	changed     ChangeSignal
}

func NewButton(code uint16, order int) *Button {
	return &Button{code: code, order: order, serial: buttonSerial.Inc()}
}

func (b *Button) Input(time uint32, value int16, init bool) {
	if b.initialized && value == b.value {
		return
	}
	b.initialized = true
	b.value = value
	b.changed.Emit(time, value, init)
}

func (b *Button) Value() int16 {
	return b.value
}

func (b *Button) Changed() *ChangeSignal {
	return &b.changed
}

func (b *Button) Code() uint16 {
	return b.code
}

func (b *Button) Order() int {
	return b.order
}

// Less orders buttons by position, with the creation serial as the
// tie-break.
func (b *Button) Less(other *Button) bool {
	if b.order != other.order {
		return b.order < other.order
	}
	return b.serial < other.serial
}

// HatButton turns one direction of an axis into a button: pressed while
// the axis value is strictly positive (or strictly negative when the
// button covers the negative direction). It stays connected to the axis
// for the life of the graph.
type HatButton struct {
	Button
	positive bool
}

func NewHatButton(axis *Axis, positive bool) *HatButton {
	h := &HatButton{positive: positive}
	h.code = jsio.BtnMisc
	h.serial = buttonSerial.Inc()
	axis.Changed().Connect(h.Input)
	return h
}

func (h *HatButton) Input(time uint32, value int16, init bool) {
	if !h.positive {
		value = -value
	}
	var pressed int16
	if value > 0 {
		pressed = 1
	}
	h.Button.Input(time, pressed, init)
}
