package joymodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type change struct {
	time  uint32
	value int16
	init  bool
}

func record(sig *ChangeSignal) *[]change {
	var got []change
	sig.Connect(func(time uint32, value int16, init bool) {
		got = append(got, change{time, value, init})
	})
	return &got
}

func TestAxisSuppressesRepeats(t *testing.T) {
	a := NewAxis(3)
	got := record(a.Changed())

	a.Input(1, 100, false)
	a.Input(2, 100, false)
	a.Input(3, -100, false)

	assert.Equal(t, []change{{1, 100, false}, {3, -100, false}}, *got)
	assert.Equal(t, int16(-100), a.Value())
	assert.Equal(t, uint8(3), a.Code())
}

func TestAxisInitAlwaysEmits(t *testing.T) {
	a := NewAxis(0)
	got := record(a.Changed())

	a.Input(1, 0, true)
	a.Input(2, 0, true)

	assert.Equal(t, []change{{1, 0, true}, {2, 0, true}}, *got)
}

func TestButtonFirstInputFires(t *testing.T) {
	b := NewButton(0x120, 4)
	got := record(b.Changed())

	b.Input(1, 0, false)
	b.Input(2, 0, false)
	b.Input(3, 1, false)
	b.Input(4, 1, false)

	assert.Equal(t, []change{{1, 0, false}, {3, 1, false}}, *got)
	assert.Equal(t, uint16(0x120), b.Code())
	assert.Equal(t, 4, b.Order())
}

func TestHatButtonDirections(t *testing.T) {
	axis := NewAxis(16)
	neg := NewHatButton(axis, false)
	pos := NewHatButton(axis, true)
	gotNeg := record(neg.Changed())
	gotPos := record(pos.Changed())

	axis.Input(1, -32767, false)
	axis.Input(2, 0, false)
	axis.Input(3, 32767, false)

	assert.Equal(t, []change{{1, 1, false}, {2, 0, false}}, *gotNeg)
	assert.Equal(t, []change{{1, 0, false}, {3, 1, false}}, *gotPos)
}

func TestConnectionClose(t *testing.T) {
	var sig ChangeSignal
	var got []change
	conn := sig.Connect(func(time uint32, value int16, init bool) {
		got = append(got, change{time, value, init})
	})

	sig.Emit(1, 5, false)
	conn.Close()
	conn.Close()
	sig.Emit(2, 6, false)

	assert.Equal(t, []change{{1, 5, false}}, got)
}
