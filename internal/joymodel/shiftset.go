package joymodel

import "fmt"

type condition struct {
	button *Button
	state  int16
}

type conditionState struct {
	condition condition
	subShifts []*ShiftSet
}

// ShiftSet multiplexes a set of input buttons onto one output button
// per condition slot. Exactly one slot is selected at a time; observing
// a condition button at its trigger state rotates the slots registered
// for that condition and selects the new front.
type ShiftSet struct {
	inputs          *ButtonSet
	currentSet      int
	shiftMap        map[*Button][]*Button
	rotationMap     map[condition][]int
	conditionStates []conditionState
}

// NewShiftSet builds a shift set over the given inputs and subscribes
// to their change signals. Condition slots are added afterwards with
// AddCondition.
func NewShiftSet(inputs *ButtonSet) *ShiftSet {
	s := &ShiftSet{
		inputs:      inputs,
		shiftMap:    make(map[*Button][]*Button),
		rotationMap: make(map[condition][]int),
	}
	for _, in := range inputs.Buttons() {
		in := in
		in.Changed().Connect(func(time uint32, value int16, init bool) {
			s.routeInput(time, value, init, in)
		})
	}
	return s
}

func (s *ShiftSet) Inputs() *ButtonSet {
	return s.inputs
}

// AddCondition appends a new slot selected when button is observed at
// state. Every input gets an output button for the slot: one from
// shared where present, otherwise a fresh button carrying the input's
// code. The first slot keeps the input orders; later slots consume
// fresh orders from the counter, reused outputs included. Returns the
// input to output mapping for the slot.
func (s *ShiftSet) AddCondition(button *Button, state int16, shared ButtonMapping, order *int) (ButtonMapping, error) {
	if s.inputs.Contains(button) {
		return nil, fmt.Errorf("condition button is an input of the shift")
	}

	outputs := make(ButtonMapping, s.inputs.Len())
	firstSet := len(s.shiftMap) == 0
	for _, in := range s.inputs.Buttons() {
		ord := in.Order()
		if !firstSet {
			ord = *order
			*order++
		}
		out, ok := shared[in]
		if !ok {
			out = NewButton(in.Code(), ord)
		}
		slots := s.shiftMap[in]
		if len(slots) != len(s.conditionStates) {
			panic("joymodel: shift slot count out of sync with condition states")
		}
		s.shiftMap[in] = append(slots, out)
		outputs[in] = out
	}

	slot := len(s.conditionStates)
	cond := condition{button: button, state: state}
	if len(s.rotationMap[cond]) == 0 {
		button.Changed().Connect(func(time uint32, value int16, init bool) {
			s.shiftInput(time, value, init, cond)
		})
	}
	s.rotationMap[cond] = append(s.rotationMap[cond], slot)
	s.conditionStates = append(s.conditionStates, conditionState{condition: cond})

	return outputs, nil
}

// SetSubShifts records the shift sets nested under the most recently
// added condition, for output enumeration.
func (s *ShiftSet) SetSubShifts(shifts []*ShiftSet) {
	s.conditionStates[len(s.conditionStates)-1].subShifts = shifts
}

// AllOutputs folds this set's outputs into out: inputs and condition
// buttons are removed, every slot's outputs and the outputs of nested
// shifts are added.
func (s *ShiftSet) AllOutputs(out *ButtonSet) {
	for _, in := range s.inputs.Buttons() {
		out.Remove(in)
	}
	for _, in := range s.inputs.Buttons() {
		for _, b := range s.shiftMap[in] {
			out.Add(b)
		}
	}
	for _, cs := range s.conditionStates {
		out.Remove(cs.condition.button)
		for _, sub := range cs.subShifts {
			sub.AllOutputs(out)
		}
	}
}

func (s *ShiftSet) routeInput(time uint32, value int16, init bool, in *Button) {
	outputs, ok := s.shiftMap[in]
	if !ok || s.currentSet >= len(outputs) {
		return
	}

	outputs[s.currentSet].Input(time, value, init)

	// An init sweep settles the unselected slots at released.
	if init {
		for j, out := range outputs {
			if j != s.currentSet {
				out.Input(time, 0, init)
			}
		}
	}
}

func (s *ShiftSet) shiftInput(time uint32, value int16, init bool, cond condition) {
	if value != cond.state {
		return
	}

	rotations := s.rotationMap[cond]
	front := rotations[0]
	copy(rotations, rotations[1:])
	rotations[len(rotations)-1] = front

	newSet := rotations[0]
	if s.currentSet == newSet {
		return
	}

	// Carry the live values over to the newly selected slot and settle
	// the old one at released.
	for _, in := range s.inputs.Buttons() {
		slots := s.shiftMap[in]
		if slots[newSet] == slots[s.currentSet] {
			continue
		}
		old := slots[s.currentSet].Value()
		slots[s.currentSet].Input(time, 0, init)
		slots[newSet].Input(time, old, init)
	}
	s.currentSet = newSet
}
