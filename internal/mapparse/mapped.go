package mapparse

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/stickshift-dev/stickshift/internal/joymodel"
	"github.com/stickshift-dev/stickshift/internal/jsio"
)

// Device is the real joystick a map is applied to.
type Device interface {
	Name() string
	Version() uint32
	AxisMap() []uint8
	ButtonMap() []uint16
	Correction() ([]jsio.Correction, error)
	SetCorrection([]jsio.Correction) error
}

// Mapped is the virtual joystick described by a map file: the real
// device's controls routed through the shift graph, renumbered into
// the surviving axes and the mapped button set.
type Mapped struct {
	log       *zap.Logger
	dev       Device
	doc       *etree.Document
	configOut string

	name    string
	version uint32

	inButtons []*joymodel.Button
	inAxes    []*joymodel.Axis
	shifts    []*joymodel.ShiftSet
	buttons   []*joymodel.Button
	axes      []int
}

// New parses the map file and builds the input graph over dev. The
// virtual device takes the real device's name behind a "StickShift: "
// prefix and reports its driver version. When configOut is non-empty,
// corrections set on the virtual device are also written back to that
// file.
func New(log *zap.Logger, dev Device, mapPath, configOut string) (*Mapped, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(mapPath); err != nil {
		return nil, fmt.Errorf("failed to read map %s: %w", mapPath, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("map %s has no root element", mapPath)
	}

	m := &Mapped{
		log:       log,
		dev:       dev,
		doc:       doc,
		configOut: configOut,
		name:      "StickShift: " + dev.Name(),
		version:   dev.Version(),
	}

	ctx := joymodel.NewInputContext(log)
	for _, code := range dev.AxisMap() {
		axis := joymodel.NewAxis(code)
		m.inAxes = append(m.inAxes, axis)
		ctx.Axes = append(ctx.Axes, axis)
	}
	top := ctx.Bucket("")
	for i, code := range dev.ButtonMap() {
		b := joymodel.NewButton(code, i)
		m.inButtons = append(m.inButtons, b)
		if b.Order() > ctx.ButtonOrder {
			ctx.ButtonOrder = b.Order()
		}
		ctx.Buttons[strconv.Itoa(i)] = joymodel.NewButtonSet(b)
		top.Add(b)
	}

	p := &parser{log: log, ctx: ctx}
	for _, el := range root.ChildElements() {
		var err error
		switch el.Tag {
		case "bset":
			_, err = p.bset(el)
		case "axisbuttons":
			_, err = p.axisButtons(el)
		case "shift":
			var shift *joymodel.ShiftSet
			if shift, err = p.shift(el); err == nil {
				m.shifts = append(m.shifts, shift)
			}
		case "calibrate":
			var cal Calibration
			if cal, err = parseCalibrate(el); err == nil {
				err = applyCalibration(dev, cal)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse map %s: %w", mapPath, err)
		}
	}

	all := ctx.Bucket("").Clone()
	for _, shift := range m.shifts {
		shift.AllOutputs(all)
	}
	for _, b := range all.Buttons() {
		if !ctx.Conditionals.Contains(b) {
			m.buttons = append(m.buttons, b)
		}
	}
	for i, axis := range ctx.Axes {
		if axis != nil {
			m.axes = append(m.axes, i)
		}
	}

	log.Info("map applied",
		zap.String("device", m.name),
		zap.Int("buttons", len(m.buttons)),
		zap.Int("axes", len(m.axes)),
		zap.Int("shifts", len(m.shifts)),
	)
	return m, nil
}

func (m *Mapped) Name() string    { return m.name }
func (m *Mapped) Version() uint32 { return m.version }

func (m *Mapped) NumButtons() int { return len(m.buttons) }
func (m *Mapped) NumAxes() int    { return len(m.axes) }

// AxisCode returns the input code of the real axis behind virtual axis i.
func (m *Mapped) AxisCode(i int) uint8 {
	return m.inAxes[m.axes[i]].Code()
}

// ButtonCode returns the input code of virtual button i.
func (m *Mapped) ButtonCode(i int) uint16 {
	return m.buttons[i].Code()
}

// Input routes one event from the real device into the graph.
func (m *Mapped) Input(ev jsio.Event) {
	init := ev.Type&jsio.EventInit != 0
	switch ev.Type &^ jsio.EventInit {
	case jsio.EventButton:
		if int(ev.Number) < len(m.inButtons) {
			m.inButtons[ev.Number].Input(ev.Time, ev.Value, init)
		}
	case jsio.EventAxis:
		if int(ev.Number) < len(m.inAxes) {
			m.inAxes[ev.Number].Input(ev.Time, ev.Value, init)
		}
	}
}

// OnEvent subscribes fn to every virtual control. The event's type and
// number identify the control; the init flag is passed alongside so
// the caller can mark synthetic initial state.
func (m *Mapped) OnEvent(fn func(ev jsio.Event, init bool)) {
	for i, b := range m.buttons {
		number := uint8(i)
		b.Changed().Connect(func(time uint32, value int16, init bool) {
			fn(jsio.Event{Time: time, Value: value, Type: jsio.EventButton, Number: number}, init)
		})
	}
	for i, axisIdx := range m.axes {
		number := uint8(i)
		m.inAxes[axisIdx].Changed().Connect(func(time uint32, value int16, init bool) {
			fn(jsio.Event{Time: time, Value: value, Type: jsio.EventAxis, Number: number}, init)
		})
	}
}

// Correction reads the real device's corrections, renumbered to the
// virtual axes.
func (m *Mapped) Correction() ([]jsio.Correction, error) {
	orig, err := m.dev.Correction()
	if err != nil {
		return nil, err
	}
	out := make([]jsio.Correction, len(m.axes))
	for i, axis := range m.axes {
		out[i] = orig[axis]
	}
	return out, nil
}

// SetCorrection applies corrections for the virtual axes to the real
// device, leaving consumed axes untouched, and persists the full set
// to the calibration file when one is configured.
func (m *Mapped) SetCorrection(in []jsio.Correction) error {
	orig, err := m.dev.Correction()
	if err != nil {
		return err
	}
	for i, axis := range m.axes {
		orig[axis] = in[i]
	}
	if err := m.dev.SetCorrection(orig); err != nil {
		return err
	}

	if m.configOut == "" {
		return nil
	}

	mapped := make(map[int]bool, len(m.axes))
	for _, axis := range m.axes {
		mapped[axis] = true
	}
	for i := range orig {
		if !mapped[i] {
			orig[i].Type = corrUnmapped
		}
	}

	root := m.doc.Root()
	removeAutogeneratedCalibrations(root)
	addCalibrationElement(root, orig)
	if err := m.doc.WriteToFile(m.configOut); err != nil {
		return fmt.Errorf("failed to write calibration to %s: %w", m.configOut, err)
	}
	m.log.Info("calibration written", zap.String("path", m.configOut))
	return nil
}
