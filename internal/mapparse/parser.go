// Package mapparse reads the XML button map, builds the input graph it
// describes and presents the result as a mapped joystick.
package mapparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/stickshift-dev/stickshift/internal/joymodel"
)

type parser struct {
	log *zap.Logger
	ctx *joymodel.InputContext
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
}

// bset collects buttons named by the use attribute, a begin/end numeric
// range and nested bset/axisbuttons children. A name attribute
// publishes the collected set as a bucket.
func (p *parser) bset(el *etree.Element) (*joymodel.ButtonSet, error) {
	var set *joymodel.ButtonSet
	if attr := el.SelectAttr("use"); attr != nil {
		var err error
		set, err = p.ctx.LookupMultiple(attr.Value)
		if err != nil {
			return nil, err
		}
	} else {
		set = joymodel.NewButtonSet()
	}

	beginAttr, endAttr := el.SelectAttr("begin"), el.SelectAttr("end")
	if beginAttr != nil && endAttr != nil {
		begin, err := strconv.Atoi(beginAttr.Value)
		if err != nil {
			return nil, fmt.Errorf("bad bset begin '%s'", beginAttr.Value)
		}
		end, err := strconv.Atoi(endAttr.Value)
		if err != nil {
			return nil, fmt.Errorf("bad bset end '%s'", endAttr.Value)
		}
		// Numbers that don't resolve are skipped.
		for ; begin <= end; begin++ {
			if bs := p.ctx.Lookup(strconv.Itoa(begin)); bs != nil {
				for _, b := range bs.Buttons() {
					set.Add(b)
				}
			}
		}
	}

	for _, child := range el.ChildElements() {
		var sub *joymodel.ButtonSet
		var err error
		switch child.Tag {
		case "bset":
			sub, err = p.bset(child)
		case "axisbuttons":
			sub, err = p.axisButtons(child)
		}
		if err != nil {
			return nil, err
		}
		if sub != nil {
			for _, b := range sub.Buttons() {
				set.Add(b)
			}
		}
	}

	if attr := el.SelectAttr("name"); attr != nil {
		p.ctx.Buttons[attr.Value] = set.Clone()
	}
	return set, nil
}

// axisButtons replaces an axis with a pair of hat buttons, one per
// direction. The axis is consumed and no longer appears in the output.
func (p *parser) axisButtons(el *etree.Element) (*joymodel.ButtonSet, error) {
	attr := el.SelectAttr("axis")
	if attr == nil {
		return nil, nil
	}
	axis, err := strconv.Atoi(attr.Value)
	if err != nil {
		axis = len(p.ctx.Axes)
	}
	if axis < 0 || axis >= len(p.ctx.Axes) || p.ctx.Axes[axis] == nil {
		return nil, fmt.Errorf("no such axis '%s'", attr.Value)
	}

	ax := p.ctx.Axes[axis]
	neg := joymodel.NewHatButton(ax, false)
	pos := joymodel.NewHatButton(ax, true)

	set := joymodel.NewButtonSet(&neg.Button, &pos.Button)
	top := p.ctx.Bucket("")
	top.Add(&neg.Button)
	top.Add(&pos.Button)

	if nameAttr := el.SelectAttr("neg_name"); nameAttr != nil {
		p.ctx.Buttons[nameAttr.Value] = joymodel.NewButtonSet(&neg.Button)
	}
	if nameAttr := el.SelectAttr("pos_name"); nameAttr != nil {
		p.ctx.Buttons[nameAttr.Value] = joymodel.NewButtonSet(&pos.Button)
	}

	p.ctx.Axes[axis] = nil
	return set, nil
}

// reuse records replace/with aliases into shared, pairing the two name
// lists in set order. Reports whether el was a well-formed reuse
// element.
func (p *parser) reuse(el *etree.Element, shared joymodel.ButtonMapping, inputs *joymodel.ButtonSet) (bool, error) {
	if el.Tag != "reuse" {
		return false, nil
	}
	repAttr, withAttr := el.SelectAttr("replace"), el.SelectAttr("with")
	if repAttr == nil || withAttr == nil {
		return false, nil
	}

	from, err := p.ctx.LookupMultiple(repAttr.Value)
	if err != nil {
		return false, err
	}
	to, err := p.ctx.LookupMultiple(withAttr.Value)
	if err != nil {
		return false, err
	}
	if from.Len() != to.Len() {
		return false, fmt.Errorf("'%s' and '%s' are of different size", repAttr.Value, withAttr.Value)
	}

	fb, tb := from.Buttons(), to.Buttons()
	for i := range fb {
		if !inputs.Contains(fb[i]) {
			return false, fmt.Errorf("condition bset contains button from outside shift")
		}
		if fb[i] == tb[i] {
			return false, fmt.Errorf("condition bset is circular")
		}
		shared[fb[i]] = tb[i]
	}
	return true, nil
}

// conditionButton resolves the button attribute of a condition element
// to a single button. Elements without the attribute are skipped.
func (p *parser) conditionButton(el *etree.Element) (*joymodel.Button, error) {
	attr := el.SelectAttr("button")
	if attr == nil {
		return nil, nil
	}
	set := p.ctx.Lookup(attr.Value)
	if set == nil {
		return nil, fmt.Errorf("button '%s' not found", attr.Value)
	}
	if set.Len() != 1 {
		return nil, fmt.Errorf("'button' attribute of condition element must refer to a single button")
	}
	return set.Buttons()[0], nil
}

// condition attaches one shift slot per listed state. A single-state
// condition also parses its children: reuse aliases first, then nested
// shift and bset elements under a layer exposing the slot's outputs.
func (p *parser) condition(el *etree.Element, shift *joymodel.ShiftSet) error {
	button, err := p.conditionButton(el)
	if err != nil || button == nil {
		return err
	}

	statesStr := el.SelectAttrValue("state", "1")
	states := splitList(statesStr)
	nameAttr := el.SelectAttr("name")
	if len(states) > 1 && nameAttr != nil {
		return fmt.Errorf("condition name not valid for multiple conditions")
	}
	if len(states) == 0 {
		return fmt.Errorf("bad button state '%s'", statesStr)
	}

	parseChildren := len(states) == 1

	shared := joymodel.ButtonMapping{}
	if parseChildren {
		for _, child := range el.ChildElements() {
			if _, err := p.reuse(child, shared, shift.Inputs()); err != nil {
				return err
			}
		}
	}

	var newButtons joymodel.ButtonMapping
	var subShifts []*joymodel.ShiftSet
	for _, stateStr := range states {
		state, err := strconv.ParseInt(stateStr, 10, 16)
		if err != nil {
			return fmt.Errorf("bad button state '%s'", stateStr)
		}
		newButtons, err = shift.AddCondition(button, int16(state), shared, &p.ctx.ButtonOrder)
		if err != nil {
			return err
		}
		if !parseChildren {
			shift.SetSubShifts(nil)
		}
		if nameAttr != nil {
			bucket := joymodel.NewButtonSet()
			for _, out := range newButtons {
				bucket.Add(out)
			}
			p.ctx.Buttons[nameAttr.Value] = bucket
		}
	}

	if parseChildren {
		p.ctx.Layers = append(p.ctx.Layers, newButtons)
		for _, child := range el.ChildElements() {
			switch child.Tag {
			case "shift":
				sub, err := p.shift(child)
				if err != nil {
					return err
				}
				subShifts = append(subShifts, sub)
			case "bset":
				if _, err := p.bset(child); err != nil {
					return err
				}
			}
		}
		shift.SetSubShifts(subShifts)
		p.ctx.Layers = p.ctx.Layers[:len(p.ctx.Layers)-1]
	}
	return nil
}

// shift builds a shift set from the element. The first pass unions the
// bset children into the input set and registers condition buttons;
// the second attaches the condition slots. The inputs are retired from
// the registry once the element is done.
func (p *parser) shift(el *etree.Element) (*joymodel.ShiftSet, error) {
	var inputSet *joymodel.ButtonSet
	condButtons := joymodel.NewButtonSet()
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "bset":
			sub, err := p.bset(child)
			if err != nil {
				return nil, err
			}
			if inputSet == nil {
				inputSet = joymodel.NewButtonSet()
			}
			for _, b := range sub.Buttons() {
				inputSet.Add(b)
			}
		case "condition":
			b, err := p.conditionButton(child)
			if err != nil {
				return nil, err
			}
			if b != nil {
				condButtons.Add(b)
			}
		}
	}

	if inputSet == nil {
		inputSet = joymodel.NewButtonSet()
		if len(p.ctx.Layers) == 0 {
			for _, b := range p.ctx.Bucket("").Buttons() {
				if !p.ctx.Conditionals.Contains(b) {
					inputSet.Add(b)
				}
			}
			p.log.Debug("no bset given, using top-level buttons",
				zap.Int("count", inputSet.Len()))
		} else {
			layer := p.ctx.Layers[len(p.ctx.Layers)-1]
			for _, to := range layer {
				if to != nil {
					inputSet.Add(to)
				}
			}
			p.log.Debug("no bset given, using inherited buttons",
				zap.Int("count", inputSet.Len()))
		}
	}

	for _, b := range condButtons.Buttons() {
		p.ctx.Conditionals.Add(b)
	}
	// Condition buttons are not shift inputs and do not appear in the
	// output.
	for _, b := range p.ctx.Conditionals.Buttons() {
		inputSet.Remove(b)
	}
	p.log.Debug("shift inputs resolved", zap.Int("count", inputSet.Len()))

	shift := joymodel.NewShiftSet(inputSet)

	for _, child := range el.ChildElements() {
		if child.Tag != "condition" {
			continue
		}
		if err := p.condition(child, shift); err != nil {
			return nil, err
		}
	}

	if nameAttr := el.SelectAttr("name"); nameAttr != nil {
		out := joymodel.NewButtonSet()
		shift.AllOutputs(out)
		p.ctx.Buttons[nameAttr.Value] = out
	}

	p.ctx.Erase(inputSet)
	return shift, nil
}
