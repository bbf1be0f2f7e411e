package joymodel

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// InputContext is the name registry built up while a map is parsed.
// Buttons are published under named buckets, with "" holding every
// top-level button. Layers rewrite lookups while conditions are being
// parsed, so that names resolve to the buttons of the enclosing shift
// slot.
type InputContext struct {
	log *zap.Logger

	Buttons      map[string]*ButtonSet
	Axes         []*Axis
	Layers       []ButtonMapping
	Conditionals *ButtonSet
	ButtonOrder  int
}

func NewInputContext(log *zap.Logger) *InputContext {
	return &InputContext{
		log:          log,
		Buttons:      make(map[string]*ButtonSet),
		Conditionals: NewButtonSet(),
	}
}

// Bucket returns the named bucket, creating it if necessary.
func (c *InputContext) Bucket(name string) *ButtonSet {
	set, ok := c.Buttons[name]
	if !ok {
		set = NewButtonSet()
		c.Buttons[name] = set
	}
	return set
}

// Lookup resolves a bucket name through the layer stack. Returns nil
// when the name is unknown or resolves to nothing.
func (c *InputContext) Lookup(name string) *ButtonSet {
	set, ok := c.Buttons[name]
	if !ok || set.Len() == 0 {
		return nil
	}

	ret := set.Clone()
	for _, layer := range c.Layers {
		ret = layer.Apply(ret)
	}
	if ret.Len() == 0 {
		return nil
	}
	return ret
}

// LookupMultiple resolves a list of bucket names separated by commas,
// semicolons or spaces and unions the results. Every name must
// resolve.
func (c *InputContext) LookupMultiple(names string) (*ButtonSet, error) {
	set := NewButtonSet()
	for _, name := range strings.FieldsFunc(names, isNameSep) {
		bs := c.Lookup(name)
		if bs == nil {
			return nil, fmt.Errorf("can't find use name '%s'", name)
		}
		for _, b := range bs.Buttons() {
			set.Add(b)
		}
	}
	return set, nil
}

func isNameSep(r rune) bool {
	return r == ',' || r == ';' || r == ' '
}

// Erase retires a set of buttons from the registry once they have been
// consumed as shift inputs. Layer mappings targeting them are blanked
// first, innermost layer first; whatever remains is removed from the
// name buckets, dropping buckets that become empty. Every button must
// be accounted for one way or the other.
func (c *InputContext) Erase(bs *ButtonSet) {
	toDel := bs.Clone()
	before := toDel.Len()

	for i := len(c.Layers) - 1; i >= 0; i-- {
		layer := c.Layers[i]
		for from, to := range layer {
			if to != nil && toDel.Contains(to) {
				layer[from] = nil
				toDel.Remove(to)
			}
		}
	}
	fromLayers := before - toDel.Len()

	deleted := NewButtonSet()
	for name, set := range c.Buttons {
		for _, b := range toDel.Buttons() {
			if set.Remove(b) {
				deleted.Add(b)
			}
		}
		if set.Len() == 0 {
			delete(c.Buttons, name)
		}
	}

	c.log.Debug("erased shift inputs",
		zap.Int("from_layers", fromLayers),
		zap.Int("from_base", deleted.Len()),
	)

	if deleted.Len() != toDel.Len() {
		panic("joymodel: erased buttons missing from the name registry")
	}
	for _, b := range toDel.Buttons() {
		if !deleted.Contains(b) {
			panic("joymodel: erased buttons missing from the name registry")
		}
	}
}
