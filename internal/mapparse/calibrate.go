package mapparse

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	"github.com/stickshift-dev/stickshift/internal/jsio"
)

// Correction type marking an axis that is consumed by hat buttons and
// must not be written to the calibration file.
const corrUnmapped uint16 = 0x10

// Calibration is a sparse set of correction entries keyed by real axis
// number.
type Calibration map[int]jsio.Correction

var brokenLineCoefs = [4]string{"centre_min", "centre_max", "slope_neg", "slope_pos"}

// parseCalibrate reads the broken_line and none children of a calibrate
// element. Children without an axis attribute are skipped.
func parseCalibrate(el *etree.Element) (Calibration, error) {
	cal := Calibration{}
	for _, child := range el.ChildElements() {
		var entry jsio.Correction
		switch child.Tag {
		case "broken_line":
			entry.Type = jsio.CorrBroken
		case "none":
			entry.Type = jsio.CorrNone
		default:
			continue
		}

		axisAttr := child.SelectAttr("axis")
		if axisAttr == nil {
			continue
		}
		axis, err := strconv.Atoi(axisAttr.Value)
		if err != nil || axis < 0 {
			return nil, fmt.Errorf("bad calibration axis '%s'", axisAttr.Value)
		}

		if precAttr := child.SelectAttr("precision"); precAttr != nil {
			prec, err := strconv.ParseInt(precAttr.Value, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("bad calibration precision '%s'", precAttr.Value)
			}
			entry.Prec = int16(prec)
		}

		if entry.Type == jsio.CorrBroken {
			for i, name := range brokenLineCoefs {
				attr := child.SelectAttr(name)
				if attr == nil {
					return nil, fmt.Errorf("broken_line calibration element must contain '%s'", name)
				}
				coef, err := strconv.ParseInt(attr.Value, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("bad calibration coefficient '%s'", attr.Value)
				}
				entry.Coef[i] = int32(coef)
			}
		}

		cal[axis] = entry
	}
	return cal, nil
}

// applyCalibration overwrites the listed axes of the device's current
// correction set. Entries for axes the device does not have are
// ignored.
func applyCalibration(dev Device, cal Calibration) error {
	corr, err := dev.Correction()
	if err != nil {
		return err
	}
	for axis, entry := range cal {
		if axis < len(corr) {
			corr[axis] = entry
		}
	}
	return dev.SetCorrection(corr)
}

func isAutogeneratedCalibrate(tok etree.Token) bool {
	el, ok := tok.(*etree.Element)
	return ok && el.Tag == "calibrate" && el.SelectAttrValue("autogenerated", "") == "true"
}

// removeAutogeneratedCalibrations strips every previously written
// calibrate element from the root, along with the newline following
// each one.
func removeAutogeneratedCalibrations(root *etree.Element) {
	for {
		removed := false
		for i, tok := range root.Child {
			if !isAutogeneratedCalibrate(tok) {
				continue
			}
			if i+1 < len(root.Child) {
				if cd, ok := root.Child[i+1].(*etree.CharData); ok && cd.Data == "\n" {
					root.RemoveChildAt(i + 1)
				}
			}
			root.RemoveChildAt(i)
			removed = true
			break
		}
		if !removed {
			return
		}
	}
}

// addCalibrationElement appends an autogenerated calibrate element
// holding one entry per real axis. Axes consumed by hat buttons are
// written as a comment instead of a correction.
func addCalibrationElement(root *etree.Element, corr []jsio.Correction) {
	addNewline := true
	if n := len(root.Child); n > 0 {
		if cd, ok := root.Child[n-1].(*etree.CharData); ok && len(cd.Data) > 0 {
			addNewline = cd.Data[len(cd.Data)-1] != '\n'
		}
	}
	if addNewline {
		root.CreateCharData("\n")
	}

	cal := root.CreateElement("calibrate")
	cal.CreateCharData("\n  ")
	cal.CreateAttr("autogenerated", "true")

	for i, entry := range corr {
		if entry.Type == corrUnmapped {
			cal.CreateComment(fmt.Sprintf(" axis %d is mapped to hat buttons ", i))
		} else {
			tag := "none"
			if entry.Type == jsio.CorrBroken {
				tag = "broken_line"
			}
			axis := cal.CreateElement(tag)
			axis.CreateAttr("axis", strconv.Itoa(i))
			axis.CreateAttr("precision", strconv.Itoa(int(entry.Prec)))
			if entry.Type == jsio.CorrBroken {
				for j, name := range brokenLineCoefs {
					axis.CreateAttr(name, strconv.Itoa(int(entry.Coef[j])))
				}
			}
		}

		if i == len(corr)-1 {
			cal.CreateCharData("\n")
		} else {
			cal.CreateCharData("\n  ")
		}
	}
	root.CreateCharData("\n")
}
