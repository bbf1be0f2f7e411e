package stickshift

// Config selects the real joystick, the map file and the device node
// the virtual joystick appears under. When OutputDevice names an
// existing character device its device numbers override DevMajor and
// DevMinor.
type Config struct {
	InputDevice  string
	MapFile      string
	OutputDevice string
	DevMajor     uint32
	DevMinor     uint32
	Calibrated   bool
}
