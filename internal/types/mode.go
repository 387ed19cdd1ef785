package types

import "fmt"

// Mode flag and type bits as defined by the kernel uapi.
const (
	ModeFlagInterlace uint32 = 1 << 4
	ModeFlagDblScan   uint32 = 1 << 5

	ModeTypePreferred uint32 = 1 << 3
	ModeTypeDriver    uint32 = 1 << 6
)

// Mode is a display timing as advertised by a connector.
type Mode struct {
	Name   string
	Clock  uint32 // kHz
	Width  uint16
	Height uint16

	HSyncStart, HSyncEnd, HTotal, HSkew uint16
	VSyncStart, VSyncEnd, VTotal, VScan uint16

	VRefresh uint32
	Flags    uint32
	Type     uint32
}

func (m Mode) Size() Size {
	return Size{W: int(m.Width), H: int(m.Height)}
}

func (m Mode) Preferred() bool {
	return m.Type&ModeTypePreferred != 0
}

// RefreshRate returns the refresh rate of the mode in millihertz.
func (m Mode) RefreshRate() uint32 {
	if m.HTotal == 0 || m.VTotal == 0 {
		return 0
	}
	htotal := uint64(m.HTotal)
	vtotal := uint64(m.VTotal)
	refresh := (uint64(m.Clock)*1_000_000/htotal + vtotal/2) / vtotal

	if m.Flags&ModeFlagInterlace != 0 {
		refresh *= 2
	}
	if m.Flags&ModeFlagDblScan != 0 {
		refresh /= 2
	}
	if m.VScan > 1 {
		refresh /= uint64(m.VScan)
	}
	return uint32(refresh)
}

func (m Mode) String() string {
	r := m.RefreshRate()
	return fmt.Sprintf("%dx%d@%d.%03d", m.Width, m.Height, r/1000, r%1000)
}
