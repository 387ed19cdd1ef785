package output

import "github.com/matjam/kmsd/internal/types"

// Config is the mutable configuration record of one output, as merged from
// persisted settings and live hardware state.
type Config struct {
	Enabled   bool
	Size      types.Size
	Refresh   *uint32 // millihertz, nil means any
	VRR       bool
	Position  types.Point
	Transform types.Transform
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Transform: types.TransformNormal,
	}
}

func (c Config) ModeSize() types.Size {
	return c.Size
}

func RefreshOf(mhz uint32) *uint32 {
	return &mhz
}

// Applier pushes an output's configuration record to the hardware. With
// testOnly set it only validates the record.
type Applier interface {
	ApplyConfigForOutput(o *Output, testOnly bool) error
}
