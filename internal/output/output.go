package output

import (
	"fmt"

	"github.com/matjam/kmsd/internal/types"
)

// Mode is a logical output mode. Refresh is in millihertz.
type Mode struct {
	Size    types.Size
	Refresh int
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d.%03d", m.Size.W, m.Size.H, m.Refresh/1000, m.Refresh%1000)
}

type PhysicalProperties struct {
	Size  types.Size // millimeters
	Make  string
	Model string
}

// Output is the logical output published to the rest of the compositor.
// Outputs are compared by identity.
type Output struct {
	name     string
	physical PhysicalProperties

	modes     []Mode
	preferred *Mode
	current   *Mode
	transform types.Transform
	position  types.Point

	config *Config
}

func New(name string, physical PhysicalProperties) *Output {
	return &Output{
		name:      name,
		physical:  physical,
		transform: types.TransformNormal,
	}
}

func (o *Output) Name() string {
	return o.name
}

func (o *Output) Physical() PhysicalProperties {
	return o.physical
}

// AddMode advertises m. Duplicates are ignored.
func (o *Output) AddMode(m Mode) {
	for _, existing := range o.modes {
		if existing == m {
			return
		}
	}
	o.modes = append(o.modes, m)
}

func (o *Output) Modes() []Mode {
	return append([]Mode(nil), o.modes...)
}

func (o *Output) SetPreferred(m Mode) {
	o.AddMode(m)
	o.preferred = &m
}

func (o *Output) PreferredMode() (Mode, bool) {
	if o.preferred == nil {
		return Mode{}, false
	}
	return *o.preferred, true
}

// ChangeCurrentState updates the parts of the current state that are not nil.
func (o *Output) ChangeCurrentState(mode *Mode, transform *types.Transform, position *types.Point) {
	if mode != nil {
		o.AddMode(*mode)
		m := *mode
		o.current = &m
	}
	if transform != nil {
		o.transform = *transform
	}
	if position != nil {
		o.position = *position
	}
}

func (o *Output) CurrentMode() (Mode, bool) {
	if o.current == nil {
		return Mode{}, false
	}
	return *o.current, true
}

func (o *Output) Transform() types.Transform {
	return o.transform
}

func (o *Output) Position() types.Point {
	return o.position
}

// Config returns the configuration record attached to the output, or nil.
func (o *Output) Config() *Config {
	return o.config
}

// ConfigOrInsert attaches the record built by fn unless one is attached
// already, and returns the attached record.
func (o *Output) ConfigOrInsert(fn func() Config) *Config {
	if o.config == nil {
		c := fn()
		o.config = &c
	}
	return o.config
}

func (o *Output) String() string {
	return o.name
}
