// Package shell is a minimal window model: one workspace per output, windows
// mapped onto workspaces with a fixed geometry.
package shell

import (
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

// Shell tracks the outputs being rendered and the windows shown on them. It
// is only used from the loop goroutine.
type Shell struct {
	outputs []*output.Output
	// keyed by output name so windows survive an output being re-added
	spaces map[string]*Workspace
	nextID uint64
}

func New() *Shell {
	return &Shell{spaces: make(map[string]*Workspace)}
}

func (s *Shell) ActiveSpace(o *output.Output) kms.Workspace {
	ws := s.Workspace(o.Name())
	if ws == nil {
		return nil
	}
	return ws
}

// Workspace returns the active workspace of the named output, nil if the
// output is not rendered.
func (s *Shell) Workspace(name string) *Workspace {
	if !slices.ContainsFunc(s.outputs, func(o *output.Output) bool { return o.Name() == name }) {
		return nil
	}
	return s.spaces[name]
}

func (s *Shell) Outputs() []*output.Output {
	return slices.Clone(s.outputs)
}

func (s *Shell) AddOutput(o *output.Output) {
	if slices.Contains(s.outputs, o) {
		return
	}
	s.outputs = append(s.outputs, o)
	if _, ok := s.spaces[o.Name()]; !ok {
		s.spaces[o.Name()] = &Workspace{}
	}
	log.Infof("Output %s is now rendered", o.Name())
}

func (s *Shell) RemoveOutput(o *output.Output) {
	i := slices.Index(s.outputs, o)
	if i < 0 {
		return
	}
	s.outputs = slices.Delete(s.outputs, i, i+1)
	log.Infof("Output %s is no longer rendered", o.Name())
}

// RefreshOutputs keeps the outputs ordered left to right.
func (s *Shell) RefreshOutputs() {
	slices.SortStableFunc(s.outputs, func(a, b *output.Output) int {
		return a.Position().X - b.Position().X
	})
}

// GlobalWidth is the right edge of the rightmost rendered output.
func (s *Shell) GlobalWidth() int {
	w := 0
	for _, o := range s.outputs {
		m, ok := o.CurrentMode()
		if !ok {
			continue
		}
		w = max(w, o.Position().X+m.Size.W)
	}
	return w
}

// SendFrames tells every window on o that a frame was shown at ms.
func (s *Shell) SendFrames(o *output.Output, ms uint32) {
	ws := s.Workspace(o.Name())
	if ws == nil {
		return
	}
	for _, w := range ws.windows() {
		w.frameDone(ms)
	}
}

// Map places w on the named output's workspace.
func (s *Shell) Map(name string, w *Window) {
	ws, ok := s.spaces[name]
	if !ok {
		ws = &Workspace{}
		s.spaces[name] = ws
	}
	s.nextID++
	w.id = s.nextID
	ws.add(w)
}

// Unmap removes the window with id from whatever workspace holds it.
func (s *Shell) Unmap(id uint64) bool {
	for _, ws := range s.spaces {
		if ws.remove(id) {
			return true
		}
	}
	return false
}

// Find returns the window with id and the name of its output.
func (s *Shell) Find(id uint64) (*Window, string, bool) {
	for name, ws := range s.spaces {
		for _, w := range ws.windows() {
			if w.id == id {
				return w, name, true
			}
		}
	}
	return nil, "", false
}

var _ kms.Shell = (*Shell)(nil)

// Rect is in output local coordinates.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Workspace holds windows in stacking order, bottom first.
type Workspace struct {
	list []*Window
}

func (ws *Workspace) add(w *Window) {
	ws.list = append(ws.list, w)
}

func (ws *Workspace) remove(id uint64) bool {
	i := slices.IndexFunc(ws.list, func(w *Window) bool { return w.id == id })
	if i < 0 {
		return false
	}
	ws.list = slices.Delete(ws.list, i, i+1)
	return true
}

func (ws *Workspace) windows() []*Window {
	return slices.Clone(ws.list)
}

// Fullscreen returns the topmost fullscreen window.
func (ws *Workspace) Fullscreen() (kms.Window, bool) {
	list := ws.windows()
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Fullscreen {
			return list[i], true
		}
	}
	return nil, false
}

func (ws *Workspace) Windows() []kms.Window {
	list := ws.windows()
	out := make([]kms.Window, len(list))
	for i, w := range list {
		out[i] = w
	}
	return out
}

// Stack returns the windows bottom first.
func (ws *Workspace) Stack() []*Window {
	return ws.windows()
}

// Window is a client surface. Node is the render node the client allocates
// its buffers on, nil when unknown.
type Window struct {
	id         uint64
	Title      string
	Geometry   Rect
	Color      string
	Fullscreen bool
	Node       *types.Node

	buffer    *types.Dmabuf
	lastFrame uint32
	frames    int
}

func (w *Window) ID() uint64 {
	return w.id
}

func (w *Window) ClientNode() (types.Node, bool) {
	if w.Node == nil {
		return types.Node{}, false
	}
	return *w.Node, true
}

// Attach sets the client buffer shown by the window.
func (w *Window) Attach(buf types.Dmabuf) {
	w.buffer = &buf
}

func (w *Window) Buffer() (types.Dmabuf, bool) {
	if w.buffer == nil {
		return types.Dmabuf{}, false
	}
	return *w.buffer, true
}

// Frames returns the number of frame callbacks and the time of the last one.
func (w *Window) Frames() (int, uint32) {
	return w.frames, w.lastFrame
}

func (w *Window) frameDone(ms uint32) {
	w.frames++
	w.lastFrame = ms
}
