package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

func newOutput(name string, x, w int) *output.Output {
	o := output.New(name, output.PhysicalProperties{})
	m := output.Mode{Size: types.Size{W: w, H: 1080}, Refresh: 60000}
	pos := types.Point{X: x}
	o.AddMode(m)
	o.ChangeCurrentState(&m, nil, &pos)
	return o
}

func TestOutputs(t *testing.T) {
	s := New()
	left := newOutput("DP-1", 0, 1920)
	right := newOutput("DP-2", 1920, 2560)

	s.AddOutput(right)
	s.AddOutput(left)
	s.AddOutput(left)
	assert.Len(t, s.Outputs(), 2)

	s.RefreshOutputs()
	assert.Equal(t, []*output.Output{left, right}, s.Outputs())
	assert.Equal(t, 4480, s.GlobalWidth())

	s.RemoveOutput(right)
	assert.Equal(t, 1920, s.GlobalWidth())
	assert.Nil(t, s.ActiveSpace(right))
	assert.NotNil(t, s.ActiveSpace(left))
}

func TestGlobalWidthEmpty(t *testing.T) {
	assert.Equal(t, 0, New().GlobalWidth())
}

func TestWindowsAndFullscreen(t *testing.T) {
	s := New()
	o := newOutput("DP-1", 0, 1920)
	s.AddOutput(o)

	node := types.Node{Dev: types.MakeDevID(types.DRMMajor, 129), Type: types.NodeTypeRender}
	a := &Window{Title: "a", Geometry: Rect{W: 10, H: 10}}
	b := &Window{Title: "b", Geometry: Rect{W: 10, H: 10}, Node: &node}
	s.Map("DP-1", a)
	s.Map("DP-1", b)
	assert.NotEqual(t, a.ID(), b.ID())

	ws := s.ActiveSpace(o)
	require.NotNil(t, ws)
	assert.Len(t, ws.Windows(), 2)
	_, ok := ws.Fullscreen()
	assert.False(t, ok)

	a.Fullscreen = true
	fs, ok := ws.Fullscreen()
	require.True(t, ok)
	assert.Same(t, a, fs)

	n, ok := b.ClientNode()
	require.True(t, ok)
	assert.Equal(t, node, n)
	_, ok = a.ClientNode()
	assert.False(t, ok)

	found, name, ok := s.Find(b.ID())
	require.True(t, ok)
	assert.Same(t, b, found)
	assert.Equal(t, "DP-1", name)

	assert.True(t, s.Unmap(a.ID()))
	assert.False(t, s.Unmap(a.ID()))
	assert.Len(t, ws.Windows(), 1)
}

func TestWindowsSurviveOutputReadd(t *testing.T) {
	s := New()
	o := newOutput("DP-1", 0, 1920)
	s.Map("DP-1", &Window{Title: "early"})

	s.AddOutput(o)
	s.RemoveOutput(o)
	s.AddOutput(o)
	assert.Len(t, s.Workspace("DP-1").Stack(), 1)
}

func TestSendFrames(t *testing.T) {
	s := New()
	o := newOutput("DP-1", 0, 1920)
	w := &Window{}
	s.Map("DP-1", w)

	// not rendered yet
	s.SendFrames(o, 10)
	frames, _ := w.Frames()
	assert.Equal(t, 0, frames)

	s.AddOutput(o)
	s.SendFrames(o, 16)
	s.SendFrames(o, 33)
	frames, last := w.Frames()
	assert.Equal(t, 2, frames)
	assert.Equal(t, uint32(33), last)
}

func TestAttach(t *testing.T) {
	w := &Window{}
	_, ok := w.Buffer()
	assert.False(t, ok)

	w.Attach(types.Dmabuf{ID: 4, Width: 8, Height: 8})
	buf, ok := w.Buffer()
	require.True(t, ok)
	assert.Equal(t, uint64(4), buf.ID)
}
