package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/gpu"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/shell"
	"github.com/matjam/kmsd/internal/types"
)

var node = types.Node{Dev: types.MakeDevID(types.DRMMajor, 128), Type: types.NodeTypeRender}

type memBuffer struct {
	size   types.Size
	stride int
	data   []byte
}

func newMemBuffer(w, h int) *memBuffer {
	// padded rows like a real dumb buffer
	stride := w*4 + 64
	return &memBuffer{size: types.Size{W: w, H: h}, stride: stride, data: make([]byte, stride*h)}
}

func (b *memBuffer) Size() types.Size { return b.size }
func (b *memBuffer) Format() types.Format {
	return types.Format{Code: types.FormatXRGB8888, Modifier: types.ModifierLinear}
}
func (b *memBuffer) Pixels() []byte { return b.data }
func (b *memBuffer) Stride() int    { return b.stride }

// pixel returns the B, G, R bytes at x, y.
func (b *memBuffer) pixel(x, y int) [3]byte {
	i := y*b.stride + x*4
	return [3]byte{b.data[i], b.data[i+1], b.data[i+2]}
}

type rgb565Buffer struct {
	*memBuffer
}

func (rgb565Buffer) Format() types.Format {
	return types.Format{Code: 'R' | 'G'<<8 | '1'<<16 | '6'<<24}
}

func newOutput(w, h int) *output.Output {
	o := output.New("DP-1", output.PhysicalProperties{})
	m := output.Mode{Size: types.Size{W: w, H: h}, Refresh: 60000}
	o.ChangeCurrentState(&m, nil, nil)
	return o
}

func render(t *testing.T, c *Composer, o *output.Output, buf types.Buffer) error {
	t.Helper()
	r, err := gpu.NewManager().Renderer(node, node)
	require.NoError(t, err)
	require.NoError(t, r.Bind(buf))
	return c.RenderOutput(&node, r, 0, o)
}

var (
	black = [3]byte{0, 0, 0}
	red   = [3]byte{0, 0, 0xff}
	blue  = [3]byte{0xff, 0, 0}
)

func TestRenderWindows(t *testing.T) {
	sh := shell.New()
	o := newOutput(64, 48)
	sh.AddOutput(o)
	sh.Map("DP-1", &shell.Window{Geometry: shell.Rect{X: 8, Y: 8, W: 16, H: 16}, Color: "#ff0000"})
	sh.Map("DP-1", &shell.Window{Geometry: shell.Rect{X: 16, Y: 16, W: 32, H: 16}, Color: "#0000ff"})

	c := New(sh, "#000000")
	buf := newMemBuffer(64, 48)
	require.NoError(t, render(t, c, o, buf))

	assert.Equal(t, black, buf.pixel(2, 2))
	assert.Equal(t, red, buf.pixel(10, 10))
	// blue is stacked on top
	assert.Equal(t, blue, buf.pixel(20, 20))
	assert.Equal(t, blue, buf.pixel(40, 28))
	assert.Equal(t, byte(0xff), buf.data[3])
}

func TestRenderFullscreen(t *testing.T) {
	sh := shell.New()
	o := newOutput(32, 32)
	sh.AddOutput(o)
	sh.Map("DP-1", &shell.Window{Geometry: shell.Rect{W: 4, H: 4}, Color: "#ff0000", Fullscreen: true})
	sh.Map("DP-1", &shell.Window{Geometry: shell.Rect{X: 8, Y: 8, W: 8, H: 8}, Color: "#0000ff"})

	c := New(sh, "#000000")
	buf := newMemBuffer(32, 32)
	require.NoError(t, render(t, c, o, buf))

	assert.Equal(t, red, buf.pixel(12, 12))
	assert.Equal(t, red, buf.pixel(30, 30))
}

func TestRenderOutputNotInShell(t *testing.T) {
	c := New(shell.New(), "#0000ff")
	o := newOutput(8, 8)
	buf := newMemBuffer(8, 8)
	require.NoError(t, render(t, c, o, buf))
	assert.Equal(t, blue, buf.pixel(4, 4))
}

func TestRenderErrors(t *testing.T) {
	c := New(shell.New(), "#000000")
	o := newOutput(8, 8)

	r, err := gpu.NewManager().Renderer(node, node)
	require.NoError(t, err)
	assert.ErrorIs(t, c.RenderOutput(&node, r, 0, o), gpu.ErrNothingBound)

	assert.ErrorIs(t, render(t, c, o, rgb565Buffer{newMemBuffer(8, 8)}), ErrUnsupportedFormat)
}

func TestNeedsBufferReset(t *testing.T) {
	c := New(shell.New(), "#000000")
	o := newOutput(8, 8)
	assert.False(t, c.NeedsBufferReset(o))

	require.NoError(t, render(t, c, o, newMemBuffer(8, 8)))
	assert.False(t, c.NeedsBufferReset(o))

	m := output.Mode{Size: types.Size{W: 16, H: 8}, Refresh: 60000}
	o.ChangeCurrentState(&m, nil, nil)
	assert.True(t, c.NeedsBufferReset(o))

	require.NoError(t, render(t, c, o, newMemBuffer(16, 8)))
	assert.False(t, c.NeedsBufferReset(o))

	c.Forget(o)
	assert.False(t, c.NeedsBufferReset(o))
}
