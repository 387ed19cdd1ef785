// Package compose draws the windows of an output into its scanout buffer.
package compose

import (
	"errors"
	"fmt"
	"image"

	"github.com/charmbracelet/log"
	"github.com/gogpu/gg"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/shell"
	"github.com/matjam/kmsd/internal/types"
)

const defaultWindowColor = "#5e81ac"

var ErrUnsupportedFormat = errors.New("unsupported buffer format")

// Target is a renderer whose bound buffer is mapped into memory.
type Target interface {
	Bound() (types.PixelBuffer, error)
}

type canvas struct {
	size types.Size
	pm   *gg.Pixmap
	dc   *gg.Context
	// wallpaper scaled to size, built on first use
	wallpaper *gg.ImageBuf
}

// Composer paints a solid background, optionally covered by a wallpaper,
// with each window as a filled rectangle on top, bottom of the stack first.
type Composer struct {
	shell      *shell.Shell
	background gg.RGBA
	wallpaper  image.Image
	scale      ScaleMode

	canvases map[*output.Output]*canvas
	// size of the last frame drawn for an output
	drawn map[*output.Output]types.Size
}

// New returns a composer drawing the windows of sh on background, a hex
// color.
func New(sh *shell.Shell, background string) *Composer {
	return &Composer{
		shell:      sh,
		background: gg.Hex(background),
		canvases:   make(map[*output.Output]*canvas),
		drawn:      make(map[*output.Output]types.Size),
	}
}

// SetWallpaper draws img behind the windows of every output, fitted with
// mode. A nil img removes the wallpaper.
func (c *Composer) SetWallpaper(img image.Image, mode ScaleMode) {
	c.wallpaper = img
	c.scale = mode
	for _, cv := range c.canvases {
		cv.wallpaper = nil
	}
}

// NeedsBufferReset reports whether o changed size since its last frame.
func (c *Composer) NeedsBufferReset(o *output.Output) bool {
	size, ok := c.drawn[o]
	if !ok {
		return false
	}
	m, ok := o.CurrentMode()
	return ok && m.Size != size
}

// RenderOutput redraws the whole frame, so the buffer age is not used.
func (c *Composer) RenderOutput(src *types.Node, r kms.Renderer, _ int, o *output.Output) error {
	t, ok := r.(Target)
	if !ok {
		return fmt.Errorf("renderer %T cannot be drawn into", r)
	}
	buf, err := t.Bound()
	if err != nil {
		return err
	}
	if f := buf.Format(); f.Code != types.FormatXRGB8888 && f.Code != types.FormatARGB8888 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Code)
	}

	cv := c.canvas(o, buf.Size())
	cv.dc.ClearWithColor(c.background)
	if c.wallpaper != nil {
		if cv.wallpaper == nil {
			cv.wallpaper = gg.ImageBufFromImage(scaleImage(c.wallpaper, cv.size.W, cv.size.H, c.scale))
		}
		cv.dc.DrawImage(cv.wallpaper, 0, 0)
	}

	if ws := c.shell.Workspace(o.Name()); ws != nil {
		if err := c.drawWindows(cv, ws, src); err != nil {
			return err
		}
	}

	copyPixels(buf, cv.pm)
	c.drawn[o] = buf.Size()
	return nil
}

func (c *Composer) canvas(o *output.Output, size types.Size) *canvas {
	cv, ok := c.canvases[o]
	if ok && cv.size == size {
		return cv
	}
	if ok {
		cv.dc.Close()
	}
	pm := gg.NewPixmap(size.W, size.H)
	cv = &canvas{
		size: size,
		pm:   pm,
		dc:   gg.NewContext(size.W, size.H, gg.WithPixmap(pm)),
	}
	c.canvases[o] = cv
	return cv
}

func (c *Composer) drawWindows(cv *canvas, ws *shell.Workspace, src *types.Node) error {
	stack := ws.Stack()
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Fullscreen {
			return c.fill(cv, stack[i], shell.Rect{W: cv.size.W, H: cv.size.H}, src)
		}
	}
	for _, w := range stack {
		if err := c.fill(cv, w, w.Geometry, src); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composer) fill(cv *canvas, w *shell.Window, g shell.Rect, src *types.Node) error {
	if g.Empty() {
		return nil
	}
	if n, ok := w.ClientNode(); ok && src != nil && n != *src {
		log.Debugf("Window %d buffers live on %s, composing on %s", w.ID(), n, *src)
	}
	color := w.Color
	if color == "" {
		color = defaultWindowColor
	}
	cv.dc.SetHexColor(color)
	cv.dc.DrawRectangle(float64(g.X), float64(g.Y), float64(g.W), float64(g.H))
	if err := cv.dc.Fill(); err != nil {
		return fmt.Errorf("failed to draw window %d: %w", w.ID(), err)
	}
	return nil
}

// copyPixels converts the RGBA canvas into the buffer's little endian
// XRGB8888 rows.
func copyPixels(buf types.PixelBuffer, pm *gg.Pixmap) {
	dst := buf.Pixels()
	src := pm.Data()
	stride := buf.Stride()
	w, h := min(pm.Width(), buf.Size().W), min(pm.Height(), buf.Size().H)

	for y := 0; y < h; y++ {
		row := dst[y*stride:]
		in := src[y*pm.Width()*4:]
		for x := 0; x < w; x++ {
			row[x*4+0] = in[x*4+2]
			row[x*4+1] = in[x*4+1]
			row[x*4+2] = in[x*4+0]
			row[x*4+3] = 0xff
		}
	}
}

// Forget drops the cached canvas of o.
func (c *Composer) Forget(o *output.Output) {
	if cv, ok := c.canvases[o]; ok {
		cv.dc.Close()
	}
	delete(c.canvases, o)
	delete(c.drawn, o)
}
