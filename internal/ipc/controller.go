package ipc

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/matjam/kmsd"
	"github.com/matjam/kmsd/internal/dmabuf"
	"github.com/matjam/kmsd/internal/drm"
	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/shell"
	"github.com/matjam/kmsd/internal/types"
	"github.com/matjam/kmsd/internal/wallpaper"
)

var (
	ErrTimeout       = errors.New("backend did not answer in time")
	ErrNoFrame       = errors.New("no frame rendered yet")
	ErrUnknownWindow = errors.New("unknown window")
)

// LoopController answers control requests by posting them onto the
// backend's loop and waiting for the result.
type LoopController struct {
	Loop       *eventloop.Loop[*kms.Backend]
	Shell      *shell.Shell
	Dmabufs    *dmabuf.Registry
	Session    kms.Session
	Wallpapers *wallpaper.Manager // nil when no wallpaper is configured
	Socket     string
	Exit       func() // called by Stop
	Timeout    time.Duration
}

type result[T any] struct {
	value T
	err   error
}

// call runs fn on the loop and waits for its result. fn keeps running after
// a timeout, so it must only hand values back through its return.
func call[T any](c *LoopController, fn func(b *kms.Backend) (T, error)) (T, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	done := make(chan result[T], 1)
	c.Loop.Post(func(b *kms.Backend) {
		v, err := fn(b)
		done <- result[T]{v, err}
	})
	select {
	case r := <-done:
		return r.value, r.err
	case <-time.After(timeout):
		var zero T
		return zero, ErrTimeout
	}
}

// exec is call for requests without a result.
func (c *LoopController) exec(fn func(b *kms.Backend) error) error {
	_, err := call(c, func(b *kms.Backend) (struct{}, error) {
		return struct{}{}, fn(b)
	})
	return err
}

func findOutput(b *kms.Backend, name string) (*output.Output, error) {
	o := b.Heads().Find(name)
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, name)
	}
	return o, nil
}

func (c *LoopController) Status() (StatusResponse, error) {
	st := StatusResponse{
		Status:  "ok",
		Message: "kmsd is running",
		Version: strings.Trim(kmsd.Version, "\n\r "),
		PID:     os.Getpid(),
		Socket:  c.Socket,
		Config:  viper.ConfigFileUsed(),
		Seat:    c.Session.Seat(),
		Active:  c.Session.IsActive(),
	}
	if c.Wallpapers != nil {
		st.Wallpaper = c.Wallpapers.Current()
	}
	type backendStatus struct {
		primary string
		devices []DeviceStatus
	}
	bs, err := call(c, func(b *kms.Backend) (backendStatus, error) {
		bs := backendStatus{primary: b.PrimaryGPU().String()}
		for _, dev := range b.Devices() {
			bs.devices = append(bs.devices, DeviceStatus{
				Path:       dev.Path(),
				RenderNode: dev.RenderNode().String(),
				Atomic:     dev.Atomic(),
				Outputs:    len(dev.Surfaces()),
			})
		}
		return bs, nil
	})
	st.PrimaryGPU = bs.primary
	st.Devices = bs.devices
	return st, err
}

func (c *LoopController) Outputs() ([]kms.OutputStatus, error) {
	return call(c, func(b *kms.Backend) ([]kms.OutputStatus, error) {
		return b.Status(), nil
	})
}

func (c *LoopController) Render(name string) ([]string, error) {
	return call(c, func(b *kms.Backend) ([]string, error) {
		outputs := c.Shell.Outputs()
		if name != "" {
			o, err := findOutput(b, name)
			if err != nil {
				return nil, err
			}
			outputs = []*output.Output{o}
		}
		var scheduled []string
		for _, o := range outputs {
			b.ScheduleRender(o)
			scheduled = append(scheduled, o.Name())
		}
		return scheduled, nil
	})
}

func (c *LoopController) Capture(name string) (CaptureResponse, error) {
	return call(c, func(b *kms.Backend) (CaptureResponse, error) {
		o, err := findOutput(b, name)
		if err != nil {
			return CaptureResponse{}, err
		}
		capture, ok := b.CaptureOutput(o)
		if !ok {
			return CaptureResponse{}, fmt.Errorf("%w on %s", ErrNoFrame, name)
		}
		size := capture.Buffer.Size()
		return CaptureResponse{
			Output: o.Name(),
			Node:   capture.Node.String(),
			Width:  size.W,
			Height: size.H,
			Format: capture.Buffer.Format().Code.String(),
			Time:   capture.Time,
		}, nil
	})
}

func (c *LoopController) SwitchVT(vt int) error {
	return c.exec(func(b *kms.Backend) error {
		return b.SwitchVT(vt)
	})
}

func (c *LoopController) MapWindow(req WindowRequest) (uint64, error) {
	w := &shell.Window{
		Title:      req.Title,
		Geometry:   shell.Rect{X: req.X, Y: req.Y, W: req.Width, H: req.Height},
		Color:      req.Color,
		Fullscreen: req.Fullscreen,
	}
	if req.Node != "" {
		node, err := drm.NodeFromPath(req.Node)
		if err != nil {
			return 0, err
		}
		w.Node = &node
	}

	return call(c, func(b *kms.Backend) (uint64, error) {
		o, err := findOutput(b, req.Output)
		if err != nil {
			return 0, err
		}
		c.Shell.Map(o.Name(), w)

		if req.Buffer {
			if err := c.attachBuffer(b, w, o); err != nil {
				c.Shell.Unmap(w.ID())
				return 0, err
			}
		}
		b.TryEarlyImport(w, o)
		b.ScheduleRender(o)
		return w.ID(), nil
	})
}

// attachBuffer imports a client buffer for w through the dmabuf global of the
// client's GPU, or of the output's GPU when the client's is unknown.
func (c *LoopController) attachBuffer(b *kms.Backend, w *shell.Window, o *output.Output) error {
	node, ok := w.ClientNode()
	if !ok {
		if node, ok = b.TargetNodeForOutput(o); !ok {
			return fmt.Errorf("%w: %s is not driven by any device", ErrUnknownOutput, o.Name())
		}
	}
	buf := types.Dmabuf{
		ID:     w.ID(),
		Width:  w.Geometry.W,
		Height: w.Geometry.H,
		Format: types.Format{Code: types.FormatXRGB8888, Modifier: types.ModifierLinear},
		Node:   &node,
	}
	if err := c.Dmabufs.Import(b, node, buf); err != nil {
		return fmt.Errorf("failed to import buffer of window %d: %w", w.ID(), err)
	}
	w.Attach(buf)
	return nil
}

func (c *LoopController) UnmapWindow(id uint64) error {
	return c.exec(func(b *kms.Backend) error {
		_, name, ok := c.Shell.Find(id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownWindow, id)
		}
		c.Shell.Unmap(id)
		if o := b.Heads().Find(name); o != nil {
			b.ScheduleRender(o)
		}
		return nil
	})
}

func (c *LoopController) NextWallpaper() (string, error) {
	if c.Wallpapers == nil {
		return "", wallpaper.ErrNoWallpapers
	}
	return call(c, c.Wallpapers.Show)
}

func (c *LoopController) LoadWallpapers(req LoadRequest) (string, error) {
	if c.Wallpapers == nil {
		return "", wallpaper.ErrNoWallpapers
	}
	var paths []string
	for _, p := range req.Paths {
		list, err := wallpaper.List(p)
		if err != nil {
			return "", err
		}
		paths = append(paths, list...)
	}
	c.Wallpapers.SetWallpapers(paths)
	if req.Shuffle {
		c.Wallpapers.Shuffle()
	}
	return c.NextWallpaper()
}

func (c *LoopController) Stop() {
	if c.Exit != nil {
		c.Exit()
	}
}
