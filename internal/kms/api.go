package kms

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

// CaptureOutput returns the last frame rendered for o.
func (b *Backend) CaptureOutput(o *output.Output) (Capture, bool) {
	_, s := b.surfaceForOutput(o)
	if s == nil || s.lastRender == nil {
		return Capture{}, false
	}
	return *s.lastRender, true
}

// TargetNodeForOutput returns the render node of the device driving o.
func (b *Backend) TargetNodeForOutput(o *output.Output) (types.Node, bool) {
	dev, _ := b.surfaceForOutput(o)
	if dev == nil {
		return types.Node{}, false
	}
	return dev.renderNode, true
}

// TryEarlyImport stages the buffers of w on the GPU that will compose o.
func (b *Backend) TryEarlyImport(w Window, o *output.Output) {
	target, ok := b.TargetNodeForOutput(o)
	if !ok {
		target = b.primary
	}
	render := renderNodeForOutput(b.shell, o, target)

	var client *types.Node
	if n, ok := w.ClientNode(); ok {
		client = &n
	}
	if err := b.gpus.EarlyImport(client, render, w); err != nil {
		log.Debugf("Early import failed: %v", err)
	}
}

// DmabufImported imports a client buffer received on socket. The socket must
// belong to a tracked device.
func (b *Backend) DmabufImported(socket Socket, buf types.Dmabuf) error {
	for _, dev := range b.devices {
		if dev.socket == nil || dev.socket != socket {
			continue
		}
		r, err := b.gpus.Renderer(dev.renderNode, dev.renderNode)
		if err != nil {
			return fmt.Errorf("failed to get renderer for %s: %w", dev.renderNode, err)
		}
		return r.ImportDmabuf(buf)
	}
	panic("dmabuf imported on a socket of no known device")
}

// OutputStatus is a snapshot of one surface.
type OutputStatus struct {
	Name       string          `json:"name"`
	Device     string          `json:"device"`
	RenderNode string          `json:"render_node"`
	CRTC       types.CRTC      `json:"crtc"`
	Connector  types.Connector `json:"connector"`
	Make       string          `json:"make"`
	Model      string          `json:"model"`
	Enabled    bool            `json:"enabled"`
	Mode       string          `json:"mode,omitempty"`
	Position   types.Point     `json:"position"`
	VRR        bool            `json:"vrr"`
	Pending    bool            `json:"pending"`
	LastRender *time.Time      `json:"last_render,omitempty"`
	LastSubmit *time.Time      `json:"last_submit,omitempty"`
}

// Status lists all surfaces ordered by device and CRTC.
func (b *Backend) Status() []OutputStatus {
	var out []OutputStatus
	for _, dev := range b.Devices() {
		for _, s := range dev.Surfaces() {
			o := s.output
			st := OutputStatus{
				Name:       o.Name(),
				Device:     dev.path,
				RenderNode: dev.renderNode.String(),
				CRTC:       s.crtc,
				Connector:  s.connector,
				Make:       o.Physical().Make,
				Model:      o.Physical().Model,
				Enabled:    s.swapchain != nil,
				Position:   o.Position(),
				VRR:        s.vrr,
				Pending:    s.pending,
			}
			if m, ok := o.CurrentMode(); ok {
				st.Mode = m.String()
			}
			if s.lastRender != nil {
				t := s.lastRender.Time
				st.LastRender = &t
			}
			if !s.lastSubmit.IsZero() {
				t := s.lastSubmit
				st.LastSubmit = &t
			}
			out = append(out, st)
		}
	}
	return out
}
