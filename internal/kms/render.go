package kms

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

// maxCPUCopies is the number of client buffers on foreign GPUs below which
// rendering stays on the output's own GPU.
const maxCPUCopies = 3

// renderNodeForOutput picks the GPU that composes o. Rendering moves off the
// target only when enough visible clients share another GPU.
func renderNodeForOutput(shell Shell, o *output.Output, target types.Node) types.Node {
	ws := shell.ActiveSpace(o)
	if ws == nil {
		return target
	}

	var windows []Window
	if w, ok := ws.Fullscreen(); ok {
		windows = []Window{w}
	} else {
		windows = ws.Windows()
	}

	nodes := make([]types.Node, 0, len(windows))
	for _, w := range windows {
		if n, ok := w.ClientNode(); ok {
			nodes = append(nodes, n)
		}
	}
	if slices.Contains(nodes, target) || len(nodes) < maxCPUCopies {
		return target
	}
	return majority(nodes)
}

// majority returns the most frequent node, the first seen on ties.
func majority(nodes []types.Node) types.Node {
	var (
		order  []types.Node
		counts = make(map[types.Node]int)
	)
	for _, n := range nodes {
		if counts[n] == 0 {
			order = append(order, n)
		}
		counts[n]++
	}
	best := order[0]
	for _, n := range order[1:] {
		if counts[n] > counts[best] {
			best = n
		}
	}
	return best
}

// ScheduleRender queues a frame for o. It does nothing when o is disabled or
// a frame is already outstanding.
func (b *Backend) ScheduleRender(o *output.Output) {
	dev, s := b.surfaceForOutput(o)
	if s == nil || s.swapchain == nil || s.pending {
		return
	}

	s.pending = true
	s.timer = b.loop.InsertTimer(0, func(now time.Time, b *Backend) eventloop.TimeoutAction {
		if s.swapchain == nil {
			s.timer = 0
			s.pending = false
			return eventloop.Drop()
		}
		if err := b.renderSurface(dev, s, now); err != nil {
			s.swapchain.ResetBuffers()
			log.Errorf("Error rendering %s: %v", o.Name(), err)
			return eventloop.ToDuration(s.frameInterval())
		}
		s.timer = 0
		return eventloop.Drop()
	})
}

func (b *Backend) renderSurface(dev *Device, s *Surface, now time.Time) error {
	o := s.output
	if b.composer.NeedsBufferReset(o) {
		s.swapchain.ResetBuffers()
	}

	renderNode := renderNodeForOutput(b.shell, o, dev.renderNode)
	renderer, err := b.gpus.Renderer(renderNode, dev.renderNode)
	if err != nil {
		return fmt.Errorf("failed to get renderer %s -> %s: %w", renderNode, dev.renderNode, err)
	}

	buf, age, err := s.swapchain.NextBuffer()
	if err != nil {
		return fmt.Errorf("failed to acquire buffer: %w", err)
	}
	if err := renderer.Bind(buf); err != nil {
		return fmt.Errorf("failed to bind buffer: %w", err)
	}
	if err := b.composer.RenderOutput(&renderNode, renderer, age, o); err != nil {
		return fmt.Errorf("failed to compose frame: %w", err)
	}

	s.lastRender = &Capture{Node: dev.renderNode, Buffer: buf, Time: now}
	if err := s.swapchain.QueueBuffer(); err != nil {
		return fmt.Errorf("failed to queue buffer: %w", err)
	}
	return nil
}

// cancelRender removes the render timer of s and forgets any frame in
// flight.
func (b *Backend) cancelRender(s *Surface) {
	if s.timer != 0 {
		b.loop.Remove(s.timer)
		s.timer = 0
	}
	s.pending = false
}

func (b *Backend) handleDrmEvent(id types.DevID, ev types.DrmEvent) {
	dev, ok := b.devices[id]
	if !ok {
		return
	}

	switch ev.Kind {
	case types.DrmEventVBlank:
		s, ok := dev.surfaces[ev.CRTC]
		if !ok {
			return
		}
		if s.swapchain != nil {
			if err := s.swapchain.FrameSubmitted(); err != nil {
				log.Warnf("Failed to submit frame on %s: %v", s.output.Name(), err)
				return
			}
		}
		t := ev.Time
		if t.IsZero() {
			t = b.loop.Clock().Now()
		}
		s.lastSubmit = t
		// a registered timer still owns the pending flag
		if s.timer == 0 {
			s.pending = false
		}
		b.shell.SendFrames(s.output, b.frameTime(t))
	case types.DrmEventError:
		log.Errorf("Error on drm device %s crtc %d: %v", dev.path, ev.CRTC, ev.Err)
	}
}
