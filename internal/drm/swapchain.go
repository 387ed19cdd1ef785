package drm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/NeowayLabs/drm/mode"
	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/types"
)

// Surface is a CRTC driving a set of connectors with one mode.
type Surface struct {
	dev        *Device
	crtc       types.CRTC
	mode       types.Mode
	connectors []uint32
	// modeset is set until the mode has been programmed with a framebuffer
	modeset bool
}

func (s *Surface) CRTC() types.CRTC {
	return s.crtc
}

func (s *Surface) Mode() types.Mode {
	return s.mode
}

// present shows fb. The first frame after a mode change does a full mode set
// and then flips to the same framebuffer so a completion event follows.
func (s *Surface) present(fbID uint32) error {
	if s.modeset {
		info := toInfo(s.mode)
		err := mode.SetCrtc(s.dev.file, uint32(s.crtc), fbID, 0, 0, &s.connectors[0], len(s.connectors), &info)
		if err != nil {
			return fmt.Errorf("failed to set mode %s on crtc %d: %w", s.mode, s.crtc, err)
		}
		s.modeset = false
	}
	if err := pageFlip(s.dev.file, uint32(s.crtc), fbID); err != nil {
		return fmt.Errorf("page flip on crtc %d: %w", s.crtc, err)
	}
	return nil
}

// disable turns the CRTC off. The next frame sets the mode again.
func (s *Surface) disable() error {
	s.modeset = true
	if err := mode.SetCrtc(s.dev.file, uint32(s.crtc), 0, 0, 0, nil, 0, nil); err != nil {
		return fmt.Errorf("failed to disable crtc %d: %w", s.crtc, err)
	}
	return nil
}

const swapchainSlots = 3

var ErrNoFreeBuffer = errors.New("no free buffer in swapchain")

// framebuffer is a scanout-capable buffer.
type framebuffer interface {
	types.PixelBuffer
	FramebufferID() uint32
	Destroy() error
}

type slot struct {
	buf framebuffer
	// frame counter value when the slot was last queued, 0 if its
	// contents are undefined
	frame uint64
}

// Swapchain rotates up to three dumb buffers over a Surface.
type Swapchain struct {
	crtc      types.CRTC
	mode      func() types.Mode
	newBuffer func(types.Size) (framebuffer, error)
	present   func(fbID uint32) error
	setMode   func(types.Mode)
	disable   func() error

	slots []*slot
	frame uint64

	acquired *slot
	queued   *slot
	scanout  *slot
}

// NewSwapchain builds a swapchain for a surface created by this package.
func NewSwapchain(s *Surface, formats []types.Format) (*Swapchain, error) {
	if !slices.ContainsFunc(formats, func(f types.Format) bool {
		return f.Code == types.FormatXRGB8888 && f.Modifier == types.ModifierLinear
	}) {
		return nil, fmt.Errorf("no supported format among %d offered", len(formats))
	}
	return &Swapchain{
		crtc: s.crtc,
		mode: s.Mode,
		newBuffer: func(size types.Size) (framebuffer, error) {
			return NewDumbBuffer(s.dev.file, size)
		},
		present: s.present,
		setMode: func(m types.Mode) {
			s.mode = m
			s.modeset = true
		},
		disable: s.disable,
	}, nil
}

// NextBuffer returns a buffer that is neither queued nor on screen.
func (sc *Swapchain) NextBuffer() (types.Buffer, int, error) {
	size := sc.mode().Size()

	var free *slot
	for _, s := range sc.slots {
		if s != sc.queued && s != sc.scanout {
			free = s
			break
		}
	}
	if free == nil {
		if len(sc.slots) >= swapchainSlots {
			return nil, 0, ErrNoFreeBuffer
		}
		free = &slot{}
		sc.slots = append(sc.slots, free)
	}

	if free.buf != nil && free.buf.Size() != size {
		sc.destroy(free)
	}
	if free.buf == nil {
		buf, err := sc.newBuffer(size)
		if err != nil {
			return nil, 0, err
		}
		free.buf = buf
		free.frame = 0
	}

	age := 0
	if free.frame != 0 {
		age = int(sc.frame - free.frame + 1)
	}
	sc.acquired = free
	return free.buf, age, nil
}

// QueueBuffer presents the buffer returned by the last NextBuffer.
func (sc *Swapchain) QueueBuffer() error {
	s := sc.acquired
	if s == nil {
		return errors.New("no buffer acquired")
	}
	if err := sc.present(s.buf.FramebufferID()); err != nil {
		return err
	}
	sc.frame++
	s.frame = sc.frame
	sc.acquired = nil
	sc.queued = s
	return nil
}

// FrameSubmitted releases the previous scanout buffer.
func (sc *Swapchain) FrameSubmitted() error {
	if sc.queued == nil {
		return nil
	}
	sc.scanout = sc.queued
	sc.queued = nil
	return nil
}

// ResetBuffers makes every buffer's contents undefined and frees the ones not
// in use.
func (sc *Swapchain) ResetBuffers() {
	sc.acquired = nil
	kept := sc.slots[:0]
	for _, s := range sc.slots {
		s.frame = 0
		if s == sc.queued || s == sc.scanout {
			kept = append(kept, s)
			continue
		}
		sc.destroy(s)
	}
	sc.slots = kept
}

// UseMode reprograms the CRTC with m on the next queued frame.
func (sc *Swapchain) UseMode(m types.Mode) error {
	sc.setMode(m)
	sc.ResetBuffers()
	return nil
}

// Destroy turns the CRTC off and frees every buffer, including the one on
// screen. The swapchain must not be used afterwards.
func (sc *Swapchain) Destroy() error {
	err := sc.disable()
	for _, s := range sc.slots {
		sc.destroy(s)
	}
	sc.slots = nil
	sc.acquired, sc.queued, sc.scanout = nil, nil, nil
	return err
}

func (sc *Swapchain) destroy(s *slot) {
	if s.buf == nil {
		return
	}
	if err := s.buf.Destroy(); err != nil {
		log.Debugf("Destroying buffer on crtc %d: %v", sc.crtc, err)
	}
	s.buf = nil
}
