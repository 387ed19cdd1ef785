package drm

import (
	"fmt"
	"os"

	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"

	"github.com/matjam/kmsd/internal/types"
)

// DumbBuffer is a CPU-mapped scanout buffer with a framebuffer attached.
type DumbBuffer struct {
	file   *os.File
	fb     *mode.FB
	fbID   uint32
	size   types.Size
	format types.Format
	data   []byte
}

// NewDumbBuffer allocates a 32bpp XRGB8888 buffer of the given size.
func NewDumbBuffer(f *os.File, size types.Size) (*DumbBuffer, error) {
	fb, err := mode.CreateFB(f, uint16(size.W), uint16(size.H), 32)
	if err != nil {
		return nil, fmt.Errorf("create dumb buffer: %w", err)
	}
	b := &DumbBuffer{
		file:   f,
		fb:     fb,
		size:   size,
		format: types.Format{Code: types.FormatXRGB8888, Modifier: types.ModifierLinear},
	}

	b.fbID, err = mode.AddFB(f, uint16(size.W), uint16(size.H), 24, 32, fb.Pitch, fb.Handle)
	if err != nil {
		mode.DestroyDumb(f, fb.Handle)
		return nil, fmt.Errorf("add framebuffer: %w", err)
	}

	offset, err := mode.MapDumb(f, fb.Handle)
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("map dumb buffer: %w", err)
	}
	b.data, err = unix.Mmap(int(f.Fd()), int64(offset), int(fb.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("mmap dumb buffer: %w", err)
	}
	return b, nil
}

func (b *DumbBuffer) Size() types.Size {
	return b.size
}

func (b *DumbBuffer) Format() types.Format {
	return b.format
}

func (b *DumbBuffer) Pixels() []byte {
	return b.data
}

func (b *DumbBuffer) Stride() int {
	return int(b.fb.Pitch)
}

func (b *DumbBuffer) FramebufferID() uint32 {
	return b.fbID
}

// Destroy unmaps the buffer and releases its framebuffer and memory.
func (b *DumbBuffer) Destroy() error {
	var firstErr error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			firstErr = err
		}
		b.data = nil
	}
	if b.fbID != 0 {
		if err := mode.RmFB(b.file, b.fbID); err != nil && firstErr == nil {
			firstErr = err
		}
		b.fbID = 0
	}
	if err := mode.DestroyDumb(b.file, b.fb.Handle); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
