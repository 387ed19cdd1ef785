package gpu

import (
	"fmt"

	"github.com/matjam/kmsd/internal/types"
)

// Renderer draws into CPU mapped buffers.
type Renderer struct {
	src, target types.Node

	bound types.PixelBuffer

	imports map[uint64]types.Dmabuf
}

func (r *Renderer) Source() types.Node {
	return r.src
}

func (r *Renderer) Target() types.Node {
	return r.target
}

// Bind makes buf the destination of the next composition.
func (r *Renderer) Bind(buf types.Buffer) error {
	pb, ok := buf.(types.PixelBuffer)
	if !ok {
		return fmt.Errorf("%w: %s buffer", ErrNotMapped, buf.Format().Code)
	}
	r.bound = pb
	return nil
}

// Bound returns the buffer set by the last Bind.
func (r *Renderer) Bound() (types.PixelBuffer, error) {
	if r.bound == nil {
		return nil, ErrNothingBound
	}
	return r.bound, nil
}

func (r *Renderer) ImportDmabuf(buf types.Dmabuf) error {
	if buf.Width <= 0 || buf.Height <= 0 {
		return fmt.Errorf("dmabuf %d has invalid size %dx%d", buf.ID, buf.Width, buf.Height)
	}
	r.imports[buf.ID] = buf
	return nil
}

func (r *Renderer) imported(id uint64) bool {
	_, ok := r.imports[id]
	return ok
}
