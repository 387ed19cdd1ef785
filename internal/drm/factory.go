package drm

import (
	"os"

	"github.com/matjam/kmsd/internal/kms"
)

// Factory builds the KMS handles of a device opened by the session.
type Factory struct{}

func (Factory) NewDRM(f *os.File) (kms.DRM, error) {
	d, err := Open(f)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (Factory) NewAllocator(f *os.File) (kms.Allocator, error) {
	return NewAllocator(f), nil
}
