package drm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/types"
)

var ErrNoRenderNode = errors.New("no render node")

// sysfsRoot is overridden in tests.
var sysfsRoot = "/sys"

// Allocator hands out dumb buffers on a card node.
type Allocator struct {
	file *os.File
}

func NewAllocator(f *os.File) *Allocator {
	return &Allocator{file: f}
}

// RenderNode returns the render node belonging to the same GPU as the card.
func (a *Allocator) RenderNode() (types.Node, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(a.file.Fd()), &st); err != nil {
		return types.Node{}, fmt.Errorf("stat %s: %w", a.file.Name(), err)
	}
	return RenderNodeFor(types.DevID(st.Rdev))
}

func (a *Allocator) Formats() []types.Format {
	return []types.Format{
		{Code: types.FormatXRGB8888, Modifier: types.ModifierLinear},
		{Code: types.FormatARGB8888, Modifier: types.ModifierLinear},
	}
}

func (a *Allocator) NewSwapchain(s kms.ModeSurface, formats []types.Format) (kms.Swapchain, error) {
	surface, ok := s.(*Surface)
	if !ok {
		return nil, fmt.Errorf("surface for crtc %d was not created by this device", s.CRTC())
	}
	return NewSwapchain(surface, formats)
}

// RenderNodeFor finds the render node of the GPU behind dev through sysfs.
func RenderNodeFor(dev types.DevID) (types.Node, error) {
	node, err := types.NodeFromDevID(dev)
	if err != nil {
		return types.Node{}, err
	}
	if node.Type == types.NodeTypeRender {
		return node, nil
	}

	dir := filepath.Join(sysfsRoot, "dev/char", dev.String(), "device/drm")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return types.Node{}, fmt.Errorf("%w for %s: %w", ErrNoRenderNode, node, err)
	}
	for _, e := range entries {
		name, ok := strings.CutPrefix(e.Name(), "renderD")
		if !ok {
			continue
		}
		minor, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		return types.NodeFromDevID(types.MakeDevID(types.DRMMajor, uint32(minor)))
	}
	return types.Node{}, fmt.Errorf("%w for %s", ErrNoRenderNode, node)
}

// NodeFromPath stats path and returns the DRM node it refers to.
func NodeFromPath(path string) (types.Node, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return types.Node{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return types.Node{}, fmt.Errorf("%w: %s is not a character device", types.ErrNotDRMNode, path)
	}
	return types.NodeFromDevID(types.DevID(st.Rdev))
}
