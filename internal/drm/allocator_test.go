package drm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/types"
)

func fakeSysfs(t *testing.T, card uint32, entries ...string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "dev/char", types.MakeDevID(types.DRMMajor, card).String(), "device/drm")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, e := range entries {
		require.NoError(t, os.Mkdir(filepath.Join(dir, e), 0o755))
	}
	old := sysfsRoot
	sysfsRoot = root
	t.Cleanup(func() { sysfsRoot = old })
}

func TestRenderNodeFor(t *testing.T) {
	fakeSysfs(t, 1, "card1", "renderD129")

	node, err := RenderNodeFor(types.MakeDevID(types.DRMMajor, 1))
	require.NoError(t, err)
	assert.Equal(t, types.NodeTypeRender, node.Type)
	assert.Equal(t, "/dev/dri/renderD129", node.Path())
}

func TestRenderNodeForRenderNode(t *testing.T) {
	dev := types.MakeDevID(types.DRMMajor, 130)
	node, err := RenderNodeFor(dev)
	require.NoError(t, err)
	assert.Equal(t, dev, node.Dev)
}

func TestRenderNodeForMissing(t *testing.T) {
	fakeSysfs(t, 0, "card0")

	_, err := RenderNodeFor(types.MakeDevID(types.DRMMajor, 0))
	assert.ErrorIs(t, err, ErrNoRenderNode)

	_, err = RenderNodeFor(types.MakeDevID(types.DRMMajor, 5))
	assert.ErrorIs(t, err, ErrNoRenderNode)

	_, err = RenderNodeFor(types.MakeDevID(8, 0))
	assert.ErrorIs(t, err, types.ErrNotDRMNode)
}

func TestNodeFromPathRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := NodeFromPath(path)
	assert.ErrorIs(t, err, types.ErrNotDRMNode)
}

func TestAllocatorFormats(t *testing.T) {
	a := NewAllocator(nil)
	assert.Contains(t, a.Formats(), types.Format{Code: types.FormatXRGB8888, Modifier: types.ModifierLinear})
}
