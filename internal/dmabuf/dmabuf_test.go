package dmabuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/types"
)

var (
	node    = types.Node{Dev: types.MakeDevID(types.DRMMajor, 128), Type: types.NodeTypeRender}
	xrgb    = types.Format{Code: types.FormatXRGB8888, Modifier: types.ModifierLinear}
	argb    = types.Format{Code: types.FormatARGB8888, Modifier: types.ModifierLinear}
	formats = []types.Format{xrgb}
)

type importer struct {
	sockets []kms.Socket
	bufs    []types.Dmabuf
}

func (i *importer) DmabufImported(s kms.Socket, buf types.Dmabuf) error {
	i.sockets = append(i.sockets, s)
	i.bufs = append(i.bufs, buf)
	return nil
}

func TestCreateAndLookup(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create(node, formats)
	require.NoError(t, err)

	g, err := r.Lookup(node)
	require.NoError(t, err)
	assert.Same(t, s, g)
	assert.Equal(t, uint64(1), g.ID())
	assert.Equal(t, formats, g.Formats())

	_, err = r.Create(node, formats)
	assert.Error(t, err)
	_, err = r.Create(types.Node{}, nil)
	assert.Error(t, err)
}

func TestDestroy(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create(node, formats)
	require.NoError(t, err)

	s.Destroy()
	s.Destroy()
	assert.Empty(t, r.Globals())
	_, err = r.Lookup(node)
	assert.ErrorIs(t, err, ErrNoGlobal)
	assert.ErrorIs(t, s.(*Global).Check(types.Dmabuf{Format: xrgb}), ErrGlobalDisabled)

	// the device can come back
	_, err = r.Create(node, formats)
	assert.NoError(t, err)
}

func TestImport(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create(node, formats)
	require.NoError(t, err)

	imp := &importer{}
	require.NoError(t, r.Import(imp, node, types.Dmabuf{ID: 1, Width: 4, Height: 4, Format: xrgb}))
	require.Len(t, imp.bufs, 1)
	assert.Same(t, s, imp.sockets[0])
	require.NotNil(t, imp.bufs[0].Node)
	assert.Equal(t, node, *imp.bufs[0].Node)

	err = r.Import(imp, node, types.Dmabuf{ID: 2, Width: 4, Height: 4, Format: argb})
	assert.ErrorIs(t, err, ErrFormat)

	other := types.Node{Dev: types.MakeDevID(types.DRMMajor, 129), Type: types.NodeTypeRender}
	err = r.Import(imp, other, types.Dmabuf{ID: 3, Format: xrgb})
	assert.ErrorIs(t, err, ErrNoGlobal)
	assert.Len(t, imp.bufs, 1)
}
