package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/types"
)

type fakeLister struct {
	entries []types.DeviceEntry
	boot    *types.DeviceEntry
	err     error
}

func (f fakeLister) DeviceList() ([]types.DeviceEntry, error) {
	return f.entries, f.err
}

func (f fakeLister) PrimaryGPU() (types.DeviceEntry, bool) {
	if f.boot == nil {
		return types.DeviceEntry{}, false
	}
	return *f.boot, true
}

var errNoRender = errors.New("no render node")

// renderNodes maps card minors 0, 1, ... to render minors 128, 129, ...
// except for the minors in missing.
func renderNodes(missing ...uint32) func(types.DevID) (types.Node, error) {
	return func(id types.DevID) (types.Node, error) {
		for _, m := range missing {
			if id.Minor() == m {
				return types.Node{}, errNoRender
			}
		}
		return types.Node{Dev: types.MakeDevID(226, id.Minor()+128), Type: types.NodeTypeRender}, nil
	}
}

func card(minor uint32) types.DeviceEntry {
	return types.DeviceEntry{ID: types.MakeDevID(226, minor), Path: "/dev/dri/card" + string(rune('0'+minor))}
}

func TestSelectPrimaryGPU(t *testing.T) {
	boot := card(1)

	tests := []struct {
		name    string
		lister  fakeLister
		missing []uint32
		want    uint32
		wantErr error
	}{
		{"boot vga", fakeLister{entries: []types.DeviceEntry{card(0), card(1)}, boot: &boot}, nil, 129, nil},
		{"boot vga without render node", fakeLister{entries: []types.DeviceEntry{card(0), card(1)}, boot: &boot}, []uint32{1}, 128, nil},
		{"first with render node", fakeLister{entries: []types.DeviceEntry{card(0), card(1)}}, []uint32{0}, 129, nil},
		{"none", fakeLister{entries: []types.DeviceEntry{card(0)}}, []uint32{0}, 0, ErrNoGPU},
		{"no devices", fakeLister{}, nil, 0, ErrNoGPU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := selectPrimaryGPU("", tt.lister, renderNodes(tt.missing...))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.Dev.Minor())
			assert.Equal(t, types.NodeTypeRender, node.Type)
		})
	}
}

func TestSelectPrimaryGPUListError(t *testing.T) {
	listErr := errors.New("sysfs unavailable")
	_, err := selectPrimaryGPU("", fakeLister{err: listErr}, renderNodes())
	assert.ErrorIs(t, err, listErr)
}

func TestSelectPrimaryGPUOverride(t *testing.T) {
	_, err := selectPrimaryGPU("/nonexistent/renderD128", fakeLister{}, renderNodes())
	assert.ErrorContains(t, err, "render_device")
}
