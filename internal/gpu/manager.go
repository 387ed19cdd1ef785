// Package gpu is a CPU implementation of the multi-GPU render manager. Every
// (source, target) node pair gets its own renderer; client buffers imported
// on a renderer are tracked per pair so repeated imports are cheap.
package gpu

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/types"
)

var (
	ErrNotMapped    = errors.New("buffer is not mapped into memory")
	ErrNoClientNode = errors.New("client has no render node")
	ErrNothingBound = errors.New("no buffer bound")
)

type pair struct {
	src, target types.Node
}

// Manager hands out renderers keyed by node pair.
type Manager struct {
	renderers map[pair]*Renderer
}

func NewManager() *Manager {
	return &Manager{renderers: make(map[pair]*Renderer)}
}

func (m *Manager) Renderer(src, target types.Node) (kms.Renderer, error) {
	return m.renderer(src, target)
}

func (m *Manager) renderer(src, target types.Node) (*Renderer, error) {
	if src.IsZero() || target.IsZero() {
		return nil, fmt.Errorf("invalid node pair %s -> %s", src, target)
	}

	p := pair{src, target}
	r, ok := m.renderers[p]
	if !ok {
		r = &Renderer{src: src, target: target, imports: make(map[uint64]types.Dmabuf)}
		m.renderers[p] = r
		log.Debugf("Created renderer %s -> %s", src, target)
	}
	return r, nil
}

// BufferedWindow is a window that has a client buffer attached.
type BufferedWindow interface {
	kms.Window
	Buffer() (types.Dmabuf, bool)
}

// EarlyImport imports the buffer attached to w on the renderer that moves
// client's buffers to target.
func (m *Manager) EarlyImport(client *types.Node, target types.Node, w kms.Window) error {
	if client == nil {
		return ErrNoClientNode
	}
	r, err := m.renderer(*client, target)
	if err != nil {
		return err
	}
	bw, ok := w.(BufferedWindow)
	if !ok {
		return nil
	}
	buf, ok := bw.Buffer()
	if !ok {
		return nil
	}
	return r.ImportDmabuf(buf)
}

// Imported reports whether buf was imported for any renderer targeting target.
func (m *Manager) Imported(target types.Node, id uint64) bool {
	for p, r := range m.renderers {
		if p.target == target && r.imported(id) {
			return true
		}
	}
	return false
}

// Forget drops every renderer touching node, after its device went away.
func (m *Manager) Forget(node types.Node) {
	for p := range m.renderers {
		if p.src == node || p.target == node {
			delete(m.renderers, p)
		}
	}
}
