// Package dmabuf keeps track of the per-device buffer sharing globals that
// clients import their buffers through.
package dmabuf

import (
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/types"
)

var (
	ErrNoGlobal       = errors.New("no dmabuf global")
	ErrFormat         = errors.New("format not advertised")
	ErrGlobalDisabled = errors.New("dmabuf global destroyed")
)

// Global advertises the formats one GPU can import.
type Global struct {
	id      uint64
	node    types.Node
	formats []types.Format

	registry  *Registry
	destroyed bool
}

func (g *Global) ID() uint64 {
	return g.id
}

func (g *Global) Node() types.Node {
	return g.node
}

func (g *Global) Formats() []types.Format {
	return slices.Clone(g.formats)
}

// Destroy withdraws the global. Buffers can no longer be imported through it.
func (g *Global) Destroy() {
	if g.destroyed {
		return
	}
	g.destroyed = true
	g.registry.remove(g)
	log.Debugf("Destroyed dmabuf global %d for %s", g.id, g.node)
}

// Check validates buf against the advertised formats.
func (g *Global) Check(buf types.Dmabuf) error {
	if g.destroyed {
		return ErrGlobalDisabled
	}
	if !slices.Contains(g.formats, buf.Format) {
		return fmt.Errorf("%w: %s modifier %#x", ErrFormat, buf.Format.Code, buf.Format.Modifier)
	}
	return nil
}

// Registry creates globals and finds them by node.
type Registry struct {
	globals []*Global
	nextID  uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Create(node types.Node, formats []types.Format) (kms.Socket, error) {
	if len(formats) == 0 {
		return nil, fmt.Errorf("no formats to advertise on %s", node)
	}
	if slices.ContainsFunc(r.globals, func(g *Global) bool { return g.node == node }) {
		return nil, fmt.Errorf("dmabuf global for %s already exists", node)
	}

	r.nextID++
	g := &Global{id: r.nextID, node: node, formats: slices.Clone(formats), registry: r}
	r.globals = append(r.globals, g)
	log.Debugf("Created dmabuf global %d for %s with %d formats", g.id, node, len(formats))
	return g, nil
}

func (r *Registry) remove(g *Global) {
	r.globals = slices.DeleteFunc(r.globals, func(x *Global) bool { return x == g })
}

// Lookup returns the global of node.
func (r *Registry) Lookup(node types.Node) (*Global, error) {
	for _, g := range r.globals {
		if g.node == node {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoGlobal, node)
}

// Globals lists the live globals by id.
func (r *Registry) Globals() []*Global {
	return slices.Clone(r.globals)
}

// Importer receives buffers that passed the global's checks.
type Importer interface {
	DmabufImported(socket kms.Socket, buf types.Dmabuf) error
}

// Import checks buf against the global of node and hands it to imp.
func (r *Registry) Import(imp Importer, node types.Node, buf types.Dmabuf) error {
	g, err := r.Lookup(node)
	if err != nil {
		return err
	}
	if err := g.Check(buf); err != nil {
		return err
	}
	if buf.Node == nil {
		n := g.node
		buf.Node = &n
	}
	return imp.DmabufImported(g, buf)
}
