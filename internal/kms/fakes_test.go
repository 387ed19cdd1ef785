package kms

import (
	"errors"
	"os"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/session"
	"github.com/matjam/kmsd/internal/types"
)

var (
	mode5994 = types.Mode{Name: "1920x1080", Clock: 148352, Width: 1920, Height: 1080, HTotal: 2200, VTotal: 1125, Type: types.ModeTypeDriver}
	mode60   = types.Mode{Name: "1920x1080", Clock: 148500, Width: 1920, Height: 1080, HTotal: 2200, VTotal: 1125, Type: types.ModeTypeDriver | types.ModeTypePreferred}
	mode75   = types.Mode{Name: "1920x1080", Clock: 185625, Width: 1920, Height: 1080, HTotal: 2200, VTotal: 1125, Type: types.ModeTypeDriver}
	mode720  = types.Mode{Name: "1280x720", Clock: 74250, Width: 1280, Height: 720, HTotal: 1650, VTotal: 750, Type: types.ModeTypeDriver}
)

func renderNode(minor uint32) types.Node {
	return types.Node{Dev: types.MakeDevID(types.DRMMajor, minor), Type: types.NodeTypeRender}
}

func cardID(minor uint32) types.DevID {
	return types.MakeDevID(types.DRMMajor, minor)
}

type fakeSession struct {
	active bool
	paths  map[*os.File]string
	closed []string
	vt     int
}

func (s *fakeSession) Open(path string, flags int) (*os.File, error) {
	f, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}
	s.paths[f] = path
	return f, nil
}

func (s *fakeSession) Close(f *os.File) error {
	s.closed = append(s.closed, s.paths[f])
	delete(s.paths, f)
	return f.Close()
}

func (s *fakeSession) IsActive() bool { return s.active }
func (s *fakeSession) ChangeVT(vt int) error { s.vt = vt; return nil }
func (s *fakeSession) Seat() string { return "seat0" }

type fakeFactory struct {
	session *fakeSession
	drms    map[string]*fakeDRM
	allocs  map[string]*fakeAllocator
}

func (f *fakeFactory) NewDRM(file *os.File) (DRM, error) {
	d, ok := f.drms[f.session.paths[file]]
	if !ok {
		return nil, errors.New("no such device")
	}
	return d, nil
}

func (f *fakeFactory) NewAllocator(file *os.File) (Allocator, error) {
	a, ok := f.allocs[f.session.paths[file]]
	if !ok {
		return nil, errors.New("no such device")
	}
	return a, nil
}

type fakeDRM struct {
	config     map[types.Connector]types.CRTC
	connectors map[types.Connector]types.ConnectorInfo
	crtcModes  map[types.CRTC]*types.Mode
	vrrErr     error
	vrrCalls   int
	creates    int
	events     chan types.DrmEvent
	closed     bool
}

func newFakeDRM() *fakeDRM {
	return &fakeDRM{
		config:     make(map[types.Connector]types.CRTC),
		connectors: make(map[types.Connector]types.ConnectorInfo),
		crtcModes:  make(map[types.CRTC]*types.Mode),
		events:     make(chan types.DrmEvent, 8),
	}
}

// plug pairs conn with crtc and gives it modes.
func (d *fakeDRM) plug(conn types.Connector, crtc types.CRTC, modes ...types.Mode) {
	d.config[conn] = crtc
	d.connectors[conn] = types.ConnectorInfo{Handle: conn, Modes: modes, PhysicalSize: types.Size{W: 530, H: 300}}
}

func (d *fakeDRM) unplug(conn types.Connector) {
	delete(d.config, conn)
}

func (d *fakeDRM) IsAtomic() bool { return true }

func (d *fakeDRM) DisplayConfiguration(bool) (map[types.Connector]types.CRTC, error) {
	out := make(map[types.Connector]types.CRTC, len(d.config))
	for k, v := range d.config {
		out[k] = v
	}
	return out, nil
}

func (d *fakeDRM) CRTCMode(crtc types.CRTC) (*types.Mode, error) { return d.crtcModes[crtc], nil }

func (d *fakeDRM) Connector(conn types.Connector) (types.ConnectorInfo, error) {
	info, ok := d.connectors[conn]
	if !ok {
		return types.ConnectorInfo{}, errors.New("no such connector")
	}
	return info, nil
}

func (d *fakeDRM) InterfaceName(conn types.Connector) (string, error) {
	return "DP-" + string(rune('0'+conn)), nil
}

func (d *fakeDRM) EDID(types.Connector) (types.EDIDInfo, error) {
	return types.EDIDInfo{Manufacturer: "DEL", Model: "U2720Q"}, nil
}

func (d *fakeDRM) SetVRR(_ types.CRTC, _ types.Connector, enable bool) (bool, error) {
	d.vrrCalls++
	if d.vrrErr != nil {
		return false, d.vrrErr
	}
	return enable, nil
}

func (d *fakeDRM) CreateSurface(crtc types.CRTC, mode types.Mode, _ []types.Connector) (ModeSurface, error) {
	d.creates++
	return fakeModeSurface{crtc: crtc, mode: mode}, nil
}

func (d *fakeDRM) Events() <-chan types.DrmEvent { return d.events }

func (d *fakeDRM) Close() error {
	d.closed = true
	return nil
}

type fakeModeSurface struct {
	crtc types.CRTC
	mode types.Mode
}

func (s fakeModeSurface) CRTC() types.CRTC { return s.crtc }
func (s fakeModeSurface) Mode() types.Mode { return s.mode }

type fakeAllocator struct {
	node       types.Node
	nodeErr    error
	swapchains []*fakeSwapchain
}

func (a *fakeAllocator) RenderNode() (types.Node, error) { return a.node, a.nodeErr }

func (a *fakeAllocator) Formats() []types.Format {
	return []types.Format{{Code: types.FormatXRGB8888, Modifier: types.ModifierLinear}}
}

func (a *fakeAllocator) NewSwapchain(s ModeSurface, _ []types.Format) (Swapchain, error) {
	sc := &fakeSwapchain{mode: s.Mode()}
	a.swapchains = append(a.swapchains, sc)
	return sc, nil
}

type fakeBuffer struct{ size types.Size }

func (b fakeBuffer) Size() types.Size { return b.size }
func (b fakeBuffer) Format() types.Format {
	return types.Format{Code: types.FormatXRGB8888}
}

type fakeSwapchain struct {
	mode      types.Mode
	nextErr   error
	submitErr error
	acquired  int
	queued    int
	submitted int
	resets    int
	destroyed int
}

func (s *fakeSwapchain) NextBuffer() (types.Buffer, int, error) {
	if s.nextErr != nil {
		return nil, 0, s.nextErr
	}
	s.acquired++
	return fakeBuffer{size: s.mode.Size()}, 0, nil
}

func (s *fakeSwapchain) QueueBuffer() error { s.queued++; return nil }
func (s *fakeSwapchain) FrameSubmitted() error {
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted++
	return nil
}
func (s *fakeSwapchain) ResetBuffers() { s.resets++ }
func (s *fakeSwapchain) Destroy() error { s.destroyed++; return nil }
func (s *fakeSwapchain) UseMode(m types.Mode) error {
	s.mode = m
	return nil
}

type fakeRenderer struct {
	bound    int
	imported []types.Dmabuf
}

func (r *fakeRenderer) Bind(types.Buffer) error { r.bound++; return nil }
func (r *fakeRenderer) ImportDmabuf(buf types.Dmabuf) error {
	r.imported = append(r.imported, buf)
	return nil
}

type fakeGPUs struct {
	renderer *fakeRenderer
	pairs    [][2]types.Node
	imports  []types.Node
}

func (g *fakeGPUs) Renderer(src, target types.Node) (Renderer, error) {
	g.pairs = append(g.pairs, [2]types.Node{src, target})
	return g.renderer, nil
}

func (g *fakeGPUs) EarlyImport(_ *types.Node, target types.Node, _ Window) error {
	g.imports = append(g.imports, target)
	return errors.New("nothing to import")
}

type fakeComposer struct {
	err   error
	reset bool
	calls int
}

func (c *fakeComposer) RenderOutput(*types.Node, Renderer, int, *output.Output) error {
	c.calls++
	return c.err
}

func (c *fakeComposer) NeedsBufferReset(*output.Output) bool { return c.reset }

type fakeWindow struct {
	node types.Node
	ok   bool
}

func (w fakeWindow) ClientNode() (types.Node, bool) { return w.node, w.ok }

type fakeWorkspace struct {
	fullscreen Window
	windows    []Window
}

func (w *fakeWorkspace) Fullscreen() (Window, bool) { return w.fullscreen, w.fullscreen != nil }
func (w *fakeWorkspace) Windows() []Window { return w.windows }

type fakeShell struct {
	outputs   []*output.Output
	spaces    map[*output.Output]*fakeWorkspace
	frames    map[*output.Output]int
	refreshes int
}

func newFakeShell() *fakeShell {
	return &fakeShell{
		spaces: make(map[*output.Output]*fakeWorkspace),
		frames: make(map[*output.Output]int),
	}
}

func (s *fakeShell) ActiveSpace(o *output.Output) Workspace {
	if ws, ok := s.spaces[o]; ok {
		return ws
	}
	return nil
}

func (s *fakeShell) Outputs() []*output.Output { return append([]*output.Output(nil), s.outputs...) }

func (s *fakeShell) AddOutput(o *output.Output) { s.outputs = append(s.outputs, o) }

func (s *fakeShell) RemoveOutput(o *output.Output) {
	for i, existing := range s.outputs {
		if existing == o {
			s.outputs = append(s.outputs[:i], s.outputs[i+1:]...)
			return
		}
	}
}

func (s *fakeShell) RefreshOutputs() { s.refreshes++ }

func (s *fakeShell) GlobalWidth() int {
	w := 0
	for _, o := range s.outputs {
		m, _ := o.CurrentMode()
		w = max(w, o.Position().X+m.Size.W)
	}
	return w
}

func (s *fakeShell) SendFrames(o *output.Output, _ uint32) { s.frames[o]++ }

type fakeConfig struct {
	reads, writes int
}

func (c *fakeConfig) ReadOutputs([]*output.Output, output.Applier) { c.reads++ }
func (c *fakeConfig) WriteOutputs([]*output.Output) { c.writes++ }

type fakeSocket struct{ destroyed bool }

func (s *fakeSocket) Destroy() { s.destroyed = true }

type fakeSockets struct {
	err     error
	created []*fakeSocket
}

func (f *fakeSockets) Create(types.Node, []types.Format) (Socket, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSocket{}
	f.created = append(f.created, s)
	return s, nil
}

type fakeLister struct {
	entries []types.DeviceEntry
}

func (l *fakeLister) DeviceList() ([]types.DeviceEntry, error) { return l.entries, nil }

type fixture struct {
	clock    *clockwork.FakeClock
	loop     *eventloop.Loop[*Backend]
	session  *fakeSession
	signaler *session.Signaler
	factory  *fakeFactory
	gpus     *fakeGPUs
	composer *fakeComposer
	shell    *fakeShell
	heads    *output.Registry
	config   *fakeConfig
	sockets  *fakeSockets
	lister   *fakeLister
	backend  *Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sess := &fakeSession{active: true, paths: make(map[*os.File]string)}
	f := &fixture{
		clock:    clock,
		loop:     eventloop.New[*Backend](clock),
		session:  sess,
		signaler: session.NewSignaler(),
		factory: &fakeFactory{
			session: sess,
			drms:    make(map[string]*fakeDRM),
			allocs:  make(map[string]*fakeAllocator),
		},
		gpus:     &fakeGPUs{renderer: &fakeRenderer{}},
		composer: &fakeComposer{},
		shell:    newFakeShell(),
		heads:    output.NewRegistry(),
		config:   &fakeConfig{},
		sockets:  &fakeSockets{},
		lister:   &fakeLister{},
	}
	f.backend = New(Options{
		Loop:     f.loop,
		Session:  f.session,
		Signaler: f.signaler,
		Devices:  f.factory,
		Lister:   f.lister,
		GPUs:     f.gpus,
		Primary:  renderNode(128),
		Composer: f.composer,
		Shell:    f.shell,
		Heads:    f.heads,
		Config:   f.config,
		Sockets:  f.sockets,
	})
	t.Cleanup(func() {
		for file := range sess.paths {
			file.Close()
		}
	})
	return f
}

// gpu registers a device at /dev/dri/card<minor> rendering on
// renderD<128+minor>.
func (f *fixture) gpu(minor uint32) (types.DevID, string, *fakeDRM) {
	path := "/dev/dri/card" + string(rune('0'+minor))
	drm := newFakeDRM()
	f.factory.drms[path] = drm
	f.factory.allocs[path] = &fakeAllocator{node: renderNode(128 + minor)}
	f.lister.entries = append(f.lister.entries, types.DeviceEntry{ID: cardID(minor), Path: path})
	return cardID(minor), path, drm
}

func (f *fixture) surface(t *testing.T, o *output.Output) *Surface {
	t.Helper()
	_, s := f.backend.surfaceForOutput(o)
	require.NotNil(t, s)
	return s
}

// checkInvariants asserts the CRTC/connector and pending invariants of every
// surface.
func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	for _, dev := range f.backend.devices {
		seen := make(map[types.Connector]types.CRTC)
		for crtc, s := range dev.surfaces {
			require.Equal(t, crtc, s.crtc)
			other, dup := seen[s.connector]
			require.False(t, dup, "connector %d on crtcs %d and %d", s.connector, crtc, other)
			seen[s.connector] = crtc
			if s.timer != 0 {
				require.True(t, s.pending)
				require.True(t, f.loop.Registered(s.timer))
			}
		}
	}
}
