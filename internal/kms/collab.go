package kms

import (
	"os"

	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

// Session hands out privileged device file descriptors and tracks whether
// this seat currently owns the VT.
type Session interface {
	Open(path string, flags int) (*os.File, error)
	Close(f *os.File) error
	IsActive() bool
	ChangeVT(vt int) error
	Seat() string
}

// DeviceFactory builds the per-GPU handles over an opened device file.
type DeviceFactory interface {
	NewDRM(f *os.File) (DRM, error)
	NewAllocator(f *os.File) (Allocator, error)
}

// DRM is a mode-setting device handle.
type DRM interface {
	IsAtomic() bool
	// DisplayConfiguration returns the current connector to CRTC pairing.
	DisplayConfiguration(atomic bool) (map[types.Connector]types.CRTC, error)
	// CRTCMode returns the mode programmed on crtc, nil if it is off.
	CRTCMode(crtc types.CRTC) (*types.Mode, error)
	Connector(conn types.Connector) (types.ConnectorInfo, error)
	InterfaceName(conn types.Connector) (string, error)
	EDID(conn types.Connector) (types.EDIDInfo, error)
	// SetVRR toggles variable refresh on crtc and reports the resulting state.
	SetVRR(crtc types.CRTC, conn types.Connector, enable bool) (bool, error)
	CreateSurface(crtc types.CRTC, mode types.Mode, conns []types.Connector) (ModeSurface, error)
	// Events is closed when the handle is closed.
	Events() <-chan types.DrmEvent
	Close() error
}

// ModeSurface is a CRTC programmed with a mode for a set of connectors.
type ModeSurface interface {
	CRTC() types.CRTC
	Mode() types.Mode
}

type Allocator interface {
	RenderNode() (types.Node, error)
	Formats() []types.Format
	NewSwapchain(s ModeSurface, formats []types.Format) (Swapchain, error)
}

// Swapchain rotates the scanout buffers of one ModeSurface.
type Swapchain interface {
	// NextBuffer returns a free buffer and its age in frames, 0 if its
	// contents are undefined.
	NextBuffer() (types.Buffer, int, error)
	// QueueBuffer submits the last acquired buffer for scanout.
	QueueBuffer() error
	// FrameSubmitted marks the queued buffer as on screen and releases the
	// previous one.
	FrameSubmitted() error
	ResetBuffers()
	UseMode(mode types.Mode) error
	// Destroy turns the surface off and frees every buffer.
	Destroy() error
}

type GPUManager interface {
	Renderer(src, target types.Node) (Renderer, error)
	EarlyImport(client *types.Node, target types.Node, w Window) error
}

type Renderer interface {
	Bind(buf types.Buffer) error
	ImportDmabuf(buf types.Dmabuf) error
}

// Composer draws one frame of an output into the renderer's bound buffer.
type Composer interface {
	RenderOutput(src *types.Node, r Renderer, age int, o *output.Output) error
	NeedsBufferReset(o *output.Output) bool
}

type Shell interface {
	ActiveSpace(o *output.Output) Workspace
	Outputs() []*output.Output
	AddOutput(o *output.Output)
	RemoveOutput(o *output.Output)
	RefreshOutputs()
	GlobalWidth() int
	SendFrames(o *output.Output, ms uint32)
}

type Workspace interface {
	Fullscreen() (Window, bool)
	Windows() []Window
}

type Window interface {
	// ClientNode is the render node the owning client allocates on.
	ClientNode() (types.Node, bool)
}

// Configurator merges persisted output settings into the live outputs and
// writes the result back.
type Configurator interface {
	ReadOutputs(outputs []*output.Output, a output.Applier)
	WriteOutputs(outputs []*output.Output)
}

type SocketFactory interface {
	Create(node types.Node, formats []types.Format) (Socket, error)
}

// Socket is the client-facing buffer sharing endpoint of one device.
type Socket interface {
	Destroy()
}

type DeviceLister interface {
	DeviceList() ([]types.DeviceEntry, error)
}
