package kms

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/session"
	"github.com/matjam/kmsd/internal/types"
)

var (
	ErrNoMatchingMode = errors.New("no matching mode")
	ErrUnknownOutput  = errors.New("output does not belong to any device")
)

// Options collects the collaborators of a Backend. Sockets and Signaler are
// optional.
type Options struct {
	Loop     *eventloop.Loop[*Backend]
	Session  Session
	Signaler *session.Signaler
	Devices  DeviceFactory
	Lister   DeviceLister
	GPUs     GPUManager
	Primary  types.Node
	Composer Composer
	Shell    Shell
	Heads    *output.Registry
	Config   Configurator
	Sockets  SocketFactory
	// DisableVRR leaves variable refresh off on newly found connectors.
	DisableVRR bool
}

// Backend owns every GPU of the seat. All methods must be called from the
// loop goroutine.
type Backend struct {
	loop     *eventloop.Loop[*Backend]
	session  Session
	signaler *session.Signaler
	signal   session.Token

	factory  DeviceFactory
	lister   DeviceLister
	gpus     GPUManager
	primary  types.Node
	composer Composer
	shell    Shell
	heads    *output.Registry
	config   Configurator
	sockets  SocketFactory
	noVRR    bool

	devices map[types.DevID]*Device
	started time.Time
}

func New(opts Options) *Backend {
	b := &Backend{
		loop:     opts.Loop,
		session:  opts.Session,
		signaler: opts.Signaler,
		factory:  opts.Devices,
		lister:   opts.Lister,
		gpus:     opts.GPUs,
		primary:  opts.Primary,
		composer: opts.Composer,
		shell:    opts.Shell,
		heads:    opts.Heads,
		config:   opts.Config,
		sockets:  opts.Sockets,
		noVRR:    opts.DisableVRR,
		devices:  make(map[types.DevID]*Device),
		started:  opts.Loop.Clock().Now(),
	}
	opts.Loop.SetData(b)

	if b.signaler != nil {
		b.signal = b.signaler.Register(b.onSessionSignal)
	}
	return b
}

func (b *Backend) Loop() *eventloop.Loop[*Backend] {
	return b.loop
}

func (b *Backend) PrimaryGPU() types.Node {
	return b.primary
}

func (b *Backend) Heads() *output.Registry {
	return b.heads
}

// Device returns the tracked device with the given id, or nil.
func (b *Backend) Device(id types.DevID) *Device {
	return b.devices[id]
}

// Devices returns the tracked devices ordered by id.
func (b *Backend) Devices() []*Device {
	ids := slices.Sorted(maps.Keys(b.devices))
	devs := make([]*Device, 0, len(ids))
	for _, id := range ids {
		devs = append(devs, b.devices[id])
	}
	return devs
}

// Close removes every device and stops listening for session signals.
func (b *Backend) Close() {
	if b.signaler != nil {
		b.signaler.Unregister(b.signal)
	}
	for _, dev := range b.Devices() {
		if err := b.DeviceRemoved(dev.id); err != nil {
			log.Warnf("Failed to remove device %s: %v", dev.path, err)
		}
	}
}

// ScanDevices runs DeviceAdded for every device the lister knows about.
// Failures are logged per device.
func (b *Backend) ScanDevices() {
	entries, err := b.lister.DeviceList()
	if err != nil {
		log.Errorf("Failed to list drm devices: %v", err)
		return
	}
	for _, e := range entries {
		if err := b.DeviceAdded(e.ID, e.Path); err != nil {
			log.Errorf("Failed to add drm device %s: %v", e.Path, err)
		}
	}
}

// surfaceForOutput finds the device and surface publishing o.
func (b *Backend) surfaceForOutput(o *output.Output) (*Device, *Surface) {
	for _, dev := range b.devices {
		for _, s := range dev.surfaces {
			if s.output == o {
				return dev, s
			}
		}
	}
	return nil, nil
}

// ReloadConfig merges the persisted output settings again, after the file
// was edited.
func (b *Backend) ReloadConfig() {
	if !b.session.IsActive() {
		return
	}
	b.syncConfig()
}

// syncConfig runs the configuration read/merge/write cycle over all heads.
func (b *Backend) syncConfig() {
	b.config.ReadOutputs(b.heads.Outputs(), b)
	b.shell.RefreshOutputs()
	b.config.WriteOutputs(b.heads.Outputs())
}

// frameTime converts t to the millisecond clock sent with frame callbacks.
func (b *Backend) frameTime(t time.Time) uint32 {
	return uint32(t.Sub(b.started).Milliseconds())
}
