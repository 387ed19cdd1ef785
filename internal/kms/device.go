package kms

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

const openFlags = unix.O_RDWR | unix.O_CLOEXEC | unix.O_NOCTTY | unix.O_NONBLOCK

// Device is one GPU with its mode-setting handle and the surfaces driven by
// its CRTCs.
type Device struct {
	id         types.DevID
	path       string
	file       *os.File
	drm        DRM
	allocator  Allocator
	renderNode types.Node
	formats    []types.Format
	atomic     bool
	surfaces   map[types.CRTC]*Surface
	events     eventloop.Token
	socket     Socket
}

func (d *Device) ID() types.DevID {
	return d.id
}

func (d *Device) Path() string {
	return d.path
}

func (d *Device) RenderNode() types.Node {
	return d.renderNode
}

func (d *Device) Atomic() bool {
	return d.atomic
}

// Surfaces returns the device's surfaces ordered by CRTC.
func (d *Device) Surfaces() []*Surface {
	crtcs := slices.Sorted(maps.Keys(d.surfaces))
	out := make([]*Surface, 0, len(crtcs))
	for _, c := range crtcs {
		out = append(out, d.surfaces[c])
	}
	return out
}

// DeviceAdded opens the device at path and publishes its outputs. It does
// nothing while the session is inactive.
func (b *Backend) DeviceAdded(id types.DevID, path string) error {
	if !b.session.IsActive() {
		return nil
	}
	if _, ok := b.devices[id]; ok {
		return b.DeviceChanged(id)
	}

	dev, err := b.openDevice(id, path)
	if err != nil {
		return err
	}

	changes, err := dev.enumerateSurfaces()
	if err != nil {
		b.closeDevice(dev)
		return fmt.Errorf("failed to enumerate outputs of %s: %w", path, err)
	}

	b.devices[id] = dev

	w := b.shell.GlobalWidth()
	var outputs []*output.Output
	for _, p := range changes.Added {
		o, err := b.setupSurface(dev, p.CRTC, p.Connector, types.Point{X: w})
		if err != nil {
			log.Warnf("Failed to initialize output: %v", err)
			continue
		}
		if m, ok := o.CurrentMode(); ok {
			w += m.Size.W
		}
		outputs = append(outputs, o)
	}

	b.heads.AddHeads(outputs...)
	b.heads.Update()
	for _, o := range outputs {
		if err := b.ApplyConfigForOutput(o, false); err != nil {
			log.Warnf("Failed to initialize output %s: %v", o.Name(), err)
		}
	}
	b.syncConfig()

	log.Infof("Added drm device %s (render node %s, %d outputs)", path, dev.renderNode, len(outputs))
	return nil
}

func (b *Backend) openDevice(id types.DevID, path string) (*Device, error) {
	f, err := b.session.Open(path, openFlags)
	if err != nil {
		return nil, fmt.Errorf("failed to open drm device %s: %w", path, err)
	}

	drm, err := b.factory.NewDRM(f)
	if err != nil {
		b.session.Close(f)
		return nil, fmt.Errorf("failed to initialize drm device %s: %w", path, err)
	}
	allocator, err := b.factory.NewAllocator(f)
	if err != nil {
		drm.Close()
		b.session.Close(f)
		return nil, fmt.Errorf("failed to initialize allocator for %s: %w", path, err)
	}
	renderNode, err := allocator.RenderNode()
	if err != nil {
		drm.Close()
		b.session.Close(f)
		return nil, fmt.Errorf("failed to determine render node of %s: %w", path, err)
	}

	dev := &Device{
		id:         id,
		path:       path,
		file:       f,
		drm:        drm,
		allocator:  allocator,
		renderNode: renderNode,
		formats:    allocator.Formats(),
		atomic:     drm.IsAtomic(),
		surfaces:   make(map[types.CRTC]*Surface),
	}
	dev.events = eventloop.InsertSource(b.loop, drm.Events(), func(ev types.DrmEvent, b *Backend) {
		b.handleDrmEvent(id, ev)
	})

	if b.sockets != nil {
		socket, err := b.sockets.Create(renderNode, dev.formats)
		if err != nil {
			log.Warnf("Failed to create client socket for %s: %v", path, err)
		} else {
			dev.socket = socket
		}
	}
	return dev, nil
}

func (b *Backend) closeDevice(dev *Device) {
	b.loop.Remove(dev.events)
	dev.events = 0
	if dev.socket != nil {
		dev.socket.Destroy()
		dev.socket = nil
	}
	if err := dev.drm.Close(); err != nil {
		log.Debugf("Closing drm handle of %s: %v", dev.path, err)
	}
	if f, ok := b.gpus.(interface{ Forget(types.Node) }); ok {
		f.Forget(dev.renderNode)
	}
	if err := b.session.Close(dev.file); err != nil {
		log.Debugf("Closing %s: %v", dev.path, err)
	}
}

// DeviceChanged reconciles the outputs of a known device with the hardware.
func (b *Backend) DeviceChanged(id types.DevID) error {
	if !b.session.IsActive() {
		return nil
	}
	dev, ok := b.devices[id]
	if !ok {
		return nil
	}

	changes, err := dev.enumerateSurfaces()
	if err != nil {
		return fmt.Errorf("failed to enumerate outputs of %s: %w", dev.path, err)
	}

	w := b.shell.GlobalWidth()
	var removed, added []*output.Output
	for _, crtc := range changes.Removed {
		s, ok := dev.surfaces[crtc]
		if !ok {
			continue
		}
		b.teardownSurface(s)
		delete(dev.surfaces, crtc)
		if m, ok := s.output.CurrentMode(); ok {
			w -= m.Size.W
		}
		removed = append(removed, s.output)
	}
	for _, p := range changes.Added {
		o, err := b.setupSurface(dev, p.CRTC, p.Connector, types.Point{X: w})
		if err != nil {
			log.Warnf("Failed to initialize output: %v", err)
			continue
		}
		w += o.Config().ModeSize().W
		added = append(added, o)
	}

	b.heads.RemoveHeads(removed...)
	b.heads.AddHeads(added...)
	for _, o := range added {
		if err := b.ApplyConfigForOutput(o, false); err != nil {
			log.Warnf("Failed to initialize output %s: %v", o.Name(), err)
		}
	}
	b.heads.Update()
	b.syncConfig()
	return nil
}

// DeviceRemoved tears down a device and all of its outputs. It runs even
// while the session is inactive.
func (b *Backend) DeviceRemoved(id types.DevID) error {
	dev, ok := b.devices[id]
	if !ok {
		return nil
	}
	delete(b.devices, id)

	var removed []*output.Output
	for _, s := range dev.Surfaces() {
		b.teardownSurface(s)
		removed = append(removed, s.output)
	}
	b.closeDevice(dev)

	b.heads.RemoveHeads(removed...)
	b.heads.Update()

	if b.session.IsActive() {
		b.syncConfig()
	}

	log.Infof("Removed drm device %s", dev.path)
	return nil
}
