package kms

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

// Surface is one CRTC driving one connector. It has a swapchain only while
// its output is enabled.
type Surface struct {
	crtc      types.CRTC
	connector types.Connector
	output    *output.Output
	swapchain Swapchain

	lastRender *Capture
	lastSubmit time.Time
	refresh    uint32 // mHz
	vrr        bool

	// pending is set while a render timer is registered or a queued frame
	// waits for its vblank.
	pending bool
	timer   eventloop.Token
}

// Capture is the last frame rendered for an output.
type Capture struct {
	Node   types.Node
	Buffer types.Buffer
	Time   time.Time
}

func (s *Surface) CRTC() types.CRTC {
	return s.crtc
}

func (s *Surface) Connector() types.Connector {
	return s.connector
}

func (s *Surface) Output() *output.Output {
	return s.output
}

func (s *Surface) Enabled() bool {
	return s.swapchain != nil
}

func (s *Surface) Pending() bool {
	return s.pending
}

func (s *Surface) VRR() bool {
	return s.vrr
}

// RefreshRate is in millihertz.
func (s *Surface) RefreshRate() uint32 {
	return s.refresh
}

func (s *Surface) LastSubmit() time.Time {
	return s.lastSubmit
}

// frameInterval is the time one refresh cycle takes, 60Hz if unknown.
func (s *Surface) frameInterval() time.Duration {
	refresh := s.refresh
	if refresh == 0 {
		refresh = 60_000
	}
	return time.Duration(int64(time.Second) * 1000 / int64(refresh))
}

// CRTCConnector is a newly paired CRTC and connector.
type CRTCConnector struct {
	CRTC      types.CRTC
	Connector types.Connector
}

// OutputChanges is the difference between a device's surfaces and the
// current hardware pairing.
type OutputChanges struct {
	Added   []CRTCConnector
	Removed []types.CRTC
}

func (d *Device) enumerateSurfaces() (OutputChanges, error) {
	config, err := d.drm.DisplayConfiguration(d.atomic)
	if err != nil {
		return OutputChanges{}, err
	}
	return diffSurfaces(d.surfaces, config), nil
}

func diffSurfaces(surfaces map[types.CRTC]*Surface, config map[types.Connector]types.CRTC) OutputChanges {
	// cloned connectors share a CRTC; only the lowest one gets a surface
	byCRTC := make(map[types.CRTC]types.Connector, len(config))
	for conn, crtc := range config {
		if c, ok := byCRTC[crtc]; !ok || conn < c {
			byCRTC[crtc] = conn
		}
	}

	var changes OutputChanges
	for crtc, conn := range byCRTC {
		if s, ok := surfaces[crtc]; !ok || s.connector != conn {
			changes.Added = append(changes.Added, CRTCConnector{CRTC: crtc, Connector: conn})
		}
	}
	for crtc, s := range surfaces {
		if c, ok := byCRTC[crtc]; !ok || c != s.connector {
			changes.Removed = append(changes.Removed, crtc)
		}
	}
	slices.SortFunc(changes.Added, func(a, b CRTCConnector) int {
		return cmp.Compare(a.CRTC, b.CRTC)
	})
	slices.Sort(changes.Removed)
	return changes
}

// setupSurface creates the surface and output for a new CRTC/connector pair
// placed at position. The surface starts without swapchain.
func (b *Backend) setupSurface(dev *Device, crtc types.CRTC, conn types.Connector, position types.Point) (*output.Output, error) {
	info, err := dev.drm.Connector(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read connector %d of %s: %w", conn, dev.path, err)
	}
	crtcMode, err := dev.drm.CRTCMode(crtc)
	if err != nil {
		return nil, fmt.Errorf("failed to read crtc %d of %s: %w", crtc, dev.path, err)
	}

	vrr, err := dev.drm.SetVRR(crtc, conn, !b.noVRR)
	if err != nil {
		log.Debugf("Failed to set vrr on connector %d: %v", conn, err)
		vrr = false
	}

	name, err := dev.drm.InterfaceName(conn)
	if err != nil {
		name = "Unknown"
	}
	edid, err := dev.drm.EDID(conn)
	if err != nil {
		log.Debugf("Failed to read edid of %s: %v", name, err)
		edid = types.EDIDInfo{Manufacturer: "Unknown", Model: "Unknown"}
	}

	var mode types.Mode
	switch {
	case crtcMode != nil:
		mode = *crtcMode
	case len(info.Modes) > 0:
		mode = info.Modes[0]
		for _, m := range info.Modes {
			if m.Preferred() {
				mode = m
				break
			}
		}
	default:
		return nil, fmt.Errorf("connector %s has no modes", name)
	}
	refresh := mode.RefreshRate()

	o := output.New(name, output.PhysicalProperties{
		Size:  info.PhysicalSize,
		Make:  edid.Manufacturer,
		Model: edid.Model,
	})
	for _, m := range info.Modes {
		o.AddMode(outputMode(m))
	}
	current := outputMode(mode)
	transform := types.TransformNormal
	o.SetPreferred(current)
	o.ChangeCurrentState(&current, &transform, &position)
	o.ConfigOrInsert(func() output.Config {
		c := output.DefaultConfig()
		c.Size = mode.Size()
		c.Refresh = output.RefreshOf(refresh)
		c.VRR = vrr
		c.Position = position
		return c
	})

	dev.surfaces[crtc] = &Surface{
		crtc:      crtc,
		connector: conn,
		output:    o,
		refresh:   refresh,
		vrr:       vrr,
	}
	return o, nil
}

func outputMode(m types.Mode) output.Mode {
	return output.Mode{Size: m.Size(), Refresh: int(m.RefreshRate())}
}

// teardownSurface cancels the surface's render and destroys its swapchain.
func (b *Backend) teardownSurface(s *Surface) {
	b.cancelRender(s)
	if s.swapchain != nil {
		if err := s.swapchain.Destroy(); err != nil {
			log.Debugf("Failed to release swapchain of %s: %v", s.output.Name(), err)
		}
		s.swapchain = nil
		b.shell.RemoveOutput(s.output)
	}
}
