package drm

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	ndrm "github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/mode"
	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/types"
)

var (
	ErrNoProperty     = errors.New("property not found")
	ErrVRRUnsupported = errors.New("variable refresh rate not supported")
)

// Device is a KMS handle over an opened card node. The file stays owned by
// the caller.
type Device struct {
	file   *os.File
	fd     int
	driver string
	atomic bool

	propMu    sync.Mutex
	propNames map[uint32]string

	events chan types.DrmEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Open prepares f for mode setting and starts reading its events.
func Open(f *os.File) (*Device, error) {
	if !ndrm.HasDumbBuffer(f) {
		return nil, fmt.Errorf("%s does not support dumb buffers", f.Name())
	}

	d := &Device{
		file:      f,
		fd:        int(f.Fd()),
		propNames: make(map[uint32]string),
		events:    make(chan types.DrmEvent, 16),
		done:      make(chan struct{}),
	}
	if v, err := ndrm.GetVersion(f); err == nil {
		d.driver = v.Name
	}

	if err := setClientCap(f, clientCapUniversalPlanes, 1); err != nil {
		log.Debugf("%s: universal planes unavailable: %v", f.Name(), err)
	}
	d.atomic = setClientCap(f, clientCapAtomic, 1) == nil
	log.Debugf("Opened %s (driver %q, atomic %t)", f.Name(), d.driver, d.atomic)

	d.wg.Add(1)
	go d.readEvents()
	return d, nil
}

func (d *Device) Driver() string {
	return d.driver
}

func (d *Device) IsAtomic() bool {
	return d.atomic
}

func (d *Device) Events() <-chan types.DrmEvent {
	return d.events
}

// Close stops the event reader. It does not close the file.
func (d *Device) Close() error {
	d.once.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
	return nil
}

// DisplayConfiguration pairs every connected connector with a CRTC. The
// current pairing is kept; connectors without one get a free compatible CRTC.
func (d *Device) DisplayConfiguration(atomic bool) (map[types.Connector]types.CRTC, error) {
	res, err := mode.GetResources(d.file)
	if err != nil {
		return nil, fmt.Errorf("failed to read resources: %w", err)
	}

	config := make(map[types.Connector]types.CRTC)
	used := make(map[uint32]bool)
	var unpaired []*mode.Connector

	for _, id := range res.Connectors {
		conn, err := mode.GetConnector(d.file, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read connector %d: %w", id, err)
		}
		if conn.Connection != mode.Connected {
			continue
		}

		crtc, err := d.currentCRTC(conn, atomic)
		if err != nil {
			return nil, err
		}
		if crtc == 0 || used[crtc] {
			unpaired = append(unpaired, conn)
			continue
		}
		used[crtc] = true
		config[types.Connector(id)] = types.CRTC(crtc)
	}

	for _, conn := range unpaired {
		crtc, ok := d.freeCRTC(res, conn, used)
		if !ok {
			log.Warnf("No free crtc for connector %d", conn.ID)
			continue
		}
		used[crtc] = true
		config[types.Connector(conn.ID)] = types.CRTC(crtc)
	}
	return config, nil
}

func (d *Device) currentCRTC(conn *mode.Connector, atomic bool) (uint32, error) {
	if atomic {
		_, value, err := d.property(conn.ID, objectConnector, "CRTC_ID")
		if err != nil {
			return 0, fmt.Errorf("connector %d: %w", conn.ID, err)
		}
		return uint32(value), nil
	}
	if conn.EncoderID == 0 {
		return 0, nil
	}
	enc, err := mode.GetEncoder(d.file, conn.EncoderID)
	if err != nil {
		return 0, fmt.Errorf("failed to read encoder %d: %w", conn.EncoderID, err)
	}
	return enc.CrtcID, nil
}

func (d *Device) freeCRTC(res *mode.Resources, conn *mode.Connector, used map[uint32]bool) (uint32, bool) {
	for _, encID := range conn.Encoders {
		enc, err := mode.GetEncoder(d.file, encID)
		if err != nil {
			continue
		}
		for i, crtc := range res.Crtcs {
			if enc.PossibleCrtcs&(1<<uint(i)) != 0 && !used[crtc] {
				return crtc, true
			}
		}
	}
	return 0, false
}

func (d *Device) CRTCMode(crtc types.CRTC) (*types.Mode, error) {
	c, err := mode.GetCrtc(d.file, uint32(crtc))
	if err != nil {
		return nil, fmt.Errorf("failed to read crtc %d: %w", crtc, err)
	}
	if c.ModeValid == 0 {
		return nil, nil
	}
	m := fromInfo(c.Mode)
	return &m, nil
}

func (d *Device) Connector(conn types.Connector) (types.ConnectorInfo, error) {
	c, err := mode.GetConnector(d.file, uint32(conn))
	if err != nil {
		return types.ConnectorInfo{}, fmt.Errorf("failed to read connector %d: %w", conn, err)
	}
	info := types.ConnectorInfo{
		Handle:       conn,
		PhysicalSize: types.Size{W: int(c.Width), H: int(c.Height)},
	}
	for _, m := range c.Modes {
		// GetConnector hands back one zeroed mode when there are none
		if m.Clock == 0 {
			continue
		}
		info.Modes = append(info.Modes, fromInfo(m))
	}
	return info, nil
}

func (d *Device) InterfaceName(conn types.Connector) (string, error) {
	c, err := mode.GetConnector(d.file, uint32(conn))
	if err != nil {
		return "", fmt.Errorf("failed to read connector %d: %w", conn, err)
	}
	return interfaceName(c.Type, c.TypeID), nil
}

func (d *Device) EDID(conn types.Connector) (types.EDIDInfo, error) {
	_, blobID, err := d.property(uint32(conn), objectConnector, "EDID")
	if err != nil {
		return types.EDIDInfo{}, err
	}
	if blobID == 0 {
		return types.EDIDInfo{}, fmt.Errorf("connector %d has no edid", conn)
	}
	blob, err := propertyBlob(d.file, uint32(blobID))
	if err != nil {
		return types.EDIDInfo{}, fmt.Errorf("failed to read edid blob: %w", err)
	}
	return ParseEDID(blob)
}

// SetVRR sets VRR_ENABLED on crtc if conn is vrr_capable.
func (d *Device) SetVRR(crtc types.CRTC, conn types.Connector, enable bool) (bool, error) {
	if !d.atomic {
		if enable {
			return false, fmt.Errorf("%w: legacy mode setting", ErrVRRUnsupported)
		}
		return false, nil
	}

	_, capable, err := d.property(uint32(conn), objectConnector, "vrr_capable")
	if err != nil || capable == 0 {
		if enable {
			return false, fmt.Errorf("%w on connector %d", ErrVRRUnsupported, conn)
		}
		return false, nil
	}

	prop, current, err := d.property(uint32(crtc), objectCRTC, "VRR_ENABLED")
	if err != nil {
		return false, err
	}
	want := uint64(0)
	if enable {
		want = 1
	}
	if current == want {
		return enable, nil
	}

	err = atomicCommit(d.file, atomicAllowModeSet, []atomicProperty{
		{objectID: uint32(crtc), propertyID: prop, value: want},
	})
	if err != nil {
		return current == 1, fmt.Errorf("failed to set VRR_ENABLED on crtc %d: %w", crtc, err)
	}
	return enable, nil
}

// CreateSurface returns a surface for crtc. The mode is programmed with the
// first frame queued on it.
func (d *Device) CreateSurface(crtc types.CRTC, m types.Mode, conns []types.Connector) (kms.ModeSurface, error) {
	if len(conns) == 0 {
		return nil, errors.New("surface needs at least one connector")
	}
	ids := make([]uint32, len(conns))
	for i, c := range conns {
		ids[i] = uint32(c)
	}
	return &Surface{dev: d, crtc: crtc, mode: m, connectors: ids, modeset: true}, nil
}

// property looks up a property of a KMS object by name.
func (d *Device) property(obj, objType uint32, name string) (uint32, uint64, error) {
	props, values, err := objectProperties(d.file, obj, objType)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read properties of object %d: %w", obj, err)
	}
	for i, id := range props {
		n, err := d.propertyName(id)
		if err != nil {
			return 0, 0, err
		}
		if n == name {
			return id, values[i], nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s on object %d", ErrNoProperty, name, obj)
}

func (d *Device) propertyName(id uint32) (string, error) {
	d.propMu.Lock()
	defer d.propMu.Unlock()
	if n, ok := d.propNames[id]; ok {
		return n, nil
	}
	name, err := propertyName(d.file, id)
	if err != nil {
		return "", fmt.Errorf("failed to read property %d: %w", id, err)
	}
	d.propNames[id] = name
	return name, nil
}

var connectorTypes = []string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO", "LVDS",
	"Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP", "Virtual", "DSI",
	"DPI", "Writeback", "SPI", "USB",
}

func interfaceName(typ, typeID uint32) string {
	name := "Unknown"
	if int(typ) < len(connectorTypes) {
		name = connectorTypes[typ]
	}
	return fmt.Sprintf("%s-%d", name, typeID)
}

func fromInfo(i mode.Info) types.Mode {
	name, _, _ := bytes.Cut(i.Name[:], []byte{0})
	return types.Mode{
		Name:       string(name),
		Clock:      i.Clock,
		Width:      i.Hdisplay,
		Height:     i.Vdisplay,
		HSyncStart: i.HsyncStart,
		HSyncEnd:   i.HsyncEnd,
		HTotal:     i.Htotal,
		HSkew:      i.Hskew,
		VSyncStart: i.VsyncStart,
		VSyncEnd:   i.VsyncEnd,
		VTotal:     i.Vtotal,
		VScan:      i.Vscan,
		VRefresh:   i.Vrefresh,
		Flags:      i.Flags,
		Type:       i.Type,
	}
}

func toInfo(m types.Mode) mode.Info {
	i := mode.Info{
		Clock:      m.Clock,
		Hdisplay:   m.Width,
		HsyncStart: m.HSyncStart,
		HsyncEnd:   m.HSyncEnd,
		Htotal:     m.HTotal,
		Hskew:      m.HSkew,
		Vdisplay:   m.Height,
		VsyncStart: m.VSyncStart,
		VsyncEnd:   m.VSyncEnd,
		Vtotal:     m.VTotal,
		Vscan:      m.VScan,
		Vrefresh:   m.VRefresh,
		Flags:      m.Flags,
		Type:       m.Type,
	}
	copy(i.Name[:len(i.Name)-1], m.Name)
	return i
}
