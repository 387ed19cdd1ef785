package drm

import (
	"bytes"
	"cmp"
	"os"
	"runtime"
	"slices"
	"unsafe"

	ndrm "github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/ioctl"
)

const propNameLen = 32

const (
	clientCapUniversalPlanes = 2
	clientCapAtomic          = 3
)

// object types
const (
	objectCRTC      = 0xcccccccc
	objectConnector = 0xc0c0c0c0
)

const (
	pageFlipEvent      = 0x01
	atomicAllowModeSet = 0x0400
)

type (
	// struct drm_mode_crtc_page_flip
	sysPageFlip struct {
		crtcID   uint32
		fbID     uint32
		flags    uint32
		reserved uint32
		userData uint64
	}

	// struct drm_mode_get_property
	sysGetProperty struct {
		valuesPtr      uint64
		enumBlobPtr    uint64
		propID         uint32
		flags          uint32
		name           [propNameLen]uint8
		countValues    uint32
		countEnumBlobs uint32
	}

	// struct drm_mode_get_blob
	sysGetBlob struct {
		blobID uint32
		length uint32
		data   uint64
	}

	// struct drm_set_client_cap
	sysSetClientCap struct {
		capability uint64
		value      uint64
	}

	// struct drm_mode_obj_get_properties
	sysObjGetProperties struct {
		propsPtr      uint64
		propValuesPtr uint64
		countProps    uint32
		objID         uint32
		objType       uint32
	}

	// struct drm_mode_atomic
	sysAtomic struct {
		flags         uint32
		countObjs     uint32
		objsPtr       uint64
		countPropsPtr uint64
		propsPtr      uint64
		propValuesPtr uint64
		reserved      uint64
		userData      uint64
	}

	atomicProperty struct {
		objectID   uint32
		propertyID uint32
		value      uint64
	}
)

var (
	// DRM_IOWR(0xB0, struct drm_mode_crtc_page_flip)
	ioctlModePageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysPageFlip{})), ndrm.IOCTLBase, 0xB0)

	// DRM_IOWR(0xAA, struct drm_mode_get_property)
	ioctlModeGetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetProperty{})), ndrm.IOCTLBase, 0xAA)

	// DRM_IOWR(0xAC, struct drm_mode_get_blob)
	ioctlModeGetPropBlob = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetBlob{})), ndrm.IOCTLBase, 0xAC)

	// DRM_IOW(0x0D, struct drm_set_client_cap)
	ioctlSetClientCap = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(sysSetClientCap{})), ndrm.IOCTLBase, 0x0D)

	// DRM_IOWR(0xB9, struct drm_mode_obj_get_properties)
	ioctlModeObjGetProperties = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjGetProperties{})), ndrm.IOCTLBase, 0xB9)

	// DRM_IOWR(0xBC, struct drm_mode_atomic)
	ioctlModeAtomic = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysAtomic{})), ndrm.IOCTLBase, 0xBC)
)

// pageFlip schedules fb for scanout on crtc at the next vblank. The
// completion event carries crtc as user data.
func pageFlip(f *os.File, crtc, fb uint32) error {
	req := &sysPageFlip{
		crtcID:   crtc,
		fbID:     fb,
		flags:    pageFlipEvent,
		userData: uint64(crtc),
	}
	return ioctl.Do(f.Fd(), uintptr(ioctlModePageFlip), uintptr(unsafe.Pointer(req)))
}

func setClientCap(f *os.File, capability, value uint64) error {
	req := &sysSetClientCap{capability: capability, value: value}
	return ioctl.Do(f.Fd(), uintptr(ioctlSetClientCap), uintptr(unsafe.Pointer(req)))
}

// propertyName reads only the name of a property; its values and enums are
// left behind.
func propertyName(f *os.File, id uint32) (string, error) {
	req := &sysGetProperty{propID: id}
	if err := ioctl.Do(f.Fd(), uintptr(ioctlModeGetProperty), uintptr(unsafe.Pointer(req))); err != nil {
		return "", err
	}
	name, _, _ := bytes.Cut(req.name[:], []byte{0})
	return string(name), nil
}

// objectProperties returns the property ids of an object and their values.
func objectProperties(f *os.File, obj, objType uint32) ([]uint32, []uint64, error) {
	req := &sysObjGetProperties{objID: obj, objType: objType}
	if err := ioctl.Do(f.Fd(), uintptr(ioctlModeObjGetProperties), uintptr(unsafe.Pointer(req))); err != nil {
		return nil, nil, err
	}
	if req.countProps == 0 {
		return nil, nil, nil
	}

	props := make([]uint32, req.countProps)
	values := make([]uint64, req.countProps)
	req.propsPtr = uint64(uintptr(unsafe.Pointer(&props[0])))
	req.propValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
	err := ioctl.Do(f.Fd(), uintptr(ioctlModeObjGetProperties), uintptr(unsafe.Pointer(req)))
	runtime.KeepAlive(props)
	runtime.KeepAlive(values)
	if err != nil {
		return nil, nil, err
	}
	// properties may have gone away between the two calls
	n := min(int(req.countProps), len(props))
	return props[:n], values[:n], nil
}

func propertyBlob(f *os.File, id uint32) ([]byte, error) {
	req := &sysGetBlob{blobID: id}
	if err := ioctl.Do(f.Fd(), uintptr(ioctlModeGetPropBlob), uintptr(unsafe.Pointer(req))); err != nil {
		return nil, err
	}
	if req.length == 0 {
		return nil, nil
	}

	data := make([]byte, req.length)
	req.data = uint64(uintptr(unsafe.Pointer(&data[0])))
	err := ioctl.Do(f.Fd(), uintptr(ioctlModeGetPropBlob), uintptr(unsafe.Pointer(req)))
	runtime.KeepAlive(data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// packAtomic groups properties by object in the layout drm_mode_atomic
// expects: one count per object, ids and values in object order.
func packAtomic(props []atomicProperty) (objs, counts, ids []uint32, values []uint64) {
	sorted := slices.Clone(props)
	slices.SortStableFunc(sorted, func(a, b atomicProperty) int {
		return cmp.Compare(a.objectID, b.objectID)
	})
	for i, p := range sorted {
		if i == 0 || p.objectID != sorted[i-1].objectID {
			objs = append(objs, p.objectID)
			counts = append(counts, 0)
		}
		counts[len(counts)-1]++
		ids = append(ids, p.propertyID)
		values = append(values, p.value)
	}
	return objs, counts, ids, values
}

func atomicCommit(f *os.File, flags uint32, props []atomicProperty) error {
	if len(props) == 0 {
		return nil
	}
	objs, counts, ids, values := packAtomic(props)
	req := &sysAtomic{
		flags:         flags,
		countObjs:     uint32(len(objs)),
		objsPtr:       uint64(uintptr(unsafe.Pointer(&objs[0]))),
		countPropsPtr: uint64(uintptr(unsafe.Pointer(&counts[0]))),
		propsPtr:      uint64(uintptr(unsafe.Pointer(&ids[0]))),
		propValuesPtr: uint64(uintptr(unsafe.Pointer(&values[0]))),
	}
	err := ioctl.Do(f.Fd(), uintptr(ioctlModeAtomic), uintptr(unsafe.Pointer(req)))
	runtime.KeepAlive(objs)
	runtime.KeepAlive(counts)
	runtime.KeepAlive(ids)
	runtime.KeepAlive(values)
	return err
}
