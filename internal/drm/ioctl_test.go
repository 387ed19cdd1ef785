package drm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestPackAtomicGroupsByObject(t *testing.T) {
	objs, counts, ids, values := packAtomic([]atomicProperty{
		{objectID: 52, propertyID: 7, value: 1},
		{objectID: 41, propertyID: 3, value: 10},
		{objectID: 52, propertyID: 8, value: 2},
		{objectID: 41, propertyID: 4, value: 20},
		{objectID: 60, propertyID: 9, value: 3},
	})

	assert.Equal(t, []uint32{41, 52, 60}, objs)
	assert.Equal(t, []uint32{2, 2, 1}, counts)
	// order within an object is kept
	assert.Equal(t, []uint32{3, 4, 7, 8, 9}, ids)
	assert.Equal(t, []uint64{10, 20, 1, 2, 3}, values)
}

func TestPackAtomicEmpty(t *testing.T) {
	objs, counts, ids, values := packAtomic(nil)
	assert.Empty(t, objs)
	assert.Empty(t, counts)
	assert.Empty(t, ids)
	assert.Empty(t, values)
}

func TestIoctlStructSizes(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"drm_mode_crtc_page_flip", unsafe.Sizeof(sysPageFlip{}), 24},
		{"drm_mode_get_property", unsafe.Sizeof(sysGetProperty{}), 64},
		{"drm_mode_get_blob", unsafe.Sizeof(sysGetBlob{}), 16},
		{"drm_set_client_cap", unsafe.Sizeof(sysSetClientCap{}), 16},
		{"drm_mode_obj_get_properties", unsafe.Sizeof(sysObjGetProperties{}), 32},
		{"drm_mode_atomic", unsafe.Sizeof(sysAtomic{}), 56},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
