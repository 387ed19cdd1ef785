package drm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/types"
)

type testBuffer struct {
	id        uint32
	size      types.Size
	destroyed bool
}

func (b *testBuffer) Size() types.Size      { return b.size }
func (b *testBuffer) Format() types.Format  { return types.Format{Code: types.FormatXRGB8888} }
func (b *testBuffer) Pixels() []byte        { return make([]byte, b.size.W*b.size.H*4) }
func (b *testBuffer) Stride() int           { return b.size.W * 4 }
func (b *testBuffer) FramebufferID() uint32 { return b.id }
func (b *testBuffer) Destroy() error {
	b.destroyed = true
	return nil
}

type testChain struct {
	*Swapchain
	mode       types.Mode
	modesets   int
	disabled   int
	presented  []uint32
	allocated  []*testBuffer
	presentErr error
	disableErr error
}

func newTestChain() *testChain {
	tc := &testChain{mode: types.Mode{Width: 64, Height: 32, VRefresh: 60}}
	tc.Swapchain = &Swapchain{
		crtc: 41,
		mode: func() types.Mode { return tc.mode },
		newBuffer: func(size types.Size) (framebuffer, error) {
			b := &testBuffer{id: uint32(len(tc.allocated) + 1), size: size}
			tc.allocated = append(tc.allocated, b)
			return b, nil
		},
		present: func(fb uint32) error {
			if tc.presentErr != nil {
				return tc.presentErr
			}
			tc.presented = append(tc.presented, fb)
			return nil
		},
		setMode: func(m types.Mode) {
			tc.mode = m
			tc.modesets++
		},
		disable: func() error {
			tc.disabled++
			return tc.disableErr
		},
	}
	return tc
}

func (tc *testChain) frame(t *testing.T) (uint32, int) {
	t.Helper()
	buf, age, err := tc.NextBuffer()
	require.NoError(t, err)
	require.NoError(t, tc.QueueBuffer())
	return buf.(*testBuffer).id, age
}

func TestSwapchainAges(t *testing.T) {
	tc := newTestChain()

	id, age := tc.frame(t)
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, 0, age)
	require.NoError(t, tc.FrameSubmitted())

	// buffer 1 is on screen, a second one is allocated
	id, age = tc.frame(t)
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, 0, age)
	require.NoError(t, tc.FrameSubmitted())

	id, age = tc.frame(t)
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, 2, age)

	assert.Equal(t, []uint32{1, 2, 1}, tc.presented)
}

func TestSwapchainThreeSlots(t *testing.T) {
	tc := newTestChain()

	tc.frame(t)
	require.NoError(t, tc.FrameSubmitted())
	tc.frame(t)

	// one on screen, one queued, third is free
	buf, _, err := tc.NextBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), buf.(*testBuffer).id)
	assert.Len(t, tc.allocated, 3)
}

func TestSwapchainResetBuffers(t *testing.T) {
	tc := newTestChain()
	tc.frame(t)
	require.NoError(t, tc.FrameSubmitted())
	tc.frame(t)
	require.NoError(t, tc.FrameSubmitted())

	tc.ResetBuffers()
	// buffer 1 was neither queued nor on screen
	assert.True(t, tc.allocated[0].destroyed)
	assert.False(t, tc.allocated[1].destroyed)

	_, age, err := tc.NextBuffer()
	require.NoError(t, err)
	assert.Equal(t, 0, age)
}

func TestSwapchainUseModeReallocates(t *testing.T) {
	tc := newTestChain()
	tc.frame(t)
	require.NoError(t, tc.FrameSubmitted())

	require.NoError(t, tc.UseMode(types.Mode{Width: 128, Height: 64, VRefresh: 75}))
	assert.Equal(t, 1, tc.modesets)

	buf, age, err := tc.NextBuffer()
	require.NoError(t, err)
	assert.Equal(t, types.Size{W: 128, H: 64}, buf.Size())
	assert.Equal(t, 0, age)
}

func TestSwapchainDestroy(t *testing.T) {
	tc := newTestChain()
	tc.frame(t)
	require.NoError(t, tc.FrameSubmitted())
	tc.frame(t)
	_, _, err := tc.NextBuffer()
	require.NoError(t, err)
	require.Len(t, tc.allocated, 3)

	require.NoError(t, tc.Destroy())
	assert.Equal(t, 1, tc.disabled)
	for i, b := range tc.allocated {
		assert.True(t, b.destroyed, "buffer %d", i+1)
	}
	assert.Empty(t, tc.slots)
	assert.Nil(t, tc.acquired)
	assert.Nil(t, tc.queued)
	assert.Nil(t, tc.scanout)
}

func TestSwapchainDestroyFreesBuffersWhenDisableFails(t *testing.T) {
	tc := newTestChain()
	tc.frame(t)
	tc.disableErr = errors.New("device gone")

	assert.ErrorIs(t, tc.Destroy(), tc.disableErr)
	assert.True(t, tc.allocated[0].destroyed)
}

func TestSwapchainQueueErrors(t *testing.T) {
	tc := newTestChain()
	assert.Error(t, tc.QueueBuffer())

	_, _, err := tc.NextBuffer()
	require.NoError(t, err)
	tc.presentErr = errors.New("flip failed")
	assert.Error(t, tc.QueueBuffer())
	assert.Empty(t, tc.presented)
}

func TestNewSwapchainRequiresLinearXRGB(t *testing.T) {
	s := &Surface{crtc: 1, mode: types.Mode{Width: 1, Height: 1}}
	_, err := NewSwapchain(s, []types.Format{{Code: types.FormatARGB8888}})
	assert.Error(t, err)

	sc, err := NewSwapchain(s, NewAllocator(nil).Formats())
	require.NoError(t, err)
	assert.Equal(t, types.CRTC(1), sc.crtc)
}
