package wallpaper

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matjam/kmsd/internal/compose"
	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/output"
)

type recordingSetter struct {
	images []image.Image
	mode   compose.ScaleMode
}

func (s *recordingSetter) SetWallpaper(img image.Image, mode compose.ScaleMode) {
	s.images = append(s.images, img)
	s.mode = mode
}

// fakeLoad returns a 1x1 image per path and fails for the paths in broken.
func fakeLoad(broken ...string) func(string) (image.Image, error) {
	return func(path string) (image.Image, error) {
		for _, b := range broken {
			if b == path {
				return nil, errors.New("corrupt")
			}
		}
		return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
	}
}

func newManager(paths []string, broken ...string) (*Manager, *recordingSetter) {
	s := &recordingSetter{}
	m := NewManager(paths, s, compose.ScaleStretch)
	m.load = fakeLoad(broken...)
	return m, s
}

func TestNextRotates(t *testing.T) {
	m, s := newManager([]string{"a.png", "b.png", "c.png"})

	for _, want := range []string{"a.png", "b.png", "c.png", "a.png"} {
		got, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want, m.Current())
	}
	assert.Len(t, s.images, 4)
	assert.Equal(t, compose.ScaleStretch, s.mode)
}

func TestNextSkipsBroken(t *testing.T) {
	m, s := newManager([]string{"a.png", "b.png"}, "a.png")

	got, err := m.Next()
	require.NoError(t, err)
	assert.Equal(t, "b.png", got)
	assert.Len(t, s.images, 1)
}

func TestNextAllBroken(t *testing.T) {
	m, s := newManager([]string{"a.png", "b.png"}, "a.png", "b.png")

	_, err := m.Next()
	assert.ErrorContains(t, err, "corrupt")
	assert.Empty(t, s.images)
	assert.Empty(t, m.Current())
}

func TestNextEmpty(t *testing.T) {
	m, _ := newManager(nil)
	_, err := m.Next()
	assert.ErrorIs(t, err, ErrNoWallpapers)
}

func TestSetWallpapersAndShuffle(t *testing.T) {
	m, _ := newManager([]string{"a.png"})
	paths := []string{"1.png", "2.png", "3.png", "4.png"}
	m.SetWallpapers(paths)
	m.Shuffle()
	assert.ElementsMatch(t, []string{"1.png", "2.png", "3.png", "4.png"}, m.Wallpapers())
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "notes.txt", "c.gif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	paths, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.JPG"),
		filepath.Join(dir, "c.gif"),
	}, paths)

	single, err := List(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	empty := t.TempDir()
	_, err = List(empty)
	assert.ErrorIs(t, err, ErrNoWallpapers)

	_, err = List(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestAttach(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loop := eventloop.New[*kms.Backend](clock)
	heads := output.NewRegistry()
	kms.New(kms.Options{Loop: loop, Heads: heads})
	heads.AddHeads(output.New("DP-1", output.PhysicalProperties{}))

	m, s := newManager([]string{"a.png", "b.png"})
	token := Attach(loop, m, time.Minute)
	assert.True(t, loop.Registered(token))

	loop.Dispatch()
	assert.Empty(t, s.images)

	clock.Advance(time.Minute)
	loop.Dispatch()
	assert.Equal(t, "a.png", m.Current())

	clock.Advance(time.Minute)
	loop.Dispatch()
	assert.Equal(t, "b.png", m.Current())

	loop.Remove(token)
	clock.Advance(time.Minute)
	loop.Dispatch()
	assert.Equal(t, "b.png", m.Current())
	assert.Len(t, s.images, 2)
}

func TestAttachNothingToRotate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loop := eventloop.New[*kms.Backend](clock)
	kms.New(kms.Options{Loop: loop, Heads: output.NewRegistry()})

	m, s := newManager(nil)
	Attach(loop, m, time.Second)
	clock.Advance(time.Second)
	loop.Dispatch()
	assert.Empty(t, s.images)

	// a single wallpaper is shown once
	m.SetWallpapers([]string{"a.png"})
	clock.Advance(time.Second)
	loop.Dispatch()
	clock.Advance(time.Second)
	loop.Dispatch()
	assert.Len(t, s.images, 1)
	assert.Equal(t, "a.png", m.Current())
}
