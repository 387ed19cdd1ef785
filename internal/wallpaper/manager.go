// Package wallpaper rotates the composer's wallpaper through a list of
// images.
package wallpaper

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/compose"
	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/kms"
)

var ErrNoWallpapers = errors.New("no wallpapers")

// Setter shows a wallpaper image.
type Setter interface {
	SetWallpaper(img image.Image, mode compose.ScaleMode)
}

type Manager struct {
	sync.Mutex
	wallpapers []string // list of wallpaper paths
	current    string
	setter     Setter
	mode       compose.ScaleMode
	load       func(path string) (image.Image, error)
}

func NewManager(wallpapers []string, setter Setter, mode compose.ScaleMode) *Manager {
	return &Manager{
		wallpapers: wallpapers,
		setter:     setter,
		mode:       mode,
		load:       compose.LoadWallpaper,
	}
}

// List returns the images at path: the file itself, or the PNG, JPEG and GIF
// files of a directory in name order.
func List(path string) ([]string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("error reading wallpapers directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".png") ||
			strings.HasSuffix(name, ".jpg") ||
			strings.HasSuffix(name, ".jpeg") ||
			strings.HasSuffix(name, ".gif") {
			paths = append(paths, filepath.Join(path, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoWallpapers, path)
	}
	return paths, nil
}

func (m *Manager) Wallpapers() []string {
	m.Lock()
	defer m.Unlock()
	return slices.Clone(m.wallpapers)
}

func (m *Manager) SetWallpapers(wallpapers []string) {
	m.Lock()
	defer m.Unlock()
	m.wallpapers = wallpapers
}

func (m *Manager) Current() string {
	m.Lock()
	defer m.Unlock()
	return m.current
}

// NextWallpaper rotates the list and returns its former head.
func (m *Manager) NextWallpaper() string {
	m.Lock()
	defer m.Unlock()
	if len(m.wallpapers) == 0 {
		return ""
	}
	next := m.wallpapers[0]
	m.wallpapers = append(m.wallpapers[1:], next)
	return next
}

func (m *Manager) Shuffle() {
	m.Lock()
	defer m.Unlock()

	rand.Shuffle(len(m.wallpapers), func(i, j int) {
		m.wallpapers[i], m.wallpapers[j] = m.wallpapers[j], m.wallpapers[i]
	})
}

// Next shows the next wallpaper of the list. Images that fail to load are
// skipped, each one at most once.
func (m *Manager) Next() (string, error) {
	var errs []error
	for range len(m.Wallpapers()) {
		path := m.NextWallpaper()
		img, err := m.load(path)
		if err != nil {
			log.Warnf("Skipping wallpaper %s: %v", path, err)
			errs = append(errs, err)
			continue
		}
		m.setter.SetWallpaper(img, m.mode)

		m.Lock()
		m.current = path
		m.Unlock()
		log.Infof("Next wallpaper: %s (%dx%d)", path, img.Bounds().Dx(), img.Bounds().Dy())
		return path, nil
	}
	if len(errs) == 0 {
		return "", ErrNoWallpapers
	}
	return "", errors.Join(errs...)
}

// Show shows the next wallpaper and schedules a frame on every output.
// Must be called on the loop.
func (m *Manager) Show(b *kms.Backend) (string, error) {
	path, err := m.Next()
	if err != nil {
		return "", err
	}
	for _, o := range b.Heads().Outputs() {
		b.ScheduleRender(o)
	}
	return path, nil
}

// Attach changes the wallpaper every delay on the loop, while there is more
// than one.
func Attach(loop *eventloop.Loop[*kms.Backend], m *Manager, delay time.Duration) eventloop.Token {
	return loop.InsertTimer(delay, func(_ time.Time, b *kms.Backend) eventloop.TimeoutAction {
		if n := len(m.Wallpapers()); n == 0 || n == 1 && m.Current() != "" {
			return eventloop.ToDuration(delay)
		}
		log.Debugf("Changing wallpaper after %s", delay)
		if _, err := m.Show(b); err != nil {
			log.Errorf("Failed to change wallpaper: %v", err)
		}
		return eventloop.ToDuration(delay)
	})
}
