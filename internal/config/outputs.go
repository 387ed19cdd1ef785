// Package config persists output settings in a TOML file and merges them
// into the live outputs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

// Entry is the persisted configuration of one output, keyed by connector
// name. Refresh is in millihertz, 0 for any.
type Entry struct {
	Make      string `mapstructure:"make"`
	Model     string `mapstructure:"model"`
	Enabled   *bool  `mapstructure:"enabled"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	Refresh   uint32 `mapstructure:"refresh"`
	VRR       bool   `mapstructure:"vrr"`
	X         int    `mapstructure:"x"`
	Y         int    `mapstructure:"y"`
	Transform string `mapstructure:"transform"`
}

func (e Entry) matches(o *output.Output) bool {
	p := o.Physical()
	return (e.Make == "" || e.Make == p.Make) && (e.Model == "" || e.Model == p.Model)
}

func (e Entry) config() output.Config {
	c := output.DefaultConfig()
	if e.Enabled != nil {
		c.Enabled = *e.Enabled
	}
	c.Size = types.Size{W: e.Width, H: e.Height}
	if e.Refresh != 0 {
		c.Refresh = output.RefreshOf(e.Refresh)
	}
	c.VRR = e.VRR
	c.Position = types.Point{X: e.X, Y: e.Y}
	if e.Transform != "" {
		c.Transform = types.Transform(e.Transform)
	}
	return c
}

func entryOf(o *output.Output, c output.Config) Entry {
	enabled := c.Enabled
	e := Entry{
		Make:      o.Physical().Make,
		Model:     o.Physical().Model,
		Enabled:   &enabled,
		Width:     c.Size.W,
		Height:    c.Size.H,
		VRR:       c.VRR,
		X:         c.Position.X,
		Y:         c.Position.Y,
		Transform: string(c.Transform),
	}
	if c.Refresh != nil {
		e.Refresh = *c.Refresh
	}
	return e
}

// Store is the outputs file. It is used from the loop goroutine only, except
// for the watcher which compares file contents under the lock.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
	written []byte
}

// Open loads path. A missing file is an empty configuration.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]Entry)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Reload rereads the file.
func (s *Store) Reload() error {
	entries, err := load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

func load(path string) (map[string]Entry, error) {
	entries := make(map[string]Entry)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file struct {
		Outputs map[string]Entry `mapstructure:"outputs"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for name, e := range file.Outputs {
		entries[strings.ToLower(name)] = e
	}
	return entries, nil
}

// Entry returns the persisted settings for an output name.
func (s *Store) Entry(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[strings.ToLower(name)]
	return e, ok
}

// ReadOutputs merges the persisted settings into outputs. Each candidate is
// validated with a test-only apply first; any output that fails to apply
// keeps its previous configuration.
func (s *Store) ReadOutputs(outputs []*output.Output, a output.Applier) {
	type change struct {
		o      *output.Output
		backup output.Config
	}
	var changes []change

	for _, o := range outputs {
		e, ok := s.Entry(o.Name())
		if !ok || !e.matches(o) {
			continue
		}
		cfg := o.ConfigOrInsert(output.DefaultConfig)
		candidate := e.config()
		if configEqual(*cfg, candidate) {
			continue
		}

		backup := *cfg
		*cfg = candidate
		if err := a.ApplyConfigForOutput(o, true); err != nil {
			log.Warnf("Ignoring stored configuration of %s: %v", o.Name(), err)
			*cfg = backup
			continue
		}
		changes = append(changes, change{o, backup})
	}

	for _, c := range changes {
		if err := a.ApplyConfigForOutput(c.o, false); err != nil {
			log.Errorf("Failed to apply stored configuration of %s, reverting: %v", c.o.Name(), err)
			*c.o.Config() = c.backup
			if err := a.ApplyConfigForOutput(c.o, false); err != nil {
				log.Errorf("Failed to revert configuration of %s: %v", c.o.Name(), err)
			}
		}
	}
}

// WriteOutputs persists the configuration of every output that has one.
// Entries of outputs not currently present are kept.
func (s *Store) WriteOutputs(outputs []*output.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range outputs {
		cfg := o.Config()
		if cfg == nil {
			continue
		}
		s.entries[strings.ToLower(o.Name())] = entryOf(o, *cfg)
	}

	if err := s.write(); err != nil {
		log.Errorf("Failed to write %s: %v", s.path, err)
	}
}

func (s *Store) write() error {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	slices.Sort(names)

	v := viper.New()
	v.SetConfigType("toml")
	for _, name := range names {
		e := s.entries[name]
		prefix := "outputs." + name + "."
		v.Set(prefix+"make", e.Make)
		v.Set(prefix+"model", e.Model)
		v.Set(prefix+"enabled", e.Enabled == nil || *e.Enabled)
		v.Set(prefix+"width", e.Width)
		v.Set(prefix+"height", e.Height)
		v.Set(prefix+"refresh", e.Refresh)
		v.Set(prefix+"vrr", e.VRR)
		v.Set(prefix+"x", e.X)
		v.Set(prefix+"y", e.Y)
		v.Set(prefix+"transform", e.Transform)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return err
	}
	written, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	s.written = written
	return nil
}

// changedOnDisk reports whether the file differs from what was last written.
func (s *Store) changedOnDisk() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !bytes.Equal(data, s.written)
}

func configEqual(a, b output.Config) bool {
	if (a.Refresh == nil) != (b.Refresh == nil) {
		return false
	}
	if a.Refresh != nil && *a.Refresh != *b.Refresh {
		return false
	}
	a.Refresh, b.Refresh = nil, nil
	return a == b
}
