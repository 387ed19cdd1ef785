package config

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange whenever the outputs file is edited by someone other
// than the store. The returned function stops watching.
func (s *Store) Watch(onChange func()) (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// editors replace files, so watch the directory
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if !s.changedOnDisk() {
					continue
				}
				log.Infof("Output configuration %s changed", s.path)
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("Watching %s: %v", s.path, err)
			}
		}
	}()

	return func() error {
		err := w.Close()
		<-done
		return err
	}, nil
}
