package udev

import (
	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/kms"
)

// Attach feeds the monitor's events into the backend on the loop.
func Attach(loop *eventloop.Loop[*kms.Backend], m *Monitor) eventloop.Token {
	return eventloop.InsertSource(loop, m.Events(), Handle)
}

// Handle applies one hot-plug event to the backend.
func Handle(ev Event, b *kms.Backend) {
	var err error
	switch ev.Kind {
	case Added:
		err = b.DeviceAdded(ev.ID, ev.Path)
	case Changed:
		err = b.DeviceChanged(ev.ID)
	case Removed:
		err = b.DeviceRemoved(ev.ID)
	}
	if err != nil {
		log.Errorf("Failed to handle %s drm device %s: %v", ev.Kind, ev.ID, err)
		return
	}
	log.Debugf("Handled %s event for %s", ev.Kind, ev.Path)
}
