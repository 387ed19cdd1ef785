package kms

import (
	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/session"
)

// onSessionSignal runs on the session's goroutine.
func (b *Backend) onSessionSignal(sig session.Signal) {
	switch sig {
	case session.ActivateSession:
		b.loop.Post(func(b *Backend) {
			b.loop.InsertIdle(func(b *Backend) {
				b.activate()
			})
		})
	case session.PauseSession:
		b.loop.Post(func(*Backend) {
			log.Info("Session paused, waiting for activation")
		})
	}
}

// activate resynchronizes all devices after the session got its VT back.
func (b *Backend) activate() {
	entries, err := b.lister.DeviceList()
	if err != nil {
		log.Errorf("Failed to list drm devices: %v", err)
	}
	for _, e := range entries {
		if _, ok := b.devices[e.ID]; ok {
			if err := b.DeviceChanged(e.ID); err != nil {
				log.Errorf("Failed to update drm device %s: %v", e.Path, err)
			}
		} else if err := b.DeviceAdded(e.ID, e.Path); err != nil {
			log.Errorf("Failed to add drm device %s: %v", e.Path, err)
		}
	}

	b.heads.Update()
	b.syncConfig()

	// hardware state is unknown after a VT switch
	for _, dev := range b.devices {
		for _, s := range dev.surfaces {
			b.cancelRender(s)
		}
	}
	for _, o := range b.shell.Outputs() {
		b.ScheduleRender(o)
	}
}

// SwitchVT asks the session to change to virtual terminal vt. It works from
// an inactive session too.
func (b *Backend) SwitchVT(vt int) error {
	return b.session.ChangeVT(vt)
}
