package kms

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/types"
)

// ApplyConfigForOutput pushes the configuration record of o to its CRTC. With
// testOnly set the record is only validated.
func (b *Backend) ApplyConfigForOutput(o *output.Output, testOnly bool) error {
	dev, s := b.surfaceForOutput(o)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownOutput, o.Name())
	}
	cfg := *o.ConfigOrInsert(output.DefaultConfig)

	recreated, err := b.applyConfig(dev, s, cfg, testOnly)
	if err != nil {
		return err
	}
	if testOnly {
		return nil
	}

	b.shell.RefreshOutputs()
	if recreated {
		b.ScheduleRender(o)
	}
	return nil
}

// applyConfig reports whether a new swapchain was created.
func (b *Backend) applyConfig(dev *Device, s *Surface, cfg output.Config, testOnly bool) (bool, error) {
	o := s.output
	if !cfg.Enabled {
		if !testOnly {
			b.teardownSurface(s)
		}
		return false, nil
	}

	info, err := dev.drm.Connector(s.connector)
	if err != nil {
		return false, fmt.Errorf("failed to read connector of %s: %w", o.Name(), err)
	}
	mode, err := selectMode(info.Modes, cfg.Size, cfg.Refresh)
	if err != nil {
		return false, fmt.Errorf("%s: %w", o.Name(), err)
	}
	if testOnly {
		return false, nil
	}

	current := outputMode(mode)
	position := cfg.Position

	if s.swapchain != nil {
		if cfg.VRR != s.vrr {
			vrr, err := dev.drm.SetVRR(s.crtc, s.connector, cfg.VRR)
			if err != nil {
				return false, fmt.Errorf("failed to set vrr on %s: %w", o.Name(), err)
			}
			s.vrr = vrr
		}
		if err := s.swapchain.UseMode(mode); err != nil {
			return false, fmt.Errorf("failed to switch %s to %s: %w", o.Name(), mode, err)
		}
		s.refresh = mode.RefreshRate()
		o.ChangeCurrentState(&current, nil, &position)
		return false, nil
	}

	vrr, err := dev.drm.SetVRR(s.crtc, s.connector, cfg.VRR)
	if err != nil {
		log.Debugf("Failed to set vrr on %s: %v", o.Name(), err)
		vrr = false
	}
	s.vrr = vrr
	s.refresh = mode.RefreshRate()

	ms, err := dev.drm.CreateSurface(s.crtc, mode, []types.Connector{s.connector})
	if err != nil {
		return false, fmt.Errorf("failed to create surface for %s: %w", o.Name(), err)
	}
	swapchain, err := dev.allocator.NewSwapchain(ms, dev.formats)
	if err != nil {
		return false, fmt.Errorf("failed to initialize swapchain for %s: %w", o.Name(), err)
	}
	s.swapchain = swapchain
	o.ChangeCurrentState(&current, nil, &position)
	b.shell.AddOutput(o)
	return true, nil
}

// selectMode picks the mode of the given size whose refresh rate is closest
// to refresh. Ties go to the earlier mode; a nil refresh takes the first
// size match.
func selectMode(modes []types.Mode, size types.Size, refresh *uint32) (types.Mode, error) {
	var (
		best     types.Mode
		bestDiff int64
		found    bool
	)
	for _, m := range modes {
		if m.Size() != size {
			continue
		}
		if refresh == nil {
			return m, nil
		}
		diff := int64(*refresh) - int64(m.RefreshRate())
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < bestDiff {
			best, bestDiff, found = m, diff, true
		}
	}
	if !found {
		return types.Mode{}, fmt.Errorf("%w for %dx%d", ErrNoMatchingMode, size.W, size.H)
	}
	return best, nil
}
