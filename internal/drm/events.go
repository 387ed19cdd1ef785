package drm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/matjam/kmsd/internal/types"
)

// drm_event types
const (
	eventVBlank       = 0x01
	eventFlipComplete = 0x02
)

const (
	eventHeaderLen = 8
	eventVBlankLen = 32
)

// parseEvents decodes the drm_event records read from a device. Records of
// unknown type are skipped. toTime converts the kernel's monotonic timestamp.
func parseEvents(buf []byte, toTime func(sec, usec uint32) time.Time) ([]types.DrmEvent, error) {
	var events []types.DrmEvent
	for len(buf) > 0 {
		if len(buf) < eventHeaderLen {
			return events, fmt.Errorf("short drm event header: %d bytes", len(buf))
		}
		typ := binary.NativeEndian.Uint32(buf[0:4])
		length := int(binary.NativeEndian.Uint32(buf[4:8]))
		if length < eventHeaderLen || length > len(buf) {
			return events, fmt.Errorf("bad drm event length %d", length)
		}
		rec := buf[:length]
		buf = buf[length:]

		if typ != eventVBlank && typ != eventFlipComplete {
			continue
		}
		if length < eventVBlankLen {
			return events, fmt.Errorf("short vblank event: %d bytes", length)
		}

		userData := binary.NativeEndian.Uint64(rec[8:16])
		sec := binary.NativeEndian.Uint32(rec[16:20])
		usec := binary.NativeEndian.Uint32(rec[20:24])
		crtc := binary.NativeEndian.Uint32(rec[28:32])
		if crtc == 0 {
			// kernels before 4.12 leave crtc_id unset; page flips carry it in
			// user_data
			crtc = uint32(userData)
		}

		ev := types.DrmEvent{Kind: types.DrmEventVBlank, CRTC: types.CRTC(crtc)}
		if sec != 0 || usec != 0 {
			ev.Time = toTime(sec, usec)
		}
		events = append(events, ev)
	}
	return events, nil
}

// monotonicTime maps a CLOCK_MONOTONIC timestamp to wall clock time.
func monotonicTime(sec, usec uint32) time.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now()
	}
	event := time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
	return time.Now().Add(event - time.Duration(ts.Nano()))
}

// readEvents forwards the device's events until done is closed or the fd
// fails.
func (d *Device) readEvents() {
	defer d.wg.Done()
	defer close(d.events)

	buf := make([]byte, 4096)
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-d.done:
			return
		default:
		}

		n, err := unix.Poll(fds, 100)
		if errors.Is(err, unix.EINTR) || n == 0 {
			continue
		}
		if err != nil {
			d.emit(types.DrmEvent{Kind: types.DrmEventError, Err: fmt.Errorf("poll: %w", err)})
			return
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return
		}

		n, err = unix.Read(d.fd, buf)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			d.emit(types.DrmEvent{Kind: types.DrmEventError, Err: fmt.Errorf("read: %w", err)})
			return
		}

		events, err := parseEvents(buf[:n], monotonicTime)
		for _, ev := range events {
			if !d.emit(ev) {
				return
			}
		}
		if err != nil {
			d.emit(types.DrmEvent{Kind: types.DrmEventError, Err: err})
		}
	}
}

func (d *Device) emit(ev types.DrmEvent) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.done:
		return false
	}
}
