package udev

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matjam/kmsd/internal/types"
)

var ErrMalformedUevent = errors.New("malformed uevent")

// Uevent is one kernel object event as broadcast on the uevent netlink
// group: "action@devpath" followed by KEY=VALUE pairs, NUL separated.
type Uevent struct {
	Action  string
	DevPath string
	Env     map[string]string
}

func parseUevent(buf []byte) (Uevent, error) {
	fields := bytes.Split(bytes.TrimRight(buf, "\x00"), []byte{0})
	if len(fields) == 0 {
		return Uevent{}, ErrMalformedUevent
	}
	action, devpath, ok := strings.Cut(string(fields[0]), "@")
	if !ok || action == "" {
		// udevd rebroadcasts carry a binary "libudev" header instead
		return Uevent{}, fmt.Errorf("%w: %q", ErrMalformedUevent, fields[0])
	}

	ev := Uevent{Action: action, DevPath: devpath, Env: make(map[string]string, len(fields)-1)}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		ev.Env[k] = v
	}
	return ev, nil
}

// devID returns the device number carried by a uevent.
func (u Uevent) devID() (types.DevID, error) {
	major, err := strconv.ParseUint(u.Env["MAJOR"], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad MAJOR %q", ErrMalformedUevent, u.Env["MAJOR"])
	}
	minor, err := strconv.ParseUint(u.Env["MINOR"], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad MINOR %q", ErrMalformedUevent, u.Env["MINOR"])
	}
	return types.MakeDevID(uint32(major), uint32(minor)), nil
}

type EventKind int

const (
	Added EventKind = iota
	Changed
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a hot-plug notification for a DRM card node.
type Event struct {
	Kind EventKind
	ID   types.DevID
	Path string
}

// eventFromUevent keeps card nodes of the drm subsystem only.
func eventFromUevent(u Uevent) (Event, bool) {
	if u.Env["SUBSYSTEM"] != "drm" {
		return Event{}, false
	}
	name := u.Env["DEVNAME"]
	if !strings.HasPrefix(name, "dri/card") || strings.Contains(name, "-") {
		// connector objects (card0-DP-1) share the subsystem
		return Event{}, false
	}
	id, err := u.devID()
	if err != nil {
		return Event{}, false
	}

	ev := Event{ID: id, Path: "/dev/" + name}
	switch u.Action {
	case "add":
		ev.Kind = Added
	case "change":
		ev.Kind = Changed
	case "remove":
		ev.Kind = Removed
	default:
		return Event{}, false
	}
	return ev, true
}
