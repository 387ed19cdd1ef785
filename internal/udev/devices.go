package udev

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/matjam/kmsd/internal/types"
)

const defaultSeat = "seat0"

// Lister enumerates the DRM card nodes assigned to a seat.
type Lister struct {
	Seat string

	DevDir  string // /dev/dri
	SysDir  string // /sys
	UdevDir string // /run/udev/data

	// stat returns the device number of a node
	stat func(path string) (types.DevID, error)
}

func NewLister(seat string) *Lister {
	if seat == "" {
		seat = defaultSeat
	}
	return &Lister{
		Seat:    seat,
		DevDir:  "/dev/dri",
		SysDir:  "/sys",
		UdevDir: "/run/udev/data",
		stat:    statDevID,
	}
}

func statDevID(path string) (types.DevID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return 0, fmt.Errorf("%w: %s", types.ErrNotDRMNode, path)
	}
	return types.DevID(st.Rdev), nil
}

// DeviceList returns every card node of the seat, ordered by minor number.
func (l *Lister) DeviceList() ([]types.DeviceEntry, error) {
	paths, err := filepath.Glob(filepath.Join(l.DevDir, "card*"))
	if err != nil {
		return nil, err
	}

	var entries []types.DeviceEntry
	for _, path := range paths {
		if strings.Contains(filepath.Base(path), "-") {
			continue
		}
		id, err := l.stat(path)
		if err != nil {
			log.Debugf("Skipping %s: %v", path, err)
			continue
		}
		if id.Major() != types.DRMMajor || !l.onSeat(id) {
			continue
		}
		entries = append(entries, types.DeviceEntry{ID: id, Path: path})
	}
	slices.SortFunc(entries, func(a, b types.DeviceEntry) int {
		return int(a.ID.Minor()) - int(b.ID.Minor())
	})
	return entries, nil
}

// PrimaryGPU returns the card the firmware used for the boot console.
func (l *Lister) PrimaryGPU() (types.DeviceEntry, bool) {
	entries, err := l.DeviceList()
	if err != nil {
		return types.DeviceEntry{}, false
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(l.SysDir, "dev/char", e.ID.String(), "device/boot_vga"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == "1" {
			return e, true
		}
	}
	return types.DeviceEntry{}, false
}

// onSeat reports whether udev assigned the device to the lister's seat.
// Devices without an ID_SEAT tag belong to seat0.
func (l *Lister) onSeat(id types.DevID) bool {
	return l.seatOf(id) == l.Seat
}

func (l *Lister) seatOf(id types.DevID) string {
	f, err := os.Open(filepath.Join(l.UdevDir, "c"+id.String()))
	if err != nil {
		return defaultSeat
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if seat, ok := strings.CutPrefix(sc.Text(), "E:ID_SEAT="); ok && seat != "" {
			return seat
		}
	}
	return defaultSeat
}
