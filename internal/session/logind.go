package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const (
	login1Dest       = "org.freedesktop.login1"
	login1Path       = "/org/freedesktop/login1"
	login1ManagerIFC = login1Dest + ".Manager"
	login1SessionIFC = login1Dest + ".Session"
	login1SeatIFC    = login1Dest + ".Seat"
	propertiesIFC    = "org.freedesktop.DBus.Properties"
)

var ErrNoVT = errors.New("seat has no virtual terminals")

// Logind is a seat session backed by systemd-logind. Device file descriptors
// are obtained with TakeDevice so the compositor never needs root.
type Logind struct {
	conn        *dbus.Conn
	session     dbus.BusObject
	sessionPath dbus.ObjectPath
	seat        string
	seatPath    dbus.ObjectPath

	signaler *Signaler
	active   atomic.Bool

	mu      sync.Mutex
	devices map[*os.File][2]uint32

	signals chan *dbus.Signal
}

// NewLogind takes control of the calling process' session. Session state
// changes are emitted on signaler.
func NewLogind(signaler *Signaler) (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	l := &Logind{
		conn:     conn,
		signaler: signaler,
		devices:  make(map[*os.File][2]uint32),
		signals:  make(chan *dbus.Signal, 16),
	}
	if err := l.init(); err != nil {
		conn.Close()
		return nil, err
	}

	conn.Signal(l.signals)
	go l.watch()

	return l, nil
}

func (l *Logind) init() error {
	manager := l.conn.Object(login1Dest, login1Path)

	var call *dbus.Call
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		call = manager.Call(login1ManagerIFC+".GetSession", 0, id)
	} else {
		call = manager.Call(login1ManagerIFC+".GetSessionByPID", 0, uint32(os.Getpid()))
	}
	if err := call.Store(&l.sessionPath); err != nil {
		return fmt.Errorf("failed to find login1 session: %w", err)
	}
	l.session = l.conn.Object(login1Dest, l.sessionPath)

	seat, err := l.session.GetProperty(login1SessionIFC + ".Seat")
	if err != nil {
		return fmt.Errorf("failed to read session seat: %w", err)
	}
	if fields, ok := seat.Value().([]interface{}); ok && len(fields) == 2 {
		l.seat, _ = fields[0].(string)
		l.seatPath, _ = fields[1].(dbus.ObjectPath)
	}
	if l.seat == "" {
		return fmt.Errorf("session %s is not attached to a seat", l.sessionPath)
	}

	if err := l.session.Call(login1SessionIFC+".TakeControl", 0, false).Err; err != nil {
		return fmt.Errorf("failed to take control of session %s: %w", l.sessionPath, err)
	}

	active, err := l.session.GetProperty(login1SessionIFC + ".Active")
	if err != nil {
		return fmt.Errorf("failed to read session state: %w", err)
	}
	b, _ := active.Value().(bool)
	l.active.Store(b)

	err = l.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(l.sessionPath),
		dbus.WithMatchInterface(propertiesIFC),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	if err != nil {
		return fmt.Errorf("failed to watch session properties: %w", err)
	}
	err = l.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(l.sessionPath),
		dbus.WithMatchInterface(login1SessionIFC),
	)
	if err != nil {
		return fmt.Errorf("failed to watch session devices: %w", err)
	}

	log.Infof("Using login1 session %s on %s", l.sessionPath, l.seat)
	return nil
}

func (l *Logind) Seat() string {
	return l.seat
}

func (l *Logind) IsActive() bool {
	return l.active.Load()
}

// Open returns a file descriptor for the device node at path. logind always
// opens devices read/write and close-on-exec; O_NONBLOCK is applied on top.
func (l *Logind) Open(path string, flags int) (*os.File, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	major := unix.Major(uint64(st.Rdev))
	minor := unix.Minor(uint64(st.Rdev))

	var (
		fd       dbus.UnixFD
		inactive bool
	)
	err := l.session.Call(login1SessionIFC+".TakeDevice", 0, major, minor).Store(&fd, &inactive)
	if err != nil {
		return nil, fmt.Errorf("TakeDevice %s: %w", path, err)
	}
	if flags&unix.O_NONBLOCK != 0 {
		if err := unix.SetNonblock(int(fd), true); err != nil {
			unix.Close(int(fd))
			return nil, fmt.Errorf("set nonblocking on %s: %w", path, err)
		}
	}

	f := os.NewFile(uintptr(fd), path)
	l.mu.Lock()
	l.devices[f] = [2]uint32{major, minor}
	l.mu.Unlock()

	if inactive {
		log.Debugf("Device %s opened while session inactive", path)
	}
	return f, nil
}

// Close releases a device obtained with Open.
func (l *Logind) Close(f *os.File) error {
	l.mu.Lock()
	dev, ok := l.devices[f]
	delete(l.devices, f)
	l.mu.Unlock()

	err := f.Close()
	if !ok {
		return err
	}
	if callErr := l.session.Call(login1SessionIFC+".ReleaseDevice", 0, dev[0], dev[1]).Err; callErr != nil {
		return fmt.Errorf("ReleaseDevice %d:%d: %w", dev[0], dev[1], callErr)
	}
	return err
}

func (l *Logind) ChangeVT(vt int) error {
	if l.seatPath == "" {
		return fmt.Errorf("%w: %s", ErrNoVT, l.seat)
	}
	seat := l.conn.Object(login1Dest, l.seatPath)
	if err := seat.Call(login1SeatIFC+".SwitchTo", 0, uint32(vt)).Err; err != nil {
		return fmt.Errorf("failed to switch to vt %d: %w", vt, err)
	}
	return nil
}

// Shutdown gives control of the session back to logind.
func (l *Logind) Shutdown() error {
	l.conn.RemoveSignal(l.signals)
	if err := l.session.Call(login1SessionIFC+".ReleaseControl", 0).Err; err != nil {
		log.Warnf("Failed to release session control: %v", err)
	}
	return l.conn.Close()
}

func (l *Logind) watch() {
	for sig := range l.signals {
		if sig.Path != l.sessionPath {
			continue
		}
		switch sig.Name {
		case propertiesIFC + ".PropertiesChanged":
			if len(sig.Body) < 2 {
				continue
			}
			if iface, _ := sig.Body[0].(string); iface != login1SessionIFC {
				continue
			}
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			if v, ok := changed["Active"]; ok {
				active, _ := v.Value().(bool)
				l.setActive(active)
			}
		case login1SessionIFC + ".PauseDevice":
			if len(sig.Body) < 3 {
				continue
			}
			major, _ := sig.Body[0].(uint32)
			minor, _ := sig.Body[1].(uint32)
			typ, _ := sig.Body[2].(string)
			log.Debugf("logind paused device %d:%d (%s)", major, minor, typ)
			if typ == "pause" {
				if err := l.session.Call(login1SessionIFC+".PauseDeviceComplete", 0, major, minor).Err; err != nil {
					log.Warnf("Failed to acknowledge pause of %d:%d: %v", major, minor, err)
				}
			}
		case login1SessionIFC + ".ResumeDevice":
			log.Debugf("logind resumed device %v", sig.Body)
		}
	}
}

func (l *Logind) setActive(active bool) {
	if l.active.Swap(active) == active {
		return
	}
	if active {
		log.Info("Session activated")
		l.signaler.Emit(ActivateSession)
	} else {
		log.Info("Session paused")
		l.signaler.Emit(PauseSession)
	}
}
