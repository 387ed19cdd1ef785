package udev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// kernel uevent multicast group
const kernelGroup = 1

// Monitor listens for DRM hot-plug events on the kernel uevent socket.
type Monitor struct {
	fd     int
	lister *Lister

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewMonitor opens the uevent socket. Events for cards not assigned to the
// lister's seat are dropped.
func NewMonitor(lister *Lister) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to open uevent socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind uevent socket: %w", err)
	}

	m := &Monitor{
		fd:     fd,
		lister: lister,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m, nil
}

// Events is closed when the monitor is closed.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

func (m *Monitor) Close() error {
	m.once.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	return unix.Close(m.fd)
}

func (m *Monitor) run() {
	defer m.wg.Done()
	defer close(m.events)

	buf := make([]byte, 8192)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-m.done:
			return
		default:
		}

		n, err := unix.Poll(fds, 100)
		if errors.Is(err, unix.EINTR) || n == 0 {
			continue
		}
		if err != nil {
			log.Errorf("Polling uevent socket: %v", err)
			return
		}

		n, _, err = unix.Recvfrom(m.fd, buf, 0)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			log.Errorf("Reading uevent socket: %v", err)
			return
		}

		u, err := parseUevent(buf[:n])
		if err != nil {
			log.Debugf("Skipping uevent: %v", err)
			continue
		}
		ev, ok := eventFromUevent(u)
		if !ok {
			continue
		}
		if ev.Kind != Removed && !m.lister.onSeat(ev.ID) {
			continue
		}
		log.Debugf("drm device %s %s (%s)", ev.Path, ev.Kind, ev.ID)

		select {
		case m.events <- ev:
		case <-m.done:
			return
		}
	}
}
