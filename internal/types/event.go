package types

import "time"

type DrmEventKind int

const (
	DrmEventVBlank DrmEventKind = iota
	DrmEventError
)

// DrmEvent is one entry of a device's completion stream. Time is zero when
// the kernel did not report a timestamp.
type DrmEvent struct {
	Kind DrmEventKind
	CRTC CRTC
	Time time.Time
	Err  error
}

// Dmabuf is a client-submitted buffer shared across processes and GPUs.
type Dmabuf struct {
	ID     uint64
	Width  int
	Height int
	Format Format
	Node   *Node
}
