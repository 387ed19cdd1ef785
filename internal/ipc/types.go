package ipc

import (
	"time"

	"github.com/matjam/kmsd/internal/kms"
)

// Controller carries out control requests. Implementations run them on the
// backend's loop.
type Controller interface {
	Status() (StatusResponse, error)
	Outputs() ([]kms.OutputStatus, error)
	Render(name string) ([]string, error)
	Capture(name string) (CaptureResponse, error)
	SwitchVT(vt int) error
	MapWindow(req WindowRequest) (uint64, error)
	UnmapWindow(id uint64) error
	NextWallpaper() (string, error)
	LoadWallpapers(req LoadRequest) (string, error)
	Stop()
}

type StatusResponse struct {
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	Version    string         `json:"version"`
	PID        int            `json:"pid"`
	Socket     string         `json:"socket"`
	Config     string         `json:"config"`
	Seat       string         `json:"seat"`
	Active     bool           `json:"session_active"`
	PrimaryGPU string         `json:"primary_gpu"`
	Wallpaper  string         `json:"current_wallpaper,omitempty"`
	Devices    []DeviceStatus `json:"devices"`
}

type DeviceStatus struct {
	Path       string `json:"path"`
	RenderNode string `json:"render_node"`
	Atomic     bool   `json:"atomic"`
	Outputs    int    `json:"outputs"`
}

// CaptureResponse describes the last frame rendered for an output.
type CaptureResponse struct {
	Output string    `json:"output"`
	Node   string    `json:"node"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Format string    `json:"format"`
	Time   time.Time `json:"time"`
}

// WindowRequest maps a placeholder window, standing in for a client surface.
// Node is the path of the render node the client allocates on. With Buffer
// set a client buffer is attached and imported.
type WindowRequest struct {
	Output     string `json:"output"`
	Title      string `json:"title"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Color      string `json:"color"`
	Fullscreen bool   `json:"fullscreen"`
	Node       string `json:"node,omitempty"`
	Buffer     bool   `json:"buffer"`
}

// LoadRequest replaces the wallpaper list. Directories expand to the images
// they contain.
type LoadRequest struct {
	Paths   []string `json:"paths"`
	Shuffle bool     `json:"shuffle"`
}

type WallpaperResponse struct {
	Wallpaper string `json:"wallpaper"`
}

type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
