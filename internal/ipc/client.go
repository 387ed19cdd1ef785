package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/matjam/kmsd/internal/kms"
)

var ErrNotRunning = errors.New("kmsd is not running")

type Client struct {
	client *resty.Client
	path   string
}

// NewClient talks to the daemon listening on the unix socket at path.
func NewClient(path string) *Client {
	client := resty.NewWithClient(&http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
		Timeout: 10 * time.Second,
	})

	client.SetBaseURL("http://kmsd")
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", "kmsd")

	return &Client{client: client, path: path}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// do sends a request and decodes the data field of the reply into out.
func (c *Client) do(method, url string, body, out any) error {
	result := Response{Data: out}
	req := c.client.R().SetResult(&result).SetError(&result)
	if body != nil {
		req.SetBody(body)
	}

	response, err := req.Execute(method, url)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w (%s)", ErrNotRunning, c.path)
		}
		return err
	}
	if response.IsError() {
		if result.Message != "" {
			return fmt.Errorf("%s: %s", response.Status(), result.Message)
		}
		return fmt.Errorf("error sending request: %s", response.Status())
	}
	return nil
}

func (c *Client) Status() (*StatusResponse, error) {
	var st StatusResponse
	response, err := c.client.R().SetResult(&st).Get("/status")
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, fmt.Errorf("%w (%s)", ErrNotRunning, c.path)
		}
		return nil, err
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("error getting status: %s", response.Status())
	}
	return &st, nil
}

func (c *Client) Outputs() ([]kms.OutputStatus, error) {
	var outputs []kms.OutputStatus
	if err := c.do(http.MethodGet, "/outputs", nil, &outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

// Render schedules a frame on the named output, or all outputs when name is
// empty, and returns the outputs that were scheduled.
func (c *Client) Render(name string) ([]string, error) {
	url := "/render"
	if name != "" {
		url = "/outputs/" + name + "/render"
	}
	var scheduled []string
	if err := c.do(http.MethodPost, url, nil, &scheduled); err != nil {
		return nil, err
	}
	return scheduled, nil
}

func (c *Client) Capture(name string) (*CaptureResponse, error) {
	var capture CaptureResponse
	if err := c.do(http.MethodGet, "/outputs/"+name+"/capture", nil, &capture); err != nil {
		return nil, err
	}
	return &capture, nil
}

func (c *Client) SwitchVT(vt int) error {
	return c.do(http.MethodPost, "/vt/"+strconv.Itoa(vt), nil, nil)
}

func (c *Client) MapWindow(req WindowRequest) (uint64, error) {
	var reply struct {
		ID uint64 `json:"id"`
	}
	if err := c.do(http.MethodPost, "/windows", req, &reply); err != nil {
		return 0, err
	}
	return reply.ID, nil
}

func (c *Client) UnmapWindow(id uint64) error {
	return c.do(http.MethodDelete, "/windows/"+strconv.FormatUint(id, 10), nil, nil)
}

// NextWallpaper switches to the next wallpaper and returns its path.
func (c *Client) NextWallpaper() (string, error) {
	var reply WallpaperResponse
	if err := c.do(http.MethodPost, "/wallpaper/next", nil, &reply); err != nil {
		return "", err
	}
	return reply.Wallpaper, nil
}

// LoadWallpapers replaces the daemon's wallpaper list and returns the
// wallpaper now shown.
func (c *Client) LoadWallpapers(paths []string, shuffle bool) (string, error) {
	var reply WallpaperResponse
	if err := c.do(http.MethodPost, "/wallpaper", LoadRequest{Paths: paths, Shuffle: shuffle}, &reply); err != nil {
		return "", err
	}
	return reply.Wallpaper, nil
}

func (c *Client) Stop() error {
	return c.do(http.MethodPost, "/stop", nil, nil)
}
