package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"

	"github.com/matjam/kmsd/internal/middleware"
)

// SocketPath is the control socket, the "socket" setting or kmsd.sock in
// XDG_RUNTIME_DIR.
func SocketPath() string {
	if p := viper.GetString("socket"); p != "" {
		return p
	}
	sockDir := os.Getenv("XDG_RUNTIME_DIR")
	if sockDir == "" {
		sockDir = os.TempDir()
	}
	return filepath.Join(sockDir, "kmsd.sock")
}

type Server struct {
	echo *echo.Echo
	path string
}

// Start serves the control API on a unix socket at path, replacing a stale
// socket file.
func Start(ctrl Controller, path string) (*Server, error) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = listener

	e.Use(middleware.CharmLog())

	RegisterRoutes(e, ctrl)

	go func() {
		server := new(http.Server)
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Socket server error: %v", err)
		}
	}()

	return &Server{echo: e, path: path}, nil
}

// Shutdown stops serving and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	os.Remove(s.path)
	return err
}
