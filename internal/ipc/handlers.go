package ipc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/session"
	"github.com/matjam/kmsd/internal/wallpaper"
)

var ErrUnknownOutput = errors.New("unknown output")

func reply(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, Response{Status: "ok", Data: data})
}

func fail(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownOutput), errors.Is(err, kms.ErrUnknownOutput),
		errors.Is(err, ErrUnknownWindow), errors.Is(err, ErrNoFrame),
		errors.Is(err, wallpaper.ErrNoWallpapers):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrNoVT):
		code = http.StatusConflict
	case errors.Is(err, ErrTimeout):
		code = http.StatusGatewayTimeout
	}
	return c.JSON(code, Response{Status: "error", Message: err.Error()})
}

// GET /status
func statusHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := ctrl.Status()
		if err != nil {
			return fail(c, err)
		}
		return c.JSONPretty(http.StatusOK, st, "  ")
	}
}

// GET /outputs
func outputsHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		outputs, err := ctrl.Outputs()
		if err != nil {
			return fail(c, err)
		}
		return reply(c, outputs)
	}
}

// POST /render and POST /outputs/:name/render
func renderHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		scheduled, err := ctrl.Render(c.Param("name"))
		if err != nil {
			return fail(c, err)
		}
		return reply(c, scheduled)
	}
}

// GET /outputs/:name/capture
func captureHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		capture, err := ctrl.Capture(c.Param("name"))
		if err != nil {
			return fail(c, err)
		}
		return reply(c, capture)
	}
}

// POST /vt/:n
func vtHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		vt, err := strconv.Atoi(c.Param("n"))
		if err != nil || vt < 1 {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "invalid vt number"})
		}
		if err := ctrl.SwitchVT(vt); err != nil {
			return fail(c, err)
		}
		return reply(c, nil)
	}
}

// POST /windows
func mapWindowHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req WindowRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "invalid window request"})
		}
		if req.Output == "" || req.Width <= 0 || req.Height <= 0 {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "output and a positive size are required"})
		}
		id, err := ctrl.MapWindow(req)
		if err != nil {
			return fail(c, err)
		}
		return reply(c, map[string]uint64{"id": id})
	}
}

// DELETE /windows/:id
func unmapWindowHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "invalid window id"})
		}
		if err := ctrl.UnmapWindow(id); err != nil {
			return fail(c, err)
		}
		return reply(c, nil)
	}
}

// POST /wallpaper/next
func nextHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		path, err := ctrl.NextWallpaper()
		if err != nil {
			return fail(c, err)
		}
		return reply(c, WallpaperResponse{Wallpaper: path})
	}
}

// POST /wallpaper
func loadHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req LoadRequest
		if err := c.Bind(&req); err != nil || len(req.Paths) == 0 {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "at least one wallpaper path is required"})
		}
		path, err := ctrl.LoadWallpapers(req)
		if err != nil {
			return fail(c, err)
		}
		return reply(c, WallpaperResponse{Wallpaper: path})
	}
}

// POST /stop
func stopHandler(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctrl.Stop()
		return reply(c, nil)
	}
}
