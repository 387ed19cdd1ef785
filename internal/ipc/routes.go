package ipc

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, ctrl Controller) {
	e.GET("/status", statusHandler(ctrl))
	e.GET("/outputs", outputsHandler(ctrl))
	e.POST("/render", renderHandler(ctrl))
	e.POST("/outputs/:name/render", renderHandler(ctrl))
	e.GET("/outputs/:name/capture", captureHandler(ctrl))
	e.POST("/vt/:n", vtHandler(ctrl))
	e.POST("/windows", mapWindowHandler(ctrl))
	e.DELETE("/windows/:id", unmapWindowHandler(ctrl))
	e.POST("/wallpaper", loadHandler(ctrl))
	e.POST("/wallpaper/next", nextHandler(ctrl))
	e.POST("/stop", stopHandler(ctrl))
}
