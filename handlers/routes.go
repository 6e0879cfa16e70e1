package handlers

import (
	"github.com/labstack/echo/v4"

	mw "github.com/GNGRRNNR/tiger-claw-timing/middleware"
)

// Register mounts the console API on e.
func (h *Handler) Register(e *echo.Echo) {
	// Public
	e.POST("/api/signin", h.Signin)

	// Protected: require valid JWT in Authorization header
	api := e.Group("/api", mw.JWT(h.JWTKey))
	api.POST("/scans", h.Scan)
	api.POST("/scans/manual", h.ManualScan)
	api.GET("/scans/recent", h.RecentScans)
	api.GET("/scans/:id", h.GetScan)
	api.GET("/stats", h.Stats)
	api.POST("/refresh", h.Refresh)
	api.POST("/sync", h.Sync)
	api.GET("/status", h.Status)
}
