package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/GNGRRNNR/tiger-claw-timing/roster"
	"github.com/GNGRRNNR/tiger-claw-timing/station"
	"github.com/GNGRRNNR/tiger-claw-timing/store"
)

type statsResponse struct {
	roster.Counters
	Local store.Stats `json:"local"`
}

// Stats returns the cached remote counters and local queue totals.
func (h *Handler) Stats(c echo.Context) error {
	local, err := h.session.Store.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, statsResponse{h.session.Roster.Counters(), local})
}

// Refresh reloads the roster and scan count from the results store.
func (h *Handler) Refresh(c echo.Context) error {
	if err := h.session.RefreshStats(c.Request().Context()); err != nil {
		return stationError(err)
	}
	return c.JSON(http.StatusOK, h.session.Roster.Counters())
}

// Sync sends every pending scan now instead of waiting for the next tick.
func (h *Handler) Sync(c echo.Context) error {
	res, err := h.session.SyncNow(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return stationError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Status returns everything the station screen shows.
func (h *Handler) Status(c echo.Context) error {
	st, err := h.session.Status(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func stationError(err error) error {
	switch {
	case errors.Is(err, station.ErrOffline):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, station.ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
