package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/ingest"
)

type scanInput struct {
	Raw string `json:"raw"`
}

type manualInput struct {
	Bib string `json:"bib"`
}

// Scan records decoded text from a camera or handheld reader.
func (h *Handler) Scan(c echo.Context) error {
	var in scanInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.outcome(c, h.session.Ingest.Scan(c.Request().Context(), in.Raw))
}

// ManualScan records a bib typed by the operator.
func (h *Handler) ManualScan(c echo.Context) error {
	var in manualInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.outcome(c, h.session.Ingest.Manual(c.Request().Context(), in.Bib))
}

// RecentScans returns the newest local records, delivered or not.
func (h *Handler) RecentScans(c echo.Context) error {
	limit := h.session.Config().RecentLimit
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	scans, err := h.session.Store.Recent(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, scans)
}

// GetScan returns one local record, so the console can follow a scan from
// pending to delivered.
func (h *Handler) GetScan(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "id must be a positive integer")
	}

	scan, err := h.session.Store.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "scan not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, scan)
}

func (h *Handler) outcome(c echo.Context, out ingest.Outcome) error {
	if out.Err != nil {
		var verr *ingest.ValidationError
		if errors.As(out.Err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, out.Message)
		}
		zap.L().Error("scan not saved", zap.Error(out.Err))
		return echo.NewHTTPError(http.StatusInternalServerError, out.Message)
	}
	if out.Status == ingest.StatusThrottled {
		return c.JSON(http.StatusTooManyRequests, out)
	}
	return c.JSON(http.StatusCreated, out)
}
