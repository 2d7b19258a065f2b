package detail

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wardwatch/wardwatch/internal/domain/records"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id", h.GetPatient)
}

// GetPatient serves the per-patient drill-down document from the latest
// snapshot.
func (h *Handler) GetPatient(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	payload, err := h.svc.Document(c.Request().Context(), time.Now().UTC(), id)
	if err != nil {
		switch {
		case errors.Is(err, records.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		case errors.Is(err, records.ErrSourceUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "patient detail unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, payload)
}
