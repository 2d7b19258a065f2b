package monitoring

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wardwatch/wardwatch/internal/domain/records"
	"github.com/wardwatch/wardwatch/pkg/pagination"
)

type Handler struct {
	svc              *Service
	defaultThreshold int
}

func NewHandler(svc *Service, defaultThreshold int) *Handler {
	return &Handler{svc: svc, defaultThreshold: defaultThreshold}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/monitoring", h.GetMonitoring)
}

// GetMonitoring serves the ranked monitoring list from the latest snapshot,
// optionally filtered by department and paginated.
func (h *Handler) GetMonitoring(c echo.Context) error {
	threshold := h.defaultThreshold
	if raw := c.QueryParam("hours_threshold"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hours_threshold")
		}
		threshold = v
	}

	pg := pagination.FromContext(c)
	department := c.QueryParam("department")

	entries, total, err := h.svc.Entries(c.Request().Context(), time.Now().UTC(), threshold, department, pg)
	if err != nil {
		if errors.Is(err, records.ErrSourceUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "monitoring snapshot unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg))
}
