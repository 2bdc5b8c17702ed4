package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger checks one backing service.
type Pinger func(ctx context.Context) error

// Health reports readiness of the stores the auth flows depend on.
type Health struct {
	Checks map[string]Pinger
}

func NewHealth(checks map[string]Pinger) *Health { return &Health{Checks: checks} }

// Check returns 200 {"status":"ok"} when every dependency answers, and 503
// naming the failing ones otherwise.
func (h *Health) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	var failing []string
	for name, ping := range h.Checks {
		if err := ping(ctx); err != nil {
			c.Logger().Warnf("health: %s: %v", name, err)
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "failing": failing})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
