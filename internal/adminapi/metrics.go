package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/bjo163/sokomarket/pkg/metrics"
	"github.com/labstack/echo/v4"
)

func registerMetricsRoutes() {
	webserver.AdminGET("/system/metrics/:name", QueryMetric)
}

// QueryMetric returns the samples of one metric, the last hour by default
// @Summary metric samples
// @Tags System
// @Param name path string true "Metric name, e.g. system_cpuuse or events_order.placed"
// @Param from query string false "Start time"
// @Param to query string false "End time"
// @Success 200 {object} Response
// @Router /api/v1/system/metrics/{name} [get]
func QueryMetric(c echo.Context) error {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		return fail(c, http.StatusBadRequest, "INVALID_NAME", "Metric name is required", nil)
	}
	from, to, err := parseRange(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_DATE", "Unable to parse from/to", err.Error())
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-time.Hour)
	}
	points, err := metrics.Select(name, from, to)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "METRICS_ERROR", "Failed to query metric", err.Error())
	}
	return ok(c, map[string]interface{}{
		"name":   name,
		"from":   from,
		"to":     to,
		"points": points,
	})
}
