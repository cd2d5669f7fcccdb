// Package history exposes the merge audit trail over HTTP.
package history

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/scenescout/meld/internal/repositories/mergehistory"
	"github.com/scenescout/meld/pkg/models"
)

// Register registers merge history routes
func Register(g *echo.Group) {
	g.GET("/events/:id", GetEventHistory)
	g.GET("/analytics", GetAnalytics)
	g.GET("/audit", GetAuditReport)
}

// GetEventHistory returns every merge the event participated in.
func GetEventHistory(c echo.Context) error {
	ctx := c.Request().Context()

	eventID := c.Param("id")
	if eventID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "event id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*mergehistory.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge history unavailable")
	}

	entries, err := repo.GetEventHistory(ctx, eventID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

// GetAnalytics aggregates merge history, optionally filtered by time range
// and strategy.
func GetAnalytics(c echo.Context) error {
	ctx := c.Request().Context()

	filter := models.AnalyticsFilter{Strategy: c.QueryParam("strategy")}
	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "from must be RFC3339")
		}
		filter.From = &t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "to must be RFC3339")
		}
		filter.To = &t
	}

	ctx, repo, err := ectoinject.GetContext[*mergehistory.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge history unavailable")
	}

	analytics, err := repo.GetAnalytics(ctx, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, analytics)
}

// GetAuditReport returns analytics plus flagged anomalies.
func GetAuditReport(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*mergehistory.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge history unavailable")
	}

	report, err := repo.GenerateAuditReport(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
