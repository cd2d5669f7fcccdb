// Package middleware provides HTTP middleware for the dedup API.
package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/scenescout/meld/internal/appcontext"
)

// Identity extracts caller identity from headers.
// Headers:
//   - X-Tenant-ID: The tenant ID
//   - X-Actor-ID: The reviewer or process executing the request
//
// Manual merge executions are attributed to the actor id in the audit trail.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if tenantID := c.Request().Header.Get("X-Tenant-ID"); tenantID != "" {
				ctx = appcontext.WithTenantID(ctx, tenantID)
			}
			if actorID := c.Request().Header.Get("X-Actor-ID"); actorID != "" {
				ctx = appcontext.WithActorID(ctx, actorID)
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
