// Package sources manages data source trust registration.
package sources

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/scenescout/meld/pkg/dedup"
	"github.com/scenescout/meld/pkg/models"
)

var validate = validator.New()

// Register registers data source routes
func Register(g *echo.Group) {
	g.GET("", ListDataSources)
	g.POST("", RegisterDataSource)
}

// ListDataSources returns all registered data sources.
func ListDataSources(c echo.Context) error {
	ctx := c.Request().Context()

	_, system, err := ectoinject.GetContext[*dedup.System](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "dedup system unavailable")
	}
	return c.JSON(http.StatusOK, system.Sources())
}

// RegisterDataSource registers or replaces a data source's trust scores.
func RegisterDataSource(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.RegisterDataSourceRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	_, system, err := ectoinject.GetContext[*dedup.System](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "dedup system unavailable")
	}

	source := models.DataSource{
		Name:        req.Name,
		Reliability: req.Reliability,
		DataQuality: req.DataQuality,
	}
	system.RegisterDataSource(source)

	return c.JSON(http.StatusCreated, source)
}
