package options

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/activitylog/internal/apperror"
)

// maxImportSize caps the number of options in one import.
const maxImportSize = 200

// Handler handles HTTP requests for site options.
type Handler struct {
	service OptionsService
}

// NewHandler creates a new options handler.
func NewHandler(service OptionsService) *Handler {
	return &Handler{service: service}
}

// List returns every registered option with its value and spec.
// GET /api/v1/options
func (h *Handler) List(c echo.Context) error {
	opts, err := h.service.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data":  opts,
		"specs": h.service.Specs(),
	})
}

// Show returns one option.
// GET /api/v1/options/:name
func (h *Handler) Show(c echo.Context) error {
	opt, err := h.service.Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, opt)
}

// Update writes one option. The response lists the records the change
// produced; an unchanged value produces none.
// PUT /api/v1/options/:name
func (h *Handler) Update(c echo.Context) error {
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	in.Name = c.Param("name")

	result, err := h.service.Update(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Import writes several options and logs them as one record.
// POST /api/v1/options/import
func (h *Handler) Import(c echo.Context) error {
	var in ImportInput
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(in.Options) > maxImportSize {
		return apperror.NewBadRequest("too many options in one import")
	}

	result, err := h.service.Import(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
