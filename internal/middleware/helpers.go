package middleware

import (
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/activitylog/internal/templates/layouts"
)

// Render writes a Templ component to the response with the given status
// code. Layout data known to the middleware stack (operation id, key name,
// path) is copied into the render context for the page shell.
func Render(c echo.Context, statusCode int, component templ.Component) error {
	ctx := layouts.SetActivePath(c.Request().Context(), c.Request().URL.Path)
	if id := GetOperationID(c); id != "" {
		ctx = layouts.SetOperationID(ctx, id)
	}
	if name := GetAPIKeyName(c); name != "" {
		ctx = layouts.SetAPIKeyName(ctx, name)
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(statusCode)
	return component.Render(ctx, c.Response().Writer)
}

// WantsHTML reports whether the client prefers an HTML response, as a
// browser navigating to a page does.
func WantsHTML(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}
