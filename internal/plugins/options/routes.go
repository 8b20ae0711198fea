package options

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the options routes. auth guards every route and
// may be nil.
func RegisterRoutes(e *echo.Echo, h *Handler, auth echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if auth != nil {
		mw = append(mw, auth)
	}

	g := e.Group("/api/v1/options", mw...)
	g.GET("", h.List)
	g.GET("/:name", h.Show)
	g.PUT("/:name", h.Update)
	g.POST("/import", h.Import)
}
