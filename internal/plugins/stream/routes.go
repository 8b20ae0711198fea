package stream

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the activity log routes. auth guards every route;
// limit applies to ingestion only. Either may be nil.
func RegisterRoutes(e *echo.Echo, h *Handler, auth, limit echo.MiddlewareFunc) {
	var readMW, writeMW []echo.MiddlewareFunc
	if auth != nil {
		readMW = append(readMW, auth)
		writeMW = append(writeMW, auth)
	}
	if limit != nil {
		writeMW = append(writeMW, limit)
	}

	v1 := e.Group("/api/v1")

	// Ingestion -- rate limited.
	v1.POST("/records", h.Ingest, writeMW...)
	v1.POST("/records/batch", h.IngestBatch, writeMW...)
	v1.POST("/records/changes", h.IngestChanges, writeMW...)

	// Read-only query surface.
	v1.GET("/records", h.List, readMW...)
	v1.GET("/records/:id", h.Show, readMW...)

	// Diff utility, no side effects.
	v1.POST("/diff", h.Diff, readMW...)

	e.GET("/activity", h.Activity, readMW...)
}

// RegisterLiveRoute exposes hub as a websocket feed. auth may be nil.
func RegisterLiveRoute(e *echo.Echo, hub *LiveHub, auth echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if auth != nil {
		mw = append(mw, auth)
	}
	e.GET("/api/v1/records/live", hub.Serve, mw...)
}
