package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/activitylog/internal/guard"
)

// HeaderOperationID carries the operation id on every response.
const HeaderOperationID = "X-Operation-ID"

// operationIDKey is the Echo context key holding the operation id.
const operationIDKey = "operation_id"

// Operation returns middleware that makes each request one logical
// operation. The request context carries the operation's dedup guard, and
// the guard is reset when the handler returns, whatever the outcome.
func Operation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, op := guard.Begin(c.Request().Context())
			defer op.End()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(operationIDKey, op.ID)
			c.Response().Header().Set(HeaderOperationID, op.ID)

			return next(c)
		}
	}
}

// GetOperationID returns the id set by Operation, or "".
func GetOperationID(c echo.Context) string {
	id, _ := c.Get(operationIDKey).(string)
	return id
}
