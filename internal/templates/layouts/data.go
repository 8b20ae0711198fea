// data.go provides typed context helpers for passing layout data from
// middleware to page components. Only simple types are stored so the
// layouts package never imports a plugin.
//
// Data flow: Middleware → Echo Context → middleware.Render → Go Context → Page
package layouts

import "context"

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey string

const (
	keyOperationID ctxKey = "layout_operation_id"
	keyActivePath  ctxKey = "layout_active_path"
	keyAPIKeyName  ctxKey = "layout_api_key_name"
)

// NavLink is one entry of the page header navigation.
type NavLink struct {
	Label string
	Path  string
}

// Nav is the fixed header navigation.
var Nav = []NavLink{
	{Label: "Activity", Path: "/activity"},
	{Label: "Records API", Path: "/api/v1/records"},
	{Label: "Options API", Path: "/api/v1/options"},
}

// --- Setters (called by middleware.Render) ---

// SetOperationID stores the id of the operation rendering the page.
func SetOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyOperationID, id)
}

// SetActivePath stores the request path for navigation highlighting.
func SetActivePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, keyActivePath, path)
}

// SetAPIKeyName stores the name of the key that authenticated the request.
func SetAPIKeyName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyAPIKeyName, name)
}

// --- Getters (called by page components) ---

// GetOperationID returns the operation id, or "".
func GetOperationID(ctx context.Context) string {
	v, _ := ctx.Value(keyOperationID).(string)
	return v
}

// GetActivePath returns the request path, or "".
func GetActivePath(ctx context.Context) string {
	v, _ := ctx.Value(keyActivePath).(string)
	return v
}

// GetAPIKeyName returns the authenticating key name, or "".
func GetAPIKeyName(ctx context.Context) string {
	v, _ := ctx.Value(keyAPIKeyName).(string)
	return v
}

// IsActive reports whether path is the page being rendered.
func IsActive(ctx context.Context, path string) bool {
	return GetActivePath(ctx) == path
}
