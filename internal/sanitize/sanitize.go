// Package sanitize strips markup from connector-supplied text. Connectors
// pass through whatever the host stored (post titles, comment excerpts,
// option values), so anything that ends up in a rendered summary goes
// through bluemonday first.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// strict is the singleton policy that removes every element and attribute.
// Initialized once via sync.Once for thread-safe lazy initialization.
var (
	strict     *bluemonday.Policy
	strictOnce sync.Once
)

func getStrict() *bluemonday.Policy {
	strictOnce.Do(func() {
		strict = bluemonday.StrictPolicy()
	})
	return strict
}

// Text returns input with all HTML removed and entities decoded, so the
// result is plain text. Renderers must still escape it for their output
// format.
func Text(input string) string {
	if input == "" || !strings.ContainsAny(input, "<&") {
		return input
	}
	return html.UnescapeString(getStrict().Sanitize(input))
}
