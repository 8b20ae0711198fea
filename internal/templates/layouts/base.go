package layouts

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
)

// Page wraps body in the HTML document shell: head, navigation and a
// footer carrying the operation id for support requests.
func Page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		e := templ.EscapeString[string]

		if _, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title></head><body>`,
			e(title)); err != nil {
			return err
		}

		if _, err := io.WriteString(w, `<header><nav>`); err != nil {
			return err
		}
		for _, link := range Nav {
			attr := ""
			if IsActive(ctx, link.Path) {
				attr = ` aria-current="page"`
			}
			if _, err := fmt.Fprintf(w, `<a href="%s"%s>%s</a>`, e(link.Path), attr, e(link.Label)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</nav></header><main>`); err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		if _, err := io.WriteString(w, `</main><footer>`); err != nil {
			return err
		}
		if name := GetAPIKeyName(ctx); name != "" {
			if _, err := fmt.Fprintf(w, `<span class="key">Signed in with key %s</span> `, e(name)); err != nil {
				return err
			}
		}
		if id := GetOperationID(ctx); id != "" {
			if _, err := fmt.Fprintf(w, `<span class="operation">Operation %s</span>`, e(id)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</footer></body></html>`)
		return err
	})
}

// ErrorPage renders a status page for browser requests.
func ErrorPage(code int, message string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<h1>%d %s</h1><p>%s</p><p><a href="/activity">Back to the activity log</a></p>`,
			code, templ.EscapeString(http.StatusText(code)), templ.EscapeString(message))
		return err
	})
	return Page(http.StatusText(code), body)
}
