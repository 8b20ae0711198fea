package stream

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/activitylog/internal/record"
	"github.com/keyxmakerx/activitylog/internal/templates/layouts"
)

// ActivityPage renders one page of the activity log inside the site
// layout. Every dynamic value goes through templ.EscapeString; record
// summaries are already reduced to plain text.
func ActivityPage(f Filter, recs []record.Record, total, page, perPage int) templ.Component {
	return layouts.Page("Activity log", activityTable(f, recs, total, page, perPage))
}

func activityTable(f Filter, recs []record.Record, total, page, perPage int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		e := templ.EscapeString[string]

		b.WriteString(`<h1>Activity log</h1>`)
		fmt.Fprintf(&b, `<p class="summary">%d records</p>`, total)

		if len(recs) == 0 {
			b.WriteString(`<p class="empty">No activity recorded yet.</p>`)
		} else {
			b.WriteString(`<table><thead><tr><th>When</th><th>Connector</th><th>Context</th>`)
			b.WriteString(`<th>Action</th><th>Object</th><th>Actor</th><th>Summary</th></tr></thead><tbody>`)
			for _, rec := range recs {
				fmt.Fprintf(&b, `<tr id="record-%d">`, rec.ID)
				fmt.Fprintf(&b, `<td><time datetime="%s">%s</time></td>`,
					e(rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00")),
					e(rec.CreatedAt.Format("2006-01-02 15:04:05")))
				fmt.Fprintf(&b, `<td>%s</td><td>%s</td><td>%s</td>`,
					e(rec.Connector), e(rec.Context), e(rec.Action))
				fmt.Fprintf(&b, `<td>%s</td><td>%s</td>`, idCell(rec.ObjectID), idCell(rec.ActorID))
				fmt.Fprintf(&b, `<td>%s</td></tr>`, e(rec.Summary()))
			}
			b.WriteString(`</tbody></table>`)
		}

		writePager(&b, f, total, page, perPage)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func idCell(id *int64) string {
	if id == nil {
		return "&mdash;"
	}
	return strconv.FormatInt(*id, 10)
}

// writePager renders previous/next links that keep the active filters.
func writePager(b *strings.Builder, f Filter, total, page, perPage int) {
	if total <= perPage {
		return
	}
	b.WriteString(`<nav class="pager">`)
	if page > 1 {
		fmt.Fprintf(b, `<a rel="prev" href="%s">Newer</a>`, templ.EscapeString(pageURL(f, page-1)))
	}
	if page*perPage < total {
		fmt.Fprintf(b, `<a rel="next" href="%s">Older</a>`, templ.EscapeString(pageURL(f, page+1)))
	}
	b.WriteString(`</nav>`)
}

func pageURL(f Filter, page int) string {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("connector", f.Connector)
	set("context", f.Context)
	set("action", f.Action)
	if f.ObjectID != nil {
		q.Set("object_id", strconv.FormatInt(*f.ObjectID, 10))
	}
	if f.ActorID != nil {
		q.Set("actor_id", strconv.FormatInt(*f.ActorID, 10))
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.Format("2006-01-02T15:04:05Z07:00"))
	}
	if !f.Until.IsZero() {
		q.Set("until", f.Until.Format("2006-01-02T15:04:05Z07:00"))
	}
	q.Set("page", strconv.Itoa(page))
	return "/activity?" + q.Encode()
}
