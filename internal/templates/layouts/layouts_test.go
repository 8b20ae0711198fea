package layouts

import (
	"context"
	"strings"
	"testing"
)

func render(t *testing.T, ctx context.Context, title string) string {
	t.Helper()
	var b strings.Builder
	if err := ErrorPage(404, title).Render(ctx, &b); err != nil {
		t.Fatalf("rendering: %v", err)
	}
	return b.String()
}

func TestErrorPage_EscapesMessage(t *testing.T) {
	out := render(t, context.Background(), `<script>alert(1)</script>`)
	if strings.Contains(out, "<script>") {
		t.Errorf("expected message escaped, got %s", out)
	}
	if !strings.Contains(out, "404 Not Found") {
		t.Errorf("expected status heading, got %s", out)
	}
}

func TestPage_LayoutData(t *testing.T) {
	ctx := SetOperationID(context.Background(), "op-123")
	ctx = SetActivePath(ctx, "/activity")
	ctx = SetAPIKeyName(ctx, "woo")

	out := render(t, ctx, "missing")
	if !strings.Contains(out, "Operation op-123") {
		t.Error("expected operation id in footer")
	}
	if !strings.Contains(out, `<a href="/activity" aria-current="page">`) {
		t.Errorf("expected active nav link, got %s", out)
	}
	if !strings.Contains(out, "Signed in with key woo") {
		t.Error("expected key name in footer")
	}
}

func TestPage_NoLayoutData(t *testing.T) {
	out := render(t, context.Background(), "missing")
	if strings.Contains(out, "Operation") || strings.Contains(out, "aria-current") {
		t.Errorf("expected bare footer and nav, got %s", out)
	}
}
