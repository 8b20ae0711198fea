package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/record"
)

// newTestServer wires a handler over an in-memory store. Errors are mapped
// the same way the application error handler does.
func newTestServer(t *testing.T) (*echo.Echo, StreamService) {
	t.Helper()
	svc := NewStreamService(NewMemoryRepository(), nil, nil)
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if he, ok := err.(*echo.HTTPError); ok {
			_ = c.JSON(he.Code, map[string]any{"message": he.Message})
			return
		}
		_ = c.JSON(apperror.SafeCode(err), map[string]string{"message": apperror.SafeMessage(err)})
	}
	RegisterRoutes(e, NewHandler(svc), nil, nil)
	return e, svc
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_IngestAndShow(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/records", `{
		"connector": "comments", "context": "comments", "action": "created",
		"object_id": 42, "actor_id": 7,
		"message": "New %s by %s",
		"args": {"type": "comment", "user": "Jane"}
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var out Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding outcome: %v", err)
	}
	if out.ID == 0 {
		t.Fatal("expected an id")
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/records/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got record.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if keys := got.Args.Keys(); len(keys) != 2 || keys[0] != "type" || keys[1] != "user" {
		t.Errorf("expected args order preserved, got %v", keys)
	}
}

func TestHandler_IngestValidationError(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/records", `{"connector": "comments"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHandler_IngestMalformedBody(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/records", `{"connector":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_IngestRejected(t *testing.T) {
	e, svc := newTestServer(t)
	_ = svc.RegisterOverride("quiet", 0, func(ctx context.Context, r record.Record) (record.Record, error) {
		return r, ErrReject
	})

	rec := doJSON(e, http.MethodPost, "/api/v1/records", `{"connector": "x", "action": "y"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"rejected_by":"quiet"`) {
		t.Errorf("expected rejection in body, got %s", rec.Body.String())
	}
}

func TestHandler_IngestBatch(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/records/batch", `{"records": [
		{"connector": "menus", "action": "updated", "dedup_key": "menu:1"},
		{"connector": "menus", "action": "updated", "dedup_key": "menu:1"}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Results []BatchResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Results) != 2 || !body.Results[0].Stored() || !body.Results[1].Deduplicated {
		t.Errorf("unexpected results %+v", body.Results)
	}
}

func TestHandler_IngestBatchEmpty(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/records/batch", `{"records": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_IngestChanges(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/records/changes", `{
		"connector": "settings", "context": "general",
		"old": {"a": 1, "b": 2}, "new": {"a": 1, "b": 3}
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"key":"b"`) {
		t.Errorf("expected change for b, got %s", rec.Body.String())
	}
}

func TestHandler_Diff(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/diff", `{"old": {"a": 1}, "new": {"a": 1, "b": 2}, "depth": 0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Changes []struct {
			Key string `json:"key"`
			Old any    `json:"old"`
			New any    `json:"new"`
		} `json:"changes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Changes) != 1 || body.Changes[0].Key != "b" || body.Changes[0].Old != nil {
		t.Errorf("unexpected changes %+v", body.Changes)
	}
}

func TestHandler_ListFilters(t *testing.T) {
	e, svc := newTestServer(t)
	ctx := context.Background()
	_, _ = svc.Append(ctx, record.Record{Connector: "posts", Action: "created", ActorID: record.IDPtr(1)})
	_, _ = svc.Append(ctx, record.Record{Connector: "posts", Action: "deleted", ActorID: record.IDPtr(2)})
	_, _ = svc.Append(ctx, record.Record{Connector: "users", Action: "created", ActorID: record.IDPtr(1)})

	rec := doJSON(e, http.MethodGet, "/api/v1/records?connector=posts&actor_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data  []record.Record `json:"data"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 || body.Data[0].Action != "created" {
		t.Errorf("unexpected result %+v", body)
	}
}

func TestHandler_ListBadParams(t *testing.T) {
	e, _ := newTestServer(t)
	for _, q := range []string{"object_id=abc", "since=yesterday"} {
		rec := doJSON(e, http.MethodGet, "/api/v1/records?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestHandler_ShowNotFound(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/api/v1/records/404", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ActivityPageEscapes(t *testing.T) {
	e, svc := newTestServer(t)
	_, _ = svc.Append(context.Background(), record.Record{
		Connector: "comments",
		Context:   "<script>",
		Action:    "created",
		Message:   "Comment by %s",
		Args:      record.A("user", "<b>Jane</b>"),
	})

	rec := doJSON(e, http.MethodGet, "/activity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<script>") || strings.Contains(body, "<b>") {
		t.Errorf("expected markup to be escaped, got %s", body)
	}
	if !strings.Contains(body, "Comment by Jane") {
		t.Errorf("expected rendered summary, got %s", body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %s", ct)
	}
}
