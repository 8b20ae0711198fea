package stream

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/changeset"
	"github.com/keyxmakerx/activitylog/internal/middleware"
)

// maxBatchSize caps the number of entries in one batch request.
const maxBatchSize = 500

// Handler handles HTTP requests for the activity log. Handlers are thin:
// bind request, call service, render response.
type Handler struct {
	service StreamService
}

// NewHandler creates a new stream handler.
func NewHandler(service StreamService) *Handler {
	return &Handler{service: service}
}

// --- Ingestion ---

// Ingest logs a single record.
// POST /api/v1/records
func (h *Handler) Ingest(c echo.Context) error {
	var req LogRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	out, err := h.service.Log(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(outcomeStatus(out), out)
}

// batchRequest is the body of a batch ingestion.
type batchRequest struct {
	Records []LogRequest `json:"records"`
}

// IngestBatch logs several records in one operation. Entries sharing a
// dedup_key are stored once. Per-entry failures are reported in the
// response and never fail the whole request.
// POST /api/v1/records/batch
func (h *Handler) IngestBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(req.Records) == 0 {
		return apperror.NewBadRequest("records must not be empty")
	}
	if len(req.Records) > maxBatchSize {
		return apperror.NewBadRequest("too many records in one batch")
	}

	results := h.service.LogBatch(c.Request().Context(), req.Records)
	return c.JSON(http.StatusOK, map[string]any{
		"results": results,
	})
}

// IngestChanges logs one record per changed key between old and new.
// POST /api/v1/records/changes
func (h *Handler) IngestChanges(c echo.Context) error {
	var req ChangeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	outcomes, err := h.service.LogChanges(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if outcomes == nil {
		outcomes = []Outcome{}
	}

	status := http.StatusOK
	for _, o := range outcomes {
		if o.Stored() {
			status = http.StatusCreated
			break
		}
	}
	return c.JSON(status, map[string]any{
		"outcomes": outcomes,
	})
}

// diffRequest is the body of a diff request.
type diffRequest struct {
	Old   any `json:"old"`
	New   any `json:"new"`
	Depth int `json:"depth"`
}

// Diff returns the change set between two values without logging anything.
// POST /api/v1/diff
func (h *Handler) Diff(c echo.Context) error {
	var req diffRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.Depth < 0 {
		return apperror.NewValidation("depth must not be negative")
	}

	changes := changeset.Diff(req.Old, req.New, req.Depth)
	if changes == nil {
		changes = []changeset.Change{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"changes": changes,
		"total":   len(changes),
	})
}

// --- Query ---

// List returns records matching the query string filters.
// GET /api/v1/records?connector=&context=&action=&object_id=&actor_id=&since=&until=&limit=&offset=
func (h *Handler) List(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}

	recs, total, err := h.service.Query(c.Request().Context(), f)
	if err != nil {
		return err
	}

	f = f.normalize()
	return c.JSON(http.StatusOK, map[string]any{
		"data":   recs,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// Show returns a single record.
// GET /api/v1/records/:id
func (h *Handler) Show(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperror.NewBadRequest("invalid record id")
	}

	rec, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Activity renders the activity page. It accepts the same filters as List
// plus a 1-indexed page parameter.
// GET /activity
func (h *Handler) Activity(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	f.Limit = defaultLimit
	f.Offset = (page - 1) * defaultLimit

	recs, total, err := h.service.Query(c.Request().Context(), f)
	if err != nil {
		return err
	}

	return middleware.Render(c, http.StatusOK, ActivityPage(f, recs, total, page, defaultLimit))
}

// outcomeStatus is 201 when a record was stored and 200 for rejections and
// duplicates.
func outcomeStatus(o Outcome) int {
	if o.Stored() {
		return http.StatusCreated
	}
	return http.StatusOK
}

// filterFromQuery parses Filter fields from the query string. Timestamps
// are RFC 3339.
func filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{
		Connector: c.QueryParam("connector"),
		Context:   c.QueryParam("context"),
		Action:    c.QueryParam("action"),
	}

	var err error
	if f.ObjectID, err = optionalID(c.QueryParam("object_id")); err != nil {
		return f, apperror.NewBadRequest("invalid object_id")
	}
	if f.ActorID, err = optionalID(c.QueryParam("actor_id")); err != nil {
		return f, apperror.NewBadRequest("invalid actor_id")
	}
	if f.Since, err = optionalTime(c.QueryParam("since")); err != nil {
		return f, apperror.NewBadRequest("since must be an RFC 3339 timestamp")
	}
	if f.Until, err = optionalTime(c.QueryParam("until")); err != nil {
		return f, apperror.NewBadRequest("until must be an RFC 3339 timestamp")
	}

	f.Limit, _ = strconv.Atoi(c.QueryParam("limit"))
	f.Offset, _ = strconv.Atoi(c.QueryParam("offset"))
	return f, nil
}

func optionalID(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
