// Package stream is the activity log sink. Connectors hand it normalized
// records; it runs them through the registered overrides, validates them,
// appends them to the store and publishes them to subscribers. The store is
// append-only: nothing in this package updates or deletes a record once it
// has been written. A read-only query surface serves the reporting UI.
package stream

import (
	"time"

	"github.com/keyxmakerx/activitylog/internal/changeset"
	"github.com/keyxmakerx/activitylog/internal/record"
)

// defaultLimit is the page size when a query does not ask for one.
const defaultLimit = 50

// maxLimit caps the number of records a single query may return.
const maxLimit = 500

// Outcome is the result of one append. A rejected append is a normal,
// expected result and carries no error.
type Outcome struct {
	// ID is the stored record id. Zero when rejected or deduplicated.
	ID int64 `json:"id,omitempty"`

	// Rejected is true when an override vetoed the record.
	Rejected bool `json:"rejected,omitempty"`

	// RejectedBy names the override that vetoed the record.
	RejectedBy string `json:"rejected_by,omitempty"`

	// Deduplicated is true when the operation already emitted a record
	// under the same dedup key.
	Deduplicated bool `json:"deduplicated,omitempty"`

	// Record is the stored record, after overrides ran.
	Record *record.Record `json:"record,omitempty"`
}

// Stored reports whether the record reached the store.
func (o Outcome) Stored() bool {
	return o.ID != 0
}

// LogRequest is the ingestion call of a connector.
type LogRequest struct {
	Connector string         `json:"connector"`
	Context   string         `json:"context"`
	Action    string         `json:"action"`
	ObjectID  *int64         `json:"object_id"`
	ActorID   *int64         `json:"actor_id"`
	Message   string         `json:"message"`
	Args      record.Args    `json:"args"`
	Meta      map[string]any `json:"meta"`

	// DedupKey, when set, makes the request a no-op if the current
	// operation already logged a record under the same key.
	DedupKey string `json:"dedup_key,omitempty"`
}

// Record converts the request into a candidate record.
func (r LogRequest) Record() record.Record {
	return record.Record{
		Connector: r.Connector,
		Context:   r.Context,
		Action:    r.Action,
		ObjectID:  r.ObjectID,
		ActorID:   r.ActorID,
		Message:   r.Message,
		Args:      r.Args,
		Meta:      r.Meta,
	}
}

// BatchResult is the per-entry result of a batch ingestion.
type BatchResult struct {
	Outcome
	Error string `json:"error,omitempty"`
}

// ChangeRequest logs one record per changed key between Old and New.
type ChangeRequest struct {
	Connector string `json:"connector"`
	Context   string `json:"context"`

	// Action is used for every record. When empty each record gets
	// "added", "removed" or "updated" depending on the change.
	Action string `json:"action"`

	ObjectID *int64 `json:"object_id"`
	ActorID  *int64 `json:"actor_id"`

	// Message is the template for each record. It may reference {key},
	// {old}, {new} and any entry of Args. Defaults to DefaultChangeMessage.
	Message string      `json:"message"`
	Args    record.Args `json:"args"`

	Old   any `json:"old"`
	New   any `json:"new"`
	Depth int `json:"depth"`

	Meta map[string]any `json:"meta"`
}

// DefaultChangeMessage is the template used for change records without one.
const DefaultChangeMessage = `"{key}" updated`

// Change actions used when a ChangeRequest leaves Action empty.
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
	ActionUpdated = "updated"
)

// changeAction picks the verb for one change.
func changeAction(c changeset.Change) string {
	switch {
	case c.Added():
		return ActionAdded
	case c.Removed():
		return ActionRemoved
	default:
		return ActionUpdated
	}
}

// Filter selects records for the query surface. Zero fields match anything.
type Filter struct {
	Connector string
	Context   string
	Action    string
	ObjectID  *int64
	ActorID   *int64

	// Since and Until bound created_at, inclusive and exclusive respectively.
	Since time.Time
	Until time.Time

	Limit  int
	Offset int
}

// normalize clamps paging to sane values.
func (f Filter) normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// matches reports whether rec passes the filter. Used by the in-memory
// repository; SQL repositories express the same conditions in WHERE clauses.
func (f Filter) matches(rec record.Record) bool {
	if f.Connector != "" && rec.Connector != f.Connector {
		return false
	}
	if f.Context != "" && rec.Context != f.Context {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.ObjectID != nil && (rec.ObjectID == nil || *rec.ObjectID != *f.ObjectID) {
		return false
	}
	if f.ActorID != nil && (rec.ActorID == nil || *rec.ActorID != *f.ActorID) {
		return false
	}
	if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}
