// Package record defines the normalized activity record that every connector
// produces. A record names the connector and context it came from, the action
// taken, the affected object and actor, and a message template whose
// placeholders are filled from an ordered argument list. Records carry no
// behavior beyond validation and rendering; persistence lives in the stream
// plugin.
package record

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/changeset"
)

// Record is one activity log entry.
type Record struct {
	// ID is assigned by the sink on insertion. Zero until persisted.
	ID int64 `json:"id"`

	// Connector is the stable category key of the producing subsystem
	// (e.g., "comments", "installer"). Required.
	Connector string `json:"connector"`

	// Context is the sub-area within the connector (a taxonomy name, a
	// settings tab, a sidebar id). May be empty.
	Context string `json:"context"`

	// Action is the connector-defined verb ("created", "updated", ...). Required.
	Action string `json:"action"`

	// ObjectID identifies the affected entity. Nil when the event is not tied
	// to a single addressable entity.
	ObjectID *int64 `json:"object_id"`

	// ActorID identifies the acting user. Nil for system events.
	ActorID *int64 `json:"actor_id"`

	// Message is the message template. See Placeholders for the syntax.
	Message string `json:"message"`

	// Args supplies placeholder values, in order.
	Args Args `json:"args"`

	// Meta holds structured data that is not part of the message, such as
	// old and new values or related entity ids.
	Meta map[string]any `json:"meta,omitempty"`

	// CreatedAt is assigned by the sink on insertion.
	CreatedAt time.Time `json:"created_at"`
}

// IDPtr returns a pointer to id, for filling ObjectID and ActorID inline.
func IDPtr(id int64) *int64 {
	return &id
}

// Validate checks the data model invariants: connector and action are
// non-empty and every placeholder in Message resolves against Args.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Connector) == "" {
		return apperror.NewValidation("connector is required")
	}
	if strings.TrimSpace(r.Action) == "" {
		return apperror.NewValidation("action is required")
	}
	if err := checkPlaceholders(r.Message, r.Args); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy. Args and Meta values that are maps or slices
// are copied so the clone can be mutated without touching the original.
func (r Record) Clone() Record {
	out := r
	if r.ObjectID != nil {
		out.ObjectID = IDPtr(*r.ObjectID)
	}
	if r.ActorID != nil {
		out.ActorID = IDPtr(*r.ActorID)
	}
	out.Args = r.Args.Clone()
	if r.Meta != nil {
		out.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			out.Meta[k] = cloneValue(v)
		}
	}
	return out
}

// cloneValue deep-copies v. The generic containers produced by JSON
// decoding are copied directly; typed maps, slices and structs are first
// brought into that generic shape, which is also how they are persisted.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64, json.Number:
		return v
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case Args:
		return t.Clone()
	case []byte:
		return bytes.Clone(t)
	}

	n := changeset.Normalize(v)
	switch n.(type) {
	case map[string]any, []any:
		// Normalize allocated new containers; copy their leaves too.
		return cloneValue(n)
	}
	return n
}
