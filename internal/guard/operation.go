package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Operation is one logical unit of work: an HTTP request or a CLI run. It
// owns the Guard for that unit and resets it when the operation ends.
type Operation struct {
	// ID is a random UUID, echoed in logs and the X-Operation-ID header.
	ID string

	// StartedAt is when Begin was called.
	StartedAt time.Time

	guard *Guard
}

// operationKey is an unexported context key type.
type operationKey struct{}

// Begin starts an operation and attaches it to ctx.
func Begin(ctx context.Context) (context.Context, *Operation) {
	op := &Operation{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		guard:     New(),
	}
	return context.WithValue(ctx, operationKey{}, op), op
}

// Guard returns the operation's guard.
func (o *Operation) Guard() *Guard {
	return o.guard
}

// End closes the operation boundary. Keys still armed were abandoned by a
// "before" signal with no matching "after"; they are logged and dropped so
// nothing leaks into the next operation.
func (o *Operation) End() {
	if pending := o.guard.Pending(); len(pending) > 0 {
		slog.Debug("operation ended with armed guard keys",
			slog.String("operation_id", o.ID),
			slog.Any("keys", pending),
		)
	}
	o.guard.Reset()
}

// FromContext returns the operation attached to ctx, if any.
func FromContext(ctx context.Context) (*Operation, bool) {
	op, ok := ctx.Value(operationKey{}).(*Operation)
	return op, ok
}

// GuardFrom returns the guard of the operation attached to ctx. Without an
// operation it returns a fresh guard scoped to the caller, which never
// suppresses anything it did not itself record.
func GuardFrom(ctx context.Context) *Guard {
	if op, ok := FromContext(ctx); ok {
		return op.guard
	}
	return New()
}
