package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/keyxmakerx/activitylog/internal/record"
)

// ErrReject is returned by an override to veto a record. The append becomes
// a no-op and its Outcome reports Rejected.
var ErrReject = errors.New("record rejected by override")

// ErrOverrideRecursion is returned when overrides keep appending records from
// inside other overrides past MaxOverrideDepth.
var ErrOverrideRecursion = errors.New("override recursion limit reached")

// MaxOverrideDepth is the deepest Append nesting an override chain may reach.
const MaxOverrideDepth = 4

// OverrideFunc inspects a candidate record and returns it, possibly modified,
// or ErrReject. The record is the override's own copy.
type OverrideFunc func(ctx context.Context, rec record.Record) (record.Record, error)

// override is one registered entry.
type override struct {
	name     string
	priority int
	seq      int
	fn       OverrideFunc
}

// overrideList keeps overrides sorted by priority, then registration order.
type overrideList []override

func (l overrideList) insert(o override) overrideList {
	out := append(l[:len(l):len(l)], o)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (l overrideList) has(name string) bool {
	for _, o := range l {
		if o.name == name {
			return true
		}
	}
	return false
}

func validateOverride(name string, fn OverrideFunc) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("override name is required")
	}
	if fn == nil {
		return fmt.Errorf("override %q has no function", name)
	}
	return nil
}

// depthKey carries the Append nesting depth through override contexts.
type depthKey struct{}

func appendDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func withAppendDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}
