// Package guard suppresses duplicate activity records when one user action
// fires several overlapping notifications. A "before" notification arms a
// key with a snapshot of the old state; the matching "after" notification
// consumes it to compute a diff. Coarse bulk notifications set one-shot
// flags that the fine-grained handlers check to avoid double logging.
//
// A Guard belongs to exactly one operation (one HTTP request, one CLI
// invocation). There is no process-wide guard: state that outlived its
// operation would suppress legitimate records in an unrelated one.
package guard

import (
	"sort"
	"sync"
)

// State is the lifecycle position of one guard key.
type State int

const (
	// Idle means no pending "before" signal for the key.
	Idle State = iota

	// Armed means a snapshot is cached and waiting for the "after" signal.
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// Guard holds the dedup state of one operation. The zero value is not
// usable; create guards with New. Methods are safe for concurrent use so a
// handler that fans out work cannot corrupt the maps, but a Guard must not
// be shared across operations.
type Guard struct {
	mu      sync.Mutex
	armed   map[string]any
	bulk    map[string]bool
	emitted map[string]bool
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{
		armed:   make(map[string]any),
		bulk:    make(map[string]bool),
		emitted: make(map[string]bool),
	}
}

// Arm records a "before" signal for key with the snapshot needed to diff
// later. Re-arming before consumption replaces the snapshot.
func (g *Guard) Arm(key string, snapshot any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed[key] = snapshot
}

// ArmOnce arms key only if it is idle, so re-entrant "before" hooks keep
// the first snapshot. It reports whether the snapshot was stored.
func (g *Guard) ArmOnce(key string, snapshot any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.armed[key]; ok {
		return false
	}
	g.armed[key] = snapshot
	return true
}

// TryConsume returns the snapshot armed for key and resets the key to idle.
// ok is false when the key was never armed in this operation; the caller
// then decides between a best-effort record without a diff and no record.
func (g *Guard) TryConsume(key string) (snapshot any, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snapshot, ok = g.armed[key]
	if ok {
		delete(g.armed, key)
	}
	return snapshot, ok
}

// State returns the state of key.
func (g *Guard) State(key string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.armed[key]; ok {
		return Armed
	}
	return Idle
}

// MarkBulk is called by a coarse "about to do bulk operation" handler.
// The next ShouldSuppressBulkDuplicate for opID returns true.
func (g *Guard) MarkBulk(opID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bulk[opID] = true
}

// ShouldSuppressBulkDuplicate reports whether a bulk handler already
// covered opID, and clears the flag.
func (g *Guard) ShouldSuppressBulkDuplicate(opID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.bulk[opID] {
		return false
	}
	delete(g.bulk, opID)
	return true
}

// FirstEmit reports whether this is the first time the canonical record for
// key is emitted in this operation. Later calls for the same key return false.
func (g *Guard) FirstEmit(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emitted[key] {
		return false
	}
	g.emitted[key] = true
	return true
}

// Pending returns the armed keys that were never consumed, sorted.
func (g *Guard) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.armed))
	for k := range g.armed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset returns every key to idle and clears all flags.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.armed)
	clear(g.bulk)
	clear(g.emitted)
}
