package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/record"
)

// memoryRepository is a process-local StreamRepository. It backs tests and
// the server's --memory development mode. Records are stored as deep
// copies so callers cannot mutate history.
type memoryRepository struct {
	mu      sync.RWMutex
	records []record.Record
	nextID  int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() StreamRepository {
	return &memoryRepository{nextID: 1}
}

func (r *memoryRepository) Insert(ctx context.Context, rec *record.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.ID = r.nextID
	r.nextID++
	r.records = append(r.records, rec.Clone())
	return nil
}

func (r *memoryRepository) FindByID(ctx context.Context, id int64) (*record.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.ID == id {
			c := rec.Clone()
			return &c, nil
		}
	}
	return nil, apperror.NewNotFound(fmt.Sprintf("record %d not found", id))
}

// List walks the log backwards, which is newest first because the service
// stamps created_at monotonically.
func (r *memoryRepository) List(ctx context.Context, f Filter) ([]record.Record, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		out   []record.Record
		total int
	)
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if !f.matches(rec) {
			continue
		}
		if total >= f.Offset && len(out) < f.Limit {
			out = append(out, rec.Clone())
		}
		total++
	}
	return out, total, nil
}

func (r *memoryRepository) Ping(ctx context.Context) error {
	return nil
}
