package options

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keyxmakerx/activitylog/internal/apperror"
)

// OptionsRepository persists option values as JSON.
type OptionsRepository interface {
	// Get returns the stored option, or a not_found error when the option
	// has never been written.
	Get(ctx context.Context, name string) (*Option, error)

	// Set upserts the value of an option.
	Set(ctx context.Context, name string, value any) error

	// GetAll returns every stored option keyed by name.
	GetAll(ctx context.Context) (map[string]any, error)
}

// optionsRepository implements OptionsRepository with MariaDB.
type optionsRepository struct {
	db *sql.DB
}

// NewOptionsRepository creates a new options repository.
func NewOptionsRepository(db *sql.DB) OptionsRepository {
	return &optionsRepository{db: db}
}

// Get returns a single option.
func (r *optionsRepository) Get(ctx context.Context, name string) (*Option, error) {
	query := `SELECT name, value, updated_at FROM site_options WHERE name = ?`

	var (
		opt Option
		raw []byte
	)
	err := r.db.QueryRowContext(ctx, query, name).Scan(&opt.Name, &raw, &opt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound(fmt.Sprintf("option %q not set", name))
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying option %q: %w", name, err))
	}

	if opt.Value, err = decodeValue(raw); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("decoding option %q: %w", name, err))
	}
	return &opt, nil
}

// Set upserts an option value.
func (r *optionsRepository) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperror.NewValidation(fmt.Sprintf("option %q: value is not valid JSON", name))
	}

	query := `INSERT INTO site_options (name, value, updated_at) VALUES (?, ?, ?)
	          ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`

	if _, err := r.db.ExecContext(ctx, query, name, raw, time.Now().UTC()); err != nil {
		return apperror.NewInternal(fmt.Errorf("upserting option %q: %w", name, err))
	}
	return nil
}

// GetAll returns all options as a name-value map.
func (r *optionsRepository) GetAll(ctx context.Context) (map[string]any, error) {
	query := `SELECT name, value FROM site_options`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying all options: %w", err))
	}
	defer rows.Close()

	result := make(map[string]any)
	for rows.Next() {
		var (
			name string
			raw  []byte
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("scanning option row: %w", err))
		}
		if result[name], err = decodeValue(raw); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("decoding option %q: %w", name, err))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("iterating options: %w", err))
	}
	return result, nil
}

// decodeValue parses a stored value. Numbers stay json.Number so integers
// and decimals compare exactly in the differ.
func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// --- In-memory ---

// memoryRepository keeps encoded values so reads never alias a caller's
// maps or slices.
type memoryRepository struct {
	mu   sync.RWMutex
	rows map[string]memoryRow
}

type memoryRow struct {
	raw       []byte
	updatedAt time.Time
}

// NewMemoryRepository creates an empty in-memory options repository.
func NewMemoryRepository() OptionsRepository {
	return &memoryRepository{rows: make(map[string]memoryRow)}
}

func (r *memoryRepository) Get(ctx context.Context, name string) (*Option, error) {
	r.mu.RLock()
	row, ok := r.rows[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.NewNotFound(fmt.Sprintf("option %q not set", name))
	}

	v, err := decodeValue(row.raw)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("decoding option %q: %w", name, err))
	}
	return &Option{Name: name, Value: v, UpdatedAt: row.updatedAt}, nil
}

func (r *memoryRepository) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperror.NewValidation(fmt.Sprintf("option %q: value is not valid JSON", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[name] = memoryRow{raw: raw, updatedAt: time.Now().UTC()}
	return nil
}

func (r *memoryRepository) GetAll(ctx context.Context) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]any, len(r.rows))
	for name, row := range r.rows {
		v, err := decodeValue(row.raw)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("decoding option %q: %w", name, err))
		}
		result[name] = v
	}
	return result, nil
}
