package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/record"
)

// StreamRepository defines the data access contract for the activity log.
// It is append-only: there is deliberately no update or delete method.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type StreamRepository interface {
	// Insert appends a record and sets its ID. CreatedAt must already be set.
	Insert(ctx context.Context, rec *record.Record) error

	// FindByID returns one record. Returns NotFound if it does not exist.
	FindByID(ctx context.Context, id int64) (*record.Record, error)

	// List returns records matching the filter, newest first, with the total
	// number of matches for pagination. The filter is already normalized.
	List(ctx context.Context, f Filter) ([]record.Record, int, error)

	// Ping verifies that the store accepts connections.
	Ping(ctx context.Context) error
}

// mariaDBRepository implements StreamRepository with MariaDB queries.
type mariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new repository backed by the given DB pool.
func NewMariaDBRepository(db *sql.DB) StreamRepository {
	return &mariaDBRepository{db: db}
}

// Insert appends a record. Args and Meta are serialized to JSON; nil Meta
// is stored as SQL NULL.
func (r *mariaDBRepository) Insert(ctx context.Context, rec *record.Record) error {
	query := `INSERT INTO activity_log (connector, context, action, object_id, actor_id, message, args, meta, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	argsJSON, err := json.Marshal(rec.Args)
	if err != nil {
		return fmt.Errorf("marshaling record args: %w", err)
	}

	var metaJSON []byte
	if rec.Meta != nil {
		metaJSON, err = json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("marshaling record meta: %w", err)
		}
	}

	result, err := r.db.ExecContext(ctx, query,
		rec.Connector, rec.Context, rec.Action,
		nullInt64(rec.ObjectID), nullInt64(rec.ActorID),
		rec.Message, argsJSON, metaJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting activity record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting activity record id: %w", err)
	}
	rec.ID = id

	return nil
}

// FindByID returns a single record by id.
func (r *mariaDBRepository) FindByID(ctx context.Context, id int64) (*record.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM activity_log WHERE id = ?`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying activity record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecordRows(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperror.NewNotFound(fmt.Sprintf("record %d not found", id))
	}
	return &recs[0], nil
}

// List returns filtered records ordered by most recent first. Ties on
// created_at are broken by id so pages are stable.
func (r *mariaDBRepository) List(ctx context.Context, f Filter) ([]record.Record, int, error) {
	where, args := buildWhere(f)

	var total int
	countQuery := `SELECT COUNT(*) FROM activity_log` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting activity records: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM activity_log` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing activity records: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecordRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Ping verifies database connectivity.
func (r *mariaDBRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// recordColumns is the column list every SELECT scans, in scan order.
const recordColumns = `id, connector, context, action, object_id, actor_id, message, args, meta, created_at`

// buildWhere turns a filter into a WHERE clause with placeholders.
func buildWhere(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.Connector != "" {
		add("connector = ?", f.Connector)
	}
	if f.Context != "" {
		add("context = ?", f.Context)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.ObjectID != nil {
		add("object_id = ?", *f.ObjectID)
	}
	if f.ActorID != nil {
		add("actor_id = ?", *f.ActorID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < ?", f.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanRecordRows scans rows selected with recordColumns.
func scanRecordRows(rows *sql.Rows) ([]record.Record, error) {
	var recs []record.Record
	for rows.Next() {
		var (
			rec      record.Record
			objectID sql.NullInt64
			actorID  sql.NullInt64
			argsJSON sql.NullString
			metaJSON sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.Connector, &rec.Context, &rec.Action,
			&objectID, &actorID, &rec.Message,
			&argsJSON, &metaJSON, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning activity record: %w", err)
		}

		if objectID.Valid {
			rec.ObjectID = record.IDPtr(objectID.Int64)
		}
		if actorID.Valid {
			rec.ActorID = record.IDPtr(actorID.Int64)
		}

		// Non-fatal: a corrupt JSON column must not break the whole feed.
		if argsJSON.Valid && argsJSON.String != "" {
			if err := json.Unmarshal([]byte(argsJSON.String), &rec.Args); err != nil {
				rec.Args = nil
				rec.Meta = map[string]any{"_parse_error": "invalid args JSON"}
			}
		}
		if metaJSON.Valid && metaJSON.String != "" && rec.Meta == nil {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Meta); err != nil {
				rec.Meta = map[string]any{"_parse_error": "invalid meta JSON"}
			}
		}

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity rows: %w", err)
	}

	return recs, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

