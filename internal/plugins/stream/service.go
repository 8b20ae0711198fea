package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/changeset"
	"github.com/keyxmakerx/activitylog/internal/guard"
	"github.com/keyxmakerx/activitylog/internal/record"
)

// StreamService is the event sink. It runs overrides, validates, persists
// and publishes records, and serves the read-only query surface.
type StreamService interface {
	// Append runs the override chain on rec, validates the result and
	// stores it. A veto is reported through Outcome.Rejected with a nil
	// error. Store failures return a sink_unavailable error and are not
	// retried.
	Append(ctx context.Context, rec record.Record) (Outcome, error)

	// Log is the connector ingestion call. It honors LogRequest.DedupKey
	// against the operation attached to ctx.
	Log(ctx context.Context, req LogRequest) (Outcome, error)

	// LogBatch logs every request in order within the caller's operation.
	// Failures are reported per entry and never abort the batch.
	LogBatch(ctx context.Context, reqs []LogRequest) []BatchResult

	// LogChanges appends one record per key that differs between req.Old
	// and req.New. Unchanged values produce no records.
	LogChanges(ctx context.Context, req ChangeRequest) ([]Outcome, error)

	// Query returns records matching f, newest first, and the total count.
	Query(ctx context.Context, f Filter) ([]record.Record, int, error)

	// Get returns a single record.
	Get(ctx context.Context, id int64) (*record.Record, error)

	// RegisterOverride adds fn to the chain. Overrides run by ascending
	// priority; equal priorities run in registration order. Names must be
	// unique.
	RegisterOverride(name string, priority int, fn OverrideFunc) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// streamService implements StreamService.
type streamService struct {
	repo      StreamRepository
	publisher Publisher
	metrics   *Metrics

	mu        sync.RWMutex
	overrides overrideList
	seq       int

	clockMu sync.Mutex
	last    time.Time
	now     func() time.Time
}

// NewStreamService creates the sink. publisher and metrics may be nil.
func NewStreamService(repo StreamRepository, publisher Publisher, metrics *Metrics) StreamService {
	if publisher == nil {
		publisher = NewNoopPublisher()
	}
	return &streamService{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
	}
}

// RegisterOverride adds an override to the chain.
func (s *streamService) RegisterOverride(name string, priority int, fn OverrideFunc) error {
	if err := validateOverride(name, fn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overrides.has(name) {
		return fmt.Errorf("override %q already registered", name)
	}
	s.seq++
	s.overrides = s.overrides.insert(override{name: name, priority: priority, seq: s.seq, fn: fn})
	return nil
}

// Append implements the sink pipeline: overrides, validation, persist,
// publish.
func (s *streamService) Append(ctx context.Context, rec record.Record) (Outcome, error) {
	depth := appendDepth(ctx)
	if depth >= MaxOverrideDepth {
		return Outcome{}, apperror.NewInternal(fmt.Errorf("appending %s/%s at depth %d: %w",
			rec.Connector, rec.Action, depth, ErrOverrideRecursion))
	}

	start := time.Now()
	defer s.metrics.observeAppend(start)

	candidate := rec.Clone()

	s.mu.RLock()
	chain := s.overrides
	s.mu.RUnlock()

	octx := withAppendDepth(ctx, depth+1)
	for _, o := range chain {
		out, err := o.fn(octx, candidate.Clone())
		if errors.Is(err, ErrReject) {
			slog.Debug("activity record rejected by override",
				slog.String("override", o.name),
				slog.String("connector", candidate.Connector),
				slog.String("action", candidate.Action),
			)
			s.metrics.incRejected(candidate.Connector, o.name)
			return Outcome{Rejected: true, RejectedBy: o.name}, nil
		}
		if err != nil {
			return Outcome{}, apperror.NewInternal(fmt.Errorf("override %q: %w", o.name, err))
		}
		candidate = out
	}

	if err := candidate.Validate(); err != nil {
		s.metrics.incInvalid()
		return Outcome{}, err
	}

	candidate.ID = 0
	candidate.CreatedAt = s.stamp()

	if err := s.repo.Insert(ctx, &candidate); err != nil {
		slog.Error("failed to write activity record",
			slog.String("connector", candidate.Connector),
			slog.String("action", candidate.Action),
			slog.Any("error", err),
		)
		s.metrics.incSinkError()
		return Outcome{}, apperror.NewSinkUnavailable(err)
	}
	s.metrics.incAppended(candidate.Connector)

	if err := s.publisher.Publish(ctx, &candidate); err != nil {
		slog.Warn("failed to publish activity record",
			slog.Int64("record_id", candidate.ID),
			slog.Any("error", err),
		)
		s.metrics.incPublished("error")
	} else {
		s.metrics.incPublished("ok")
	}

	return Outcome{ID: candidate.ID, Record: &candidate}, nil
}

// stamp returns the creation time for the next record. Times never go
// backwards within the process, even if the wall clock does.
func (s *streamService) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := s.now().UTC().Truncate(time.Microsecond)
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return t
}

// Log appends the record described by req. A request whose DedupKey was
// already used in the current operation is skipped. The key counts as used
// once the first append with it was attempted.
func (s *streamService) Log(ctx context.Context, req LogRequest) (Outcome, error) {
	if req.DedupKey != "" && !guard.GuardFrom(ctx).FirstEmit(req.DedupKey) {
		slog.Debug("duplicate activity record skipped",
			slog.String("dedup_key", req.DedupKey),
			slog.String("connector", req.Connector),
		)
		return Outcome{Deduplicated: true}, nil
	}
	return s.Append(ctx, req.Record())
}

// LogBatch logs each request and collects per-entry results. The batch is
// one operation: when ctx carries none, one is begun for the batch so
// entries sharing a DedupKey are stored once.
func (s *streamService) LogBatch(ctx context.Context, reqs []LogRequest) []BatchResult {
	if _, ok := guard.FromContext(ctx); !ok {
		var op *guard.Operation
		ctx, op = guard.Begin(ctx)
		defer op.End()
	}

	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		out, err := s.Log(ctx, req)
		results[i] = BatchResult{Outcome: out}
		if err != nil {
			results[i].Error = apperror.SafeMessage(err)
		}
	}
	return results
}

// LogChanges diffs req.Old against req.New and appends one record per
// change. Each record's args carry key, old and new as display strings;
// its meta carries the raw values. Records already appended stay when a
// later one fails.
func (s *streamService) LogChanges(ctx context.Context, req ChangeRequest) ([]Outcome, error) {
	if req.Depth < 0 {
		return nil, apperror.NewValidation("depth must not be negative")
	}

	changes := changeset.Diff(req.Old, req.New, req.Depth)
	if len(changes) == 0 {
		return nil, nil
	}

	message := req.Message
	if message == "" {
		message = DefaultChangeMessage
	}

	outcomes := make([]Outcome, 0, len(changes))
	for _, c := range changes {
		action := req.Action
		if action == "" {
			action = changeAction(c)
		}

		args := req.Args.Clone()
		args = args.Set("key", c.Key)
		args = args.Set("old", changeset.FormatLeaf(c.Old))
		args = args.Set("new", changeset.FormatLeaf(c.New))

		meta := make(map[string]any, len(req.Meta)+2)
		maps.Copy(meta, req.Meta)
		if !changeset.IsAbsent(c.Old) {
			meta["old_value"] = c.Old
		}
		if !changeset.IsAbsent(c.New) {
			meta["new_value"] = c.New
		}

		out, err := s.Append(ctx, record.Record{
			Connector: req.Connector,
			Context:   req.Context,
			Action:    action,
			ObjectID:  req.ObjectID,
			ActorID:   req.ActorID,
			Message:   message,
			Args:      args,
			Meta:      meta,
		})
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}

	return outcomes, nil
}

// Query returns a filtered page of records.
func (s *streamService) Query(ctx context.Context, f Filter) ([]record.Record, int, error) {
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return nil, 0, apperror.NewBadRequest("since must be before until")
	}

	recs, total, err := s.repo.List(ctx, f.normalize())
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing activity records: %w", err))
	}
	return recs, total, nil
}

// Get returns one record by id.
func (s *streamService) Get(ctx context.Context, id int64) (*record.Record, error) {
	if id <= 0 {
		return nil, apperror.NewBadRequest("invalid record id")
	}

	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding activity record: %w", err))
	}
	return rec, nil
}

// Ping checks the store.
func (s *streamService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
