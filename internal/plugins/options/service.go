package options

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/changeset"
	"github.com/keyxmakerx/activitylog/internal/guard"
	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
	"github.com/keyxmakerx/activitylog/internal/record"
)

// Message templates of the records this connector appends.
const (
	msgChanged  = `{label} changed from "{old}" to "{new}"`
	msgKeyed    = `{label}: "{key}" changed from "{old}" to "{new}"`
	msgUpdated  = `{label} updated`
	msgImported = `Imported {count} options, {changed} changed`
)

// ActivityLogger is the part of the event sink this connector writes to.
type ActivityLogger interface {
	Append(ctx context.Context, rec record.Record) (stream.Outcome, error)
	LogChanges(ctx context.Context, req stream.ChangeRequest) ([]stream.Outcome, error)
}

// OptionsService reads and writes site options and logs every change.
type OptionsService interface {
	// Get returns a registered option. An option that was never written
	// has a nil value.
	Get(ctx context.Context, name string) (*Option, error)

	// List returns every registered option with its current value.
	List(ctx context.Context) ([]Option, error)

	// Update writes one option and logs one record per changed key.
	Update(ctx context.Context, in UpdateInput) (*UpdateResult, error)

	// Updating records the current value of an option ahead of a write
	// that happens outside this service.
	Updating(ctx context.Context, name string) error

	// Updated logs an option write that happened outside this service.
	// Without a matching Updating in the same operation the old value is
	// unknown and a single record without a diff is appended.
	Updated(ctx context.Context, in UpdateInput) ([]stream.Outcome, error)

	// Import writes several options and logs a single record for all of
	// them.
	Import(ctx context.Context, in ImportInput) (*ImportResult, error)

	// Specs returns the registered options.
	Specs() []OptionSpec
}

// optionsService implements OptionsService.
type optionsService struct {
	repo     OptionsRepository
	registry *Registry
	log      ActivityLogger
}

// NewOptionsService creates a new options service.
func NewOptionsService(repo OptionsRepository, registry *Registry, log ActivityLogger) OptionsService {
	return &optionsService{repo: repo, registry: registry, log: log}
}

func (s *optionsService) spec(name string) (OptionSpec, error) {
	spec, ok := s.registry.Lookup(name)
	if !ok {
		return OptionSpec{}, apperror.NewNotFound(fmt.Sprintf("unknown option %q", name))
	}
	return spec, nil
}

// Get returns one option.
func (s *optionsService) Get(ctx context.Context, name string) (*Option, error) {
	spec, err := s.spec(name)
	if err != nil {
		return nil, err
	}

	opt, err := s.repo.Get(ctx, spec.Name)
	if apperror.IsType(err, apperror.TypeNotFound) {
		return &Option{Name: spec.Name}, nil
	}
	return opt, err
}

// List returns the registered options in name order.
func (s *optionsService) List(ctx context.Context) ([]Option, error) {
	values, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	specs := s.registry.Specs()
	out := make([]Option, len(specs))
	for i, spec := range specs {
		out[i] = Option{Name: spec.Name, Value: values[spec.Name]}
	}
	return out, nil
}

func (s *optionsService) Specs() []OptionSpec {
	return s.registry.Specs()
}

// Update is Updating, the write and Updated within one operation.
func (s *optionsService) Update(ctx context.Context, in UpdateInput) (*UpdateResult, error) {
	spec, err := s.spec(in.Name)
	if err != nil {
		return nil, err
	}

	ctx, end := withOperation(ctx)
	defer end()

	if _, err := s.before(ctx, spec); err != nil {
		return nil, err
	}
	if err := s.repo.Set(ctx, spec.Name, in.Value); err != nil {
		return nil, err
	}

	outcomes, err := s.after(ctx, spec, in.Value, in.ActorID)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Option: Option{Name: spec.Name, Value: in.Value}, Outcomes: outcomes}, nil
}

// Updating arms the guard with the stored value.
func (s *optionsService) Updating(ctx context.Context, name string) error {
	spec, err := s.spec(name)
	if err != nil {
		return err
	}
	if _, ok := guard.FromContext(ctx); !ok {
		return apperror.NewMissingContext()
	}
	_, err = s.before(ctx, spec)
	return err
}

// Updated logs the change armed by Updating, if any.
func (s *optionsService) Updated(ctx context.Context, in UpdateInput) ([]stream.Outcome, error) {
	spec, err := s.spec(in.Name)
	if err != nil {
		return nil, err
	}
	return s.after(ctx, spec, in.Value, in.ActorID)
}

// Import validates every name before writing anything. Each option is
// marked as covered by the bulk record so its own change record is skipped.
func (s *optionsService) Import(ctx context.Context, in ImportInput) (*ImportResult, error) {
	if len(in.Options) == 0 {
		return nil, apperror.NewValidation("no options to import")
	}

	names := make([]string, 0, len(in.Options))
	for name := range in.Options {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]OptionSpec, len(names))
	for i, name := range names {
		spec, err := s.spec(name)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}

	ctx, end := withOperation(ctx)
	defer end()

	g := guard.GuardFrom(ctx)
	for _, spec := range specs {
		g.MarkBulk(spec.guardKey())
	}

	changed := []string{}
	for _, spec := range specs {
		value := in.Options[spec.Name]
		old, err := s.before(ctx, spec)
		if err != nil {
			return nil, err
		}
		if err := s.repo.Set(ctx, spec.Name, value); err != nil {
			return nil, err
		}
		if _, err := s.after(ctx, spec, value, in.ActorID); err != nil {
			return nil, err
		}
		if !changeset.Equal(old, value) {
			changed = append(changed, spec.Name)
		}
	}

	out, err := s.log.Append(ctx, record.Record{
		Connector: Connector,
		Context:   ContextImport,
		Action:    ActionImported,
		ActorID:   in.ActorID,
		Message:   msgImported,
		Args:      record.A("count", len(names), "changed", len(changed)),
		Meta:      map[string]any{"options": names, "changed": changed},
	})
	if err != nil {
		return nil, err
	}

	slog.Info("options imported",
		slog.Int("count", len(names)),
		slog.Int("changed", len(changed)),
	)
	return &ImportResult{Imported: names, Changed: changed, Outcome: out}, nil
}

// before arms the option's guard key with its stored value and returns
// that value. A missing option is armed as changeset.Absent.
func (s *optionsService) before(ctx context.Context, spec OptionSpec) (any, error) {
	old := changeset.Absent
	opt, err := s.repo.Get(ctx, spec.Name)
	switch {
	case err == nil:
		old = opt.Value
	case !apperror.IsType(err, apperror.TypeNotFound):
		return nil, err
	}

	guard.GuardFrom(ctx).Arm(spec.guardKey(), old)
	return old, nil
}

// after consumes the snapshot armed by before and logs the difference.
func (s *optionsService) after(ctx context.Context, spec OptionSpec, value any, actorID *int64) ([]stream.Outcome, error) {
	g := guard.GuardFrom(ctx)
	key := spec.guardKey()

	if g.ShouldSuppressBulkDuplicate(key) {
		g.TryConsume(key)
		return nil, nil
	}

	meta := map[string]any{"option": spec.Name}

	old, armed := g.TryConsume(key)
	if !armed {
		slog.Debug("option written without snapshot, logging without diff",
			slog.String("option", spec.Name),
		)
		out, err := s.log.Append(ctx, record.Record{
			Connector: Connector,
			Context:   spec.Group,
			Action:    ActionUpdated,
			ActorID:   actorID,
			Message:   msgUpdated,
			Args:      record.A("label", spec.label()),
			Meta:      meta,
		})
		if err != nil {
			return nil, err
		}
		return []stream.Outcome{out}, nil
	}

	message := msgChanged
	if spec.Depth > 0 {
		message = msgKeyed
	}

	// The option name is the top-level key, so changes come out as
	// "name" or "name.sub".
	return s.log.LogChanges(ctx, stream.ChangeRequest{
		Connector: Connector,
		Context:   spec.Group,
		Action:    ActionUpdated,
		ActorID:   actorID,
		Message:   message,
		Args:      record.A("label", spec.label()),
		Old:       keyed(spec.Name, old),
		New:       keyed(spec.Name, value),
		Depth:     spec.Depth + 1,
		Meta:      meta,
	})
}

func keyed(name string, v any) map[string]any {
	if changeset.IsAbsent(v) {
		return map[string]any{}
	}
	return map[string]any{name: v}
}

// withOperation starts an operation unless ctx already carries one. The
// returned func ends only an operation started here.
func withOperation(ctx context.Context) (context.Context, func()) {
	if _, ok := guard.FromContext(ctx); ok {
		return ctx, func() {}
	}
	ctx, op := guard.Begin(ctx)
	return ctx, op.End
}
