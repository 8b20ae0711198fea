// Package overrides loads declarative override rules from YAML and turns
// them into sink overrides. A rule matches records with a CEL expression
// over a "record" variable and either rewrites fields or rejects the record.
package overrides

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
	"github.com/keyxmakerx/activitylog/internal/record"
)

// File is the top-level document of an overrides file.
type File struct {
	Overrides []Rule `yaml:"overrides"`
}

// Rule is one declarative override.
type Rule struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`

	// When is a CEL boolean expression over record. Empty matches every
	// record.
	When string `yaml:"when"`

	// Set rewrites fields of matching records. Ignored when Reject is true.
	Set *Set `yaml:"set"`

	// Reject vetoes matching records.
	Reject bool `yaml:"reject"`
}

// Set lists the fields a rule may rewrite. Meta entries are merged into the
// record's meta; the other fields replace the record's value when present.
type Set struct {
	Connector *string        `yaml:"connector"`
	Context   *string        `yaml:"context"`
	Action    *string        `yaml:"action"`
	Message   *string        `yaml:"message"`
	Meta      map[string]any `yaml:"meta"`
}

func (s *Set) empty() bool {
	return s == nil || (s.Connector == nil && s.Context == nil && s.Action == nil &&
		s.Message == nil && len(s.Meta) == 0)
}

// Override is a compiled rule.
type Override struct {
	rule Rule
	prg  cel.Program
}

// Name returns the rule name.
func (o *Override) Name() string { return o.rule.Name }

// Priority returns the rule priority.
func (o *Override) Priority() int { return o.rule.Priority }

// Parse decodes an overrides document. Unknown fields are errors so typos
// do not silently disable a rule.
func Parse(data []byte) ([]Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing overrides: %w", err)
	}
	return f.Overrides, nil
}

// LoadFile reads and compiles an overrides file.
func LoadFile(path string) ([]*Override, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading overrides file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Compile(rules)
}

// newEnv declares the record variable every expression sees.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Compile validates rules and compiles their expressions. All problems are
// reported together.
func Compile(rules []Rule) ([]*Override, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	var (
		out  []*Override
		errs []error
		seen = make(map[string]bool, len(rules))
	)
	for i, r := range rules {
		r.Name = strings.TrimSpace(r.Name)
		label := fmt.Sprintf("rule %d", i+1)
		if r.Name != "" {
			label = fmt.Sprintf("rule %q", r.Name)
		}

		switch {
		case r.Name == "":
			errs = append(errs, fmt.Errorf("%s: name is required", label))
			continue
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
			continue
		case r.Reject && r.Set != nil:
			errs = append(errs, fmt.Errorf("%s: set and reject are mutually exclusive", label))
			continue
		case !r.Reject && r.Set.empty():
			errs = append(errs, fmt.Errorf("%s: needs set or reject", label))
			continue
		}
		seen[r.Name] = true

		prg, err := compileWhen(env, r.When)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		out = append(out, &Override{rule: r, prg: prg})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func compileWhen(env *cel.Env, expr string) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	switch ast.OutputType().String() {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("when must be a boolean expression, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	return prg, nil
}

// Matches evaluates the rule's condition against rec.
func (o *Override) Matches(rec record.Record) (bool, error) {
	if o.prg == nil {
		return true, nil
	}

	out, _, err := o.prg.Eval(map[string]any{"record": activation(rec)})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", o.rule.Name, err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluating %q: condition returned %T, not bool", o.rule.Name, out.Value())
	}
	return match, nil
}

// Apply is the stream.OverrideFunc of the rule. A condition that fails to
// evaluate, for example one reading a meta key the record lacks, counts as
// no match: the record passes through untouched.
func (o *Override) Apply(ctx context.Context, rec record.Record) (record.Record, error) {
	match, err := o.Matches(rec)
	if err != nil {
		slog.Warn("override condition failed, skipping rule",
			slog.String("override", o.rule.Name),
			slog.String("connector", rec.Connector),
			slog.String("action", rec.Action),
			slog.Any("error", err),
		)
		return rec, nil
	}
	if !match {
		return rec, nil
	}
	if o.rule.Reject {
		return rec, stream.ErrReject
	}

	s := o.rule.Set
	if s.Connector != nil {
		rec.Connector = *s.Connector
	}
	if s.Context != nil {
		rec.Context = *s.Context
	}
	if s.Action != nil {
		rec.Action = *s.Action
	}
	if s.Message != nil {
		rec.Message = *s.Message
	}
	if len(s.Meta) > 0 {
		if rec.Meta == nil {
			rec.Meta = make(map[string]any, len(s.Meta))
		}
		maps.Copy(rec.Meta, s.Meta)
	}
	return rec, nil
}

// activation exposes rec to CEL. Missing ids are null.
func activation(rec record.Record) map[string]any {
	var objectID, actorID any
	if rec.ObjectID != nil {
		objectID = *rec.ObjectID
	}
	if rec.ActorID != nil {
		actorID = *rec.ActorID
	}
	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"connector": rec.Connector,
		"context":   rec.Context,
		"action":    rec.Action,
		"object_id": objectID,
		"actor_id":  actorID,
		"message":   rec.Message,
		"args":      rec.Args.Map(),
		"meta":      meta,
	}
}

// Registrar accepts overrides. stream.StreamService satisfies it.
type Registrar interface {
	RegisterOverride(name string, priority int, fn stream.OverrideFunc) error
}

// Register adds every override to reg.
func Register(reg Registrar, overrides []*Override) error {
	for _, o := range overrides {
		if err := reg.RegisterOverride(o.rule.Name, o.rule.Priority, o.Apply); err != nil {
			return fmt.Errorf("registering override %q: %w", o.rule.Name, err)
		}
	}
	return nil
}
