package overrides

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
	"github.com/keyxmakerx/activitylog/internal/record"
)

const sampleRules = `
overrides:
  - name: woocommerce-products
    priority: 10
    when: record.connector == "posts" && record.context == "product"
    set:
      connector: woocommerce
      meta:
        source: override
  - name: ignore-autosave
    when: record.action == "autosave"
    reject: true
`

func mustCompile(t *testing.T, doc string) []*Override {
	t.Helper()
	rules, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ovs, err := Compile(rules)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return ovs
}

func TestApply_RewritesMatchingRecord(t *testing.T) {
	ovs := mustCompile(t, sampleRules)

	out, err := ovs[0].Apply(context.Background(), record.Record{
		Connector: "posts", Context: "product", Action: "updated",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Connector != "woocommerce" {
		t.Errorf("expected woocommerce, got %s", out.Connector)
	}
	if out.Meta["source"] != "override" {
		t.Errorf("expected meta merged, got %v", out.Meta)
	}
}

func TestApply_LeavesOtherRecords(t *testing.T) {
	ovs := mustCompile(t, sampleRules)

	in := record.Record{Connector: "posts", Context: "page", Action: "updated"}
	out, err := ovs[0].Apply(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Connector != "posts" || out.Meta != nil {
		t.Errorf("expected record unchanged, got %+v", out)
	}
}

func TestApply_Reject(t *testing.T) {
	ovs := mustCompile(t, sampleRules)

	_, err := ovs[1].Apply(context.Background(), record.Record{Connector: "posts", Action: "autosave"})
	if !errors.Is(err, stream.ErrReject) {
		t.Errorf("expected ErrReject, got %v", err)
	}
}

func TestApply_IDsAndArgs(t *testing.T) {
	ovs := mustCompile(t, `
overrides:
  - name: admin-actions
    when: record.actor_id == 1 && record.args.role == "admin"
    set: {context: admin}
  - name: no-object
    when: record.object_id == null
    set: {action: system}
`)

	out, err := ovs[0].Apply(context.Background(), record.Record{
		Connector: "users", Action: "updated",
		ActorID: record.IDPtr(1),
		Args:    record.A("role", "admin"),
	})
	if err != nil || out.Context != "admin" {
		t.Errorf("expected admin context, got %+v, %v", out, err)
	}

	out, err = ovs[1].Apply(context.Background(), record.Record{Connector: "core", Action: "updated"})
	if err != nil || out.Action != "system" {
		t.Errorf("expected system action, got %+v, %v", out, err)
	}
}

func TestApply_NoConditionMatchesAll(t *testing.T) {
	ovs := mustCompile(t, `
overrides:
  - name: tag
    set: {meta: {tagged: true}}
`)
	out, _ := ovs[0].Apply(context.Background(), record.Record{Connector: "a", Action: "b"})
	if out.Meta["tagged"] != true {
		t.Errorf("expected tag on every record, got %v", out.Meta)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing name", "overrides:\n  - reject: true\n", "name is required"},
		{"duplicate", "overrides:\n  - {name: a, reject: true}\n  - {name: a, reject: true}\n", "duplicate"},
		{"no effect", "overrides:\n  - {name: a}\n", "needs set or reject"},
		{"both", "overrides:\n  - {name: a, reject: true, set: {action: x}}\n", "mutually exclusive"},
		{"bad expression", "overrides:\n  - {name: a, when: 'record.connector ==', reject: true}\n", "CEL compile error"},
		{"not boolean", "overrides:\n  - {name: a, when: '1 + 2', reject: true}\n", "boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			_, err = Compile(rules)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("overrides:\n  - {name: a, rejcet: true}\n"))
	if err == nil {
		t.Error("expected unknown field to fail")
	}
}

func TestParse_Empty(t *testing.T) {
	rules, err := Parse(nil)
	if err != nil || rules != nil {
		t.Errorf("expected no rules, got %v, %v", rules, err)
	}
}

func TestLoadFile_RegistersWithSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	if err := os.WriteFile(path, []byte(sampleRules), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ovs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	svc := stream.NewStreamService(stream.NewMemoryRepository(), nil, nil)
	if err := Register(svc, ovs); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	out, err := svc.Append(ctx, record.Record{Connector: "posts", Context: "product", Action: "updated"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if out.Record.Connector != "woocommerce" {
		t.Errorf("expected woocommerce, got %s", out.Record.Connector)
	}

	out, err = svc.Append(ctx, record.Record{Connector: "posts", Action: "autosave"})
	if err != nil || !out.Rejected || out.RejectedBy != "ignore-autosave" {
		t.Errorf("expected rejection by ignore-autosave, got %+v, %v", out, err)
	}

	if err := Register(svc, ovs); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

const optionalMetaRule = `
overrides:
  - name: core-team
    when: record.meta.team == "core"
    set:
      context: core
`

func TestApply_EvaluationErrorIsNoMatch(t *testing.T) {
	ovs := mustCompile(t, optionalMetaRule)

	if _, err := ovs[0].Matches(record.Record{Connector: "comments", Action: "created"}); err == nil {
		t.Fatal("expected missing meta key to fail evaluation")
	}

	in := record.Record{Connector: "comments", Action: "created"}
	out, err := ovs[0].Apply(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Context != "" {
		t.Errorf("expected record unchanged, got %+v", out)
	}

	out, err = ovs[0].Apply(context.Background(), record.Record{
		Connector: "comments", Action: "created", Meta: map[string]any{"team": "core"},
	})
	if err != nil || out.Context != "core" {
		t.Errorf("expected rule to apply when the key exists, got %+v, %v", out, err)
	}
}

func TestRegister_EvaluationErrorStillStores(t *testing.T) {
	svc := stream.NewStreamService(stream.NewMemoryRepository(), nil, nil)
	if err := Register(svc, mustCompile(t, optionalMetaRule)); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := svc.Append(context.Background(), record.Record{Connector: "comments", Action: "created"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !out.Stored() {
		t.Errorf("expected record stored, got %+v", out)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
