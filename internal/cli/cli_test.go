package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/keyxmakerx/activitylog/internal/config"
	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
	"github.com/keyxmakerx/activitylog/internal/record"
)

var errNoDB = errors.New("no database in tests")

// execute runs activityctl with args and returns what it printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	e := &env{
		in:  strings.NewReader(stdin),
		out: &out,
		openDB: func(ctx context.Context) (*sql.DB, *config.Config, error) {
			return nil, nil, errNoDB
		},
	}
	root := newRootCommand(e)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// --- diff ---

func TestDiff_Text(t *testing.T) {
	oldPath := writeFile(t, "old.json", `{"a": {"b": 1}, "c": "x"}`)
	newPath := writeFile(t, "new.json", `{"a": {"b": 2}, "d": true}`)

	out, err := execute(t, "", "diff", oldPath, newPath, "--depth", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "~ a.b: 1 -> 2\n+ d:  -> true\n- c: x -> \n"
	if out != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out)
	}
}

func TestDiff_JSON(t *testing.T) {
	oldPath := writeFile(t, "old.json", `{"a": 1}`)
	newPath := writeFile(t, "new.json", `{"a": 1.0}`)

	out, err := execute(t, "", "--json", "diff", oldPath, newPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected empty change list, got %s", out)
	}
}

func TestDiff_Errors(t *testing.T) {
	good := writeFile(t, "good.json", `{}`)
	bad := writeFile(t, "bad.json", `{`)

	tests := []struct {
		name string
		args []string
	}{
		{"negative depth", []string{"diff", good, good, "--depth", "-1"}},
		{"missing file", []string{"diff", good, filepath.Join(t.TempDir(), "nope.json")}},
		{"invalid json", []string{"diff", good, bad}},
		{"one argument", []string{"diff", good}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, "", tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// --- keyhash ---

func TestKeyhash_FromStdin(t *testing.T) {
	out, err := execute(t, "s3cret\n", "keyhash", "woo", "--cost", "4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := strings.TrimPrefix(strings.TrimSpace(out), "INGEST_KEYS entry: ")
	keys, err := config.ParseIngestKeys(entry)
	if err != nil {
		t.Fatalf("entry does not parse as INGEST_KEYS: %v", err)
	}
	if keys[0].Name != "woo" {
		t.Errorf("expected name woo, got %s", keys[0].Name)
	}
	if bcrypt.CompareHashAndPassword([]byte(keys[0].Hash), []byte("s3cret")) != nil {
		t.Error("expected hash to match the secret")
	}
}

func TestKeyhash_Generate(t *testing.T) {
	out, err := execute(t, "", "--json", "keyhash", "woo", "--generate", "--cost", "4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	name, secret, ok := strings.Cut(got["bearer"], ".")
	if !ok || name != "woo" || secret == "" {
		t.Fatalf("unexpected bearer token %q", got["bearer"])
	}
	_, hash, _ := strings.Cut(got["ingest_keys_entry"], ":")
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		t.Error("expected hash to match the generated secret")
	}
}

func TestKeyhash_Errors(t *testing.T) {
	if _, err := execute(t, "s3cret\n", "keyhash", "bad.name"); err == nil {
		t.Error("expected an error for a dotted name")
	}
	if _, err := execute(t, "", "keyhash", "woo"); err == nil {
		t.Error("expected an error for an empty secret")
	}
}

// --- overrides ---

const rules = `
overrides:
  - name: ignore-autosave
    when: record.action == "autosave"
    reject: true
  - name: products
    priority: 5
    when: record.context == "product"
    set:
      connector: woocommerce
`

func TestOverridesValidate(t *testing.T) {
	path := writeFile(t, "overrides.yaml", rules)

	out, err := execute(t, "", "overrides", "validate", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "2 rule(s) OK") || !strings.Contains(out, "products (priority 5)") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestOverridesValidate_Invalid(t *testing.T) {
	path := writeFile(t, "overrides.yaml", `
overrides:
  - name: broken
    when: record.connector ==
    reject: true
`)
	if _, err := execute(t, "", "overrides", "validate", path); err == nil {
		t.Error("expected a compile error")
	}
}

func TestOverridesTest(t *testing.T) {
	path := writeFile(t, "overrides.yaml", rules)

	tests := []struct {
		name   string
		record string
		want   string
	}{
		{"rejected", `{"connector": "posts", "action": "autosave"}`, "rejected by ignore-autosave"},
		{"rewritten", `{"connector": "posts", "context": "product", "action": "updated", "message": "Product updated"}`, "woocommerce/product/updated: Product updated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recPath := writeFile(t, "record.json", tt.record)
			out, err := execute(t, "", "overrides", "test", path, recPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, out)
			}
		})
	}
}

// --- query / migrate ---

func TestQuery_Table(t *testing.T) {
	svc := stream.NewStreamService(stream.NewMemoryRepository(), nil, nil)
	ctx := context.Background()
	for _, action := range []string{"created", "deleted"} {
		if _, err := svc.Append(ctx, record.Record{
			Connector: "comments", Action: action, ObjectID: record.IDPtr(9), Message: "Comment " + action,
		}); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	var out bytes.Buffer
	e := &env{out: &out}
	cmd := newQueryCommand(e)
	cmd.SetContext(ctx)
	if err := e.runQuery(cmd, svc, stream.Filter{Connector: "comments"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, 2 rows and footer, got:\n%s", out.String())
	}
	if !strings.Contains(lines[1], "Comment deleted") || !strings.Contains(lines[2], "Comment created") {
		t.Errorf("expected newest first, got:\n%s", out.String())
	}
	if lines[3] != "2 of 2 records" {
		t.Errorf("unexpected footer %q", lines[3])
	}
}

func TestQuery_BadTime(t *testing.T) {
	_, err := execute(t, "", "query", "--since", "yesterday")
	if err == nil || !strings.Contains(err.Error(), "--since") {
		t.Errorf("expected a --since error, got %v", err)
	}
}

func TestDatabaseCommandsNeedDatabase(t *testing.T) {
	for _, args := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"query"},
	} {
		if _, err := execute(t, "", args...); !errors.Is(err, errNoDB) {
			t.Errorf("%v: expected the database error, got %v", args, err)
		}
	}
}
