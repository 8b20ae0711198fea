package record

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/keyxmakerx/activitylog/internal/apperror"
)

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

func sampleRecord() Record {
	return Record{
		Connector: "comments",
		Context:   "comments",
		Action:    "created",
		ObjectID:  IDPtr(42),
		ActorID:   IDPtr(7),
		Message:   "New %s by %s",
		Args:      A("type", "comment", "user", "Jane"),
	}
}

// --- Validate Tests ---

func TestValidate_Success(t *testing.T) {
	if err := sampleRecord().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EmptyConnector(t *testing.T) {
	r := sampleRecord()
	r.Connector = "  "
	assertAppError(t, r.Validate(), http.StatusUnprocessableEntity)
}

func TestValidate_EmptyAction(t *testing.T) {
	r := sampleRecord()
	r.Action = ""
	assertAppError(t, r.Validate(), http.StatusUnprocessableEntity)
}

func TestValidate_EmptyConnectorWinsOverEverythingElse(t *testing.T) {
	// Every other field is broken too; the record must still be rejected.
	r := Record{Message: "%s %s %s", Args: nil}
	assertAppError(t, r.Validate(), http.StatusUnprocessableEntity)
}

func TestValidate_TooFewPositionalArgs(t *testing.T) {
	r := sampleRecord()
	r.Message = "New %s by %s on %s"
	assertAppError(t, r.Validate(), http.StatusUnprocessableEntity)
}

func TestValidate_ExplicitIndexOutOfRange(t *testing.T) {
	r := sampleRecord()
	r.Message = "%3$s"
	assertAppError(t, r.Validate(), http.StatusUnprocessableEntity)
}

func TestValidate_UnknownNamedArg(t *testing.T) {
	r := sampleRecord()
	r.Message = "{user} edited {title}"
	assertAppError(t, r.Validate(), http.StatusUnprocessableEntity)
}

func TestValidate_NoPlaceholdersNoArgs(t *testing.T) {
	r := Record{Connector: "installer", Action: "updated", Message: "Core updated to 100%%"}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Placeholder Tests ---

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		tpl  string
		want []string
	}{
		{"New %s by %s", []string{"#1", "#2"}},
		{"%2$s moved %1$s", []string{"#2", "#1"}},
		{"{user} edited {post_title}", []string{"user", "post_title"}},
		{"50%% off", nil},
		{"literal { brace } and % sign", nil},
		{"%s then {name}", []string{"#1", "name"}},
	}
	for _, tt := range tests {
		got := Placeholders(tt.tpl)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Placeholders(%q) = %v, want %v", tt.tpl, got, tt.want)
		}
	}
}

// --- Summary Tests ---

func TestSummary_Positional(t *testing.T) {
	if got := sampleRecord().Summary(); got != "New comment by Jane" {
		t.Errorf("expected 'New comment by Jane', got %q", got)
	}
}

func TestSummary_ExplicitAndNamed(t *testing.T) {
	r := Record{
		Connector: "posts",
		Action:    "updated",
		Message:   "%2$s updated {title}",
		Args:      A("title", "Hello", "user", "Jane"),
	}
	if got := r.Summary(); got != "Jane updated Hello" {
		t.Errorf("expected 'Jane updated Hello', got %q", got)
	}
}

func TestSummary_StripsMarkup(t *testing.T) {
	r := Record{
		Connector: "posts",
		Action:    "updated",
		Message:   "Updated %s",
		Args:      A("title", "<script>alert(1)</script><b>Tom & Jerry</b>"),
	}
	if got := r.Summary(); got != "Updated Tom & Jerry" {
		t.Errorf("expected markup stripped, got %q", got)
	}
}

func TestSummary_DefaultUsesSingularContext(t *testing.T) {
	r := Record{Connector: "taxonomies", Context: "categories", Action: "created"}
	if got := r.Summary(); got != "Category created" {
		t.Errorf("expected 'Category created', got %q", got)
	}
}

func TestSummary_DefaultFallsBackToConnector(t *testing.T) {
	r := Record{Connector: "widgets", Action: "sorted"}
	if got := r.Summary(); got != "Widget sorted" {
		t.Errorf("expected 'Widget sorted', got %q", got)
	}
}

// --- Args Tests ---

func TestArgs_JSONPreservesOrder(t *testing.T) {
	var args Args
	if err := json.Unmarshal([]byte(`{"z":1,"a":"two","m":[1,2]}`), &args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := args.Keys(); !reflect.DeepEqual(got, []string{"z", "a", "m"}) {
		t.Fatalf("expected keys in document order, got %v", got)
	}

	out, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"z":1,"a":"two","m":[1,2]}` {
		t.Errorf("unexpected encoding: %s", out)
	}
}

func TestArgs_UnmarshalRejectsArray(t *testing.T) {
	var args Args
	if err := json.Unmarshal([]byte(`["a"]`), &args); err == nil {
		t.Fatal("expected error for non-object args")
	}
}

func TestArgs_UnmarshalNull(t *testing.T) {
	args := A("x", 1)
	if err := json.Unmarshal([]byte(`null`), &args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args != nil {
		t.Errorf("expected nil args, got %v", args)
	}
}

func TestArgs_SetKeepsPosition(t *testing.T) {
	args := A("a", 1, "b", 2).Set("a", 3)
	if got := args.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected keys %v", got)
	}
	if v, _ := args.Get("a"); v != 3 {
		t.Errorf("expected a=3, got %v", v)
	}
}

// --- Clone Tests ---

func TestClone_IsDeep(t *testing.T) {
	r := sampleRecord()
	r.Meta = map[string]any{"old": map[string]any{"rules": []any{1, 2}}}

	c := r.Clone()
	*c.ObjectID = 99
	c.Args[0].Value = "changed"
	c.Meta["old"].(map[string]any)["rules"].([]any)[0] = 100

	if *r.ObjectID != 42 {
		t.Error("clone shares ObjectID")
	}
	if v, _ := r.Args.Get("type"); v != "comment" {
		t.Error("clone shares Args")
	}
	if r.Meta["old"].(map[string]any)["rules"].([]any)[0] != 1 {
		t.Error("clone shares nested Meta")
	}
}

func TestClone_CopiesTypedContainers(t *testing.T) {
	names := []string{"blogname"}
	sizes := map[string]int{"w": 150}
	raw := []byte("abc")
	r := Record{Connector: "settings", Action: "imported", Meta: map[string]any{
		"options": names,
		"size":    sizes,
		"raw":     raw,
	}}

	c := r.Clone()
	names[0] = "tampered"
	sizes["w"] = 0
	raw[0] = 'z'

	opts, ok := c.Meta["options"].([]any)
	if !ok || len(opts) != 1 || opts[0] != "blogname" {
		t.Errorf("expected copied options, got %#v", c.Meta["options"])
	}
	size, ok := c.Meta["size"].(map[string]any)
	if !ok || size["w"] != 150 {
		t.Errorf("expected copied size map, got %#v", c.Meta["size"])
	}
	if string(c.Meta["raw"].([]byte)) != "abc" {
		t.Errorf("expected copied bytes, got %q", c.Meta["raw"])
	}
}
