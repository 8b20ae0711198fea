// Package options is the built-in connector for site options. Options are
// named JSON values grouped by settings screen. Every update is logged to
// the activity stream as one record per changed key, using the dedup guard
// to pair the value seen before a write with the value written.
package options

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
)

// Connector is the connector key of every record this package appends.
const Connector = "settings"

// Records appended by this package.
const (
	ActionUpdated  = "updated"
	ActionImported = "imported"
	ContextImport  = "import"
)

// --- Database Models ---

// Option is one row of the site_options table.
type Option struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// --- Handler Table ---

// OptionSpec declares a loggable option. Options that are not registered
// cannot be written.
type OptionSpec struct {
	// Name is the option name as stored.
	Name string `json:"name"`

	// Group is the settings screen the option belongs to. It becomes the
	// record context.
	Group string `json:"group"`

	// Depth is how many levels of a structured value are compared
	// key-by-key. Zero compares the whole value.
	Depth int `json:"depth"`

	// Label is the human name used in messages. Defaults to Name.
	Label string `json:"label"`
}

func (s OptionSpec) label() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}

// guardKey is the dedup guard key of an option.
func (s OptionSpec) guardKey() string {
	return "option:" + s.Name
}

// Registry is the table of loggable options. It is filled at startup and
// read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]OptionSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]OptionSpec)}
}

// Register adds spec. Names must be unique.
func (r *Registry) Register(spec OptionSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return apperror.NewValidation("option name is required")
	}
	if spec.Group == "" {
		return apperror.NewValidation(fmt.Sprintf("option %q: group is required", spec.Name))
	}
	if spec.Depth < 0 {
		return apperror.NewValidation(fmt.Sprintf("option %q: depth must not be negative", spec.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return apperror.NewValidation(fmt.Sprintf("option %q already registered", spec.Name))
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (OptionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Specs returns every registered spec sorted by name.
func (r *Registry) Specs() []OptionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]OptionSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultSpecs are the options registered by the server at startup.
func DefaultSpecs() []OptionSpec {
	return []OptionSpec{
		{Name: "blogname", Group: "general", Label: "Site title"},
		{Name: "blogdescription", Group: "general", Label: "Tagline"},
		{Name: "admin_email", Group: "general", Label: "Administration email address"},
		{Name: "timezone_string", Group: "general", Label: "Timezone"},
		{Name: "posts_per_page", Group: "reading", Label: "Blog pages show at most"},
		{Name: "show_on_front", Group: "reading", Label: "Your homepage displays"},
		{Name: "default_comment_status", Group: "discussion", Label: "Allow comments on new posts"},
		{Name: "comment_moderation", Group: "discussion", Label: "Comment must be manually approved"},
		{Name: "permalink_structure", Group: "permalinks", Label: "Permalink structure"},
		{Name: "thumbnail_size", Group: "media", Depth: 1, Label: "Thumbnail size"},
		{Name: "sidebars_widgets", Group: "widgets", Depth: 1, Label: "Sidebar widgets"},
	}
}

// --- Service DTOs ---

// UpdateInput is a single option write.
type UpdateInput struct {
	Name    string `json:"-"`
	Value   any    `json:"value"`
	ActorID *int64 `json:"actor_id"`
}

// ImportInput writes several options as one bulk operation.
type ImportInput struct {
	Options map[string]any `json:"options"`
	ActorID *int64         `json:"actor_id"`
}

// UpdateResult is the stored option and the records its change produced.
type UpdateResult struct {
	Option   Option           `json:"option"`
	Outcomes []stream.Outcome `json:"outcomes"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	// Imported lists every option written, sorted.
	Imported []string `json:"imported"`

	// Changed lists the options whose value differed from the stored one.
	Changed []string `json:"changed"`

	// Outcome is the single import record.
	Outcome stream.Outcome `json:"outcome"`
}
