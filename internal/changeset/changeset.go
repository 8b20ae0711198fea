// Package changeset turns a before/after pair of structured values into the
// list of leaf keys that changed. Connectors use it to split one coarse
// "option updated" notification into one activity record per setting.
//
// Inputs are generic values as produced by encoding/json (map[string]any,
// []any, scalars), but typed maps, slices and structs are accepted and
// normalized first. Diff never fails: a key missing on either side is an
// addition or a removal, and non-mapping inputs are compared as a whole.
package changeset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// absent is the type of Absent.
type absent struct{}

func (absent) String() string { return "<absent>" }

// MarshalJSON encodes Absent as null so change sets can be stored as JSON;
// use the Added and Removed helpers on Change to tell it apart from a
// present null.
func (absent) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Absent marks the missing side of an added or removed key. It is never
// equal to a present nil value.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent marker.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// Change is one changed leaf. Key is the dot-joined path from the top-level
// mapping; it is empty when the inputs were compared as whole values. Dots
// and backslashes inside a single mapping key are escaped with a backslash,
// so the top-level key "a.b" is `a\.b` while the nested path a, b is "a.b".
type Change struct {
	Key string `json:"key"`
	Old any    `json:"old"`
	New any    `json:"new"`
}

// Added reports whether the key did not exist before.
func (c Change) Added() bool { return IsAbsent(c.Old) }

// Removed reports whether the key no longer exists.
func (c Change) Removed() bool { return IsAbsent(c.New) }

func (c Change) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Key, c.Old, c.New)
}

// Diff compares old and new and returns the changed leaves.
//
// depth is the number of nested mapping levels to descend below the top
// level: at depth 0 only top-level keys are reported and nested values are
// compared as opaque leaves; at depth 1 a changed nested mapping is reported
// per second-level key as "parent.child", and so on.
//
// Output order is deterministic: keys present in new (sorted), then keys
// only present in old (sorted). Keys whose values are equal are omitted.
// When old and new are not both mappings the result is a single change
// with an empty key, or nothing when they are equal.
func Diff(old, new any, depth int) []Change {
	oldMap, oldOK := Normalize(old).(map[string]any)
	newMap, newOK := Normalize(new).(map[string]any)
	if !oldOK || !newOK {
		if Equal(old, new) {
			return nil
		}
		return []Change{{Key: "", Old: Normalize(old), New: Normalize(new)}}
	}
	if depth < 0 {
		depth = 0
	}
	var out []Change
	diffMaps("", oldMap, newMap, depth, &out)
	return out
}

// DiffJSON decodes two serialized values and diffs them. Empty input is
// treated as an absent value so a first write diffs against nothing.
func DiffJSON(oldRaw, newRaw []byte, depth int) ([]Change, error) {
	oldVal, err := decode(oldRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding old value: %w", err)
	}
	newVal, err := decode(newRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding new value: %w", err)
	}
	if oldVal == nil && len(bytes.TrimSpace(oldRaw)) == 0 {
		oldVal = map[string]any{}
	}
	if newVal == nil && len(bytes.TrimSpace(newRaw)) == 0 {
		newVal = map[string]any{}
	}
	return Diff(oldVal, newVal, depth), nil
}

func decode(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`)

// EscapeKey escapes one mapping key for use as a path segment.
func EscapeKey(k string) string {
	return keyEscaper.Replace(k)
}

func diffMaps(prefix string, old, new map[string]any, depth int, out *[]Change) {
	for _, k := range sortedKeys(new) {
		key := prefix + EscapeKey(k)
		nv := new[k]
		ov, ok := old[k]
		if !ok {
			*out = append(*out, Change{Key: key, Old: Absent, New: nv})
			continue
		}
		if depth > 0 {
			om, oIsMap := ov.(map[string]any)
			nm, nIsMap := nv.(map[string]any)
			if oIsMap && nIsMap {
				diffMaps(key+".", om, nm, depth-1, out)
				continue
			}
		}
		if !Equal(ov, nv) {
			*out = append(*out, Change{Key: key, Old: ov, New: nv})
		}
	}
	for _, k := range sortedKeys(old) {
		if _, ok := new[k]; !ok {
			*out = append(*out, Change{Key: prefix + EscapeKey(k), Old: old[k], New: Absent})
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Keys returns the keys of a change set, in order.
func Keys(changes []Change) []string {
	keys := make([]string, len(changes))
	for i, c := range changes {
		keys[i] = c.Key
	}
	return keys
}
