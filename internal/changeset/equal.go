package changeset

import (
	"bytes"
	"encoding/json"
	"math/big"
	"reflect"
	"strconv"
)

// Normalize converts v into the generic shape Diff works on: mappings with
// string keys become map[string]any, slices and arrays become []any, structs
// go through their JSON encoding, pointers are dereferenced and json.Number
// becomes int64 or float64. Anything else is returned unchanged.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64, absent:
		return v
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		raw, err := json.Marshal(v)
		if err != nil {
			return v
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return v
		}
		return Normalize(generic)
	}
	return v
}

// Equal reports whether a and b are structurally equal. Mappings compare
// by key set regardless of insertion order, sequences element by element,
// and numbers by value across Go numeric types and json.Number, so 1,
// int64(1), 1.0 and json.Number("1") are all equal.
func Equal(a, b any) bool {
	return equal(Normalize(a), Normalize(b))
}

func equal(a, b any) bool {
	if IsAbsent(a) || IsAbsent(b) {
		return IsAbsent(a) && IsAbsent(b)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ra, ok := toRat(a); ok {
		if rb, ok := toRat(b); ok {
			return ra.Cmp(rb) == 0
		}
		return false
	}

	switch at := a.(type) {
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !equal(av, bv) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

// toRat returns the exact value of a numeric v. Non-finite floats are not
// numbers for this purpose and fall back to reflect.DeepEqual.
func toRat(v any) (*big.Rat, bool) {
	if n, ok := v.(json.Number); ok {
		return new(big.Rat).SetString(n.String())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return new(big.Rat).SetInt64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return new(big.Rat).SetInt(new(big.Int).SetUint64(rv.Uint())), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if r := new(big.Rat).SetFloat64(f); r != nil {
			return r, true
		}
		return nil, false
	}
	return nil, false
}

// FormatLeaf renders a leaf value for a log message: strings as-is,
// Absent as an empty string, everything else as compact JSON.
func FormatLeaf(v any) string {
	switch t := v.(type) {
	case absent:
		return ""
	case string:
		return t
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
