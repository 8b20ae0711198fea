package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Arg is one named placeholder value.
type Arg struct {
	Key   string
	Value any
}

// Args is an ordered list of placeholder values. Positional placeholders
// consume values in list order; named placeholders look values up by key.
// On the wire Args is a JSON object whose member order is preserved.
type Args []Arg

// A builds Args from alternating key/value pairs. A trailing key without a
// value is stored with a nil value.
//
//	record.A("type", "comment", "user", "Jane")
func A(pairs ...any) Args {
	out := make(Args, 0, (len(pairs)+1)/2)
	for i := 0; i < len(pairs); i += 2 {
		key := fmt.Sprint(pairs[i])
		var val any
		if i+1 < len(pairs) {
			val = pairs[i+1]
		}
		out = out.Set(key, val)
	}
	return out
}

// Get returns the value stored under key.
func (a Args) Get(key string) (any, bool) {
	for _, arg := range a {
		if arg.Key == key {
			return arg.Value, true
		}
	}
	return nil, false
}

// Set stores value under key and returns the updated list, like append.
// An existing key keeps its position.
func (a Args) Set(key string, value any) Args {
	for i, arg := range a {
		if arg.Key == key {
			a[i].Value = value
			return a
		}
	}
	return append(a, Arg{Key: key, Value: value})
}

// Keys returns the keys in order.
func (a Args) Keys() []string {
	keys := make([]string, len(a))
	for i, arg := range a {
		keys[i] = arg.Key
	}
	return keys
}

// Map returns the values keyed by name. Order is lost.
func (a Args) Map() map[string]any {
	m := make(map[string]any, len(a))
	for _, arg := range a {
		m[arg.Key] = arg.Value
	}
	return m
}

// Clone returns a deep copy.
func (a Args) Clone() Args {
	if a == nil {
		return nil
	}
	out := make(Args, len(a))
	for i, arg := range a {
		out[i] = Arg{Key: arg.Key, Value: cloneValue(arg.Value)}
	}
	return out
}

// MarshalJSON encodes Args as a JSON object in list order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(arg.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("marshaling arg %q: %w", arg.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into Args, keeping member order.
// A null document yields nil Args.
func (a *Args) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("args must be a JSON object")
	}

	out := Args{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected args key token %v", tok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("decoding arg %q: %w", key, err)
		}
		out = out.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*a = out
	return nil
}
