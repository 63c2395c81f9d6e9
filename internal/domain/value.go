package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind identifies which of the three answer shapes a Value holds.
type ValueKind string

const (
	ValueText   ValueKind = "text"
	ValueList   ValueKind = "list"
	ValueFields ValueKind = "fields"
)

var errNestedValue = errors.New("nested objects and arrays are not supported")

// Value is a collected input: a string, a list of strings, or a flat map of
// named fields. The JSON form is the bare string, array or object.
type Value struct {
	Kind   ValueKind
	Text   string
	List   []string
	Fields map[string]string
}

// Text returns a text value.
func Text(s string) Value { return Value{Kind: ValueText, Text: s} }

// List returns a list value.
func List(items ...string) Value {
	out := make([]string, len(items))
	copy(out, items)
	return Value{Kind: ValueList, List: out}
}

// Fields returns a fields value.
func Fields(m map[string]string) Value {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return Value{Kind: ValueFields, Fields: out}
}

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool {
	return v.Kind == ""
}

// String renders the value for prompts and log lines.
func (v Value) String() string {
	switch v.Kind {
	case ValueText:
		return v.Text
	case ValueList:
		return strings.Join(v.List, ", ")
	case ValueFields:
		keys := make([]string, 0, len(v.Fields))
		for k := range v.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+v.Fields[k])
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// Contains reports whether a text value equals s or a list value includes s.
func (v Value) Contains(s string) bool {
	switch v.Kind {
	case ValueText:
		return v.Text == s
	case ValueList:
		for _, item := range v.List {
			if item == s {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.Kind {
	case ValueList:
		return List(v.List...)
	case ValueFields:
		return Fields(v.Fields)
	default:
		return v
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueText:
		return json.Marshal(v.Text)
	case ValueList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case ValueFields:
		if v.Fields == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Fields)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Numbers and booleans are kept
// in their literal text form.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		items := make([]string, 0, len(raw))
		for _, r := range raw {
			s, err := scalarString(r)
			if err != nil {
				return fmt.Errorf("list item: %w", err)
			}
			items = append(items, s)
		}
		*v = Value{Kind: ValueList, List: items}
		return nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		fields := make(map[string]string, len(raw))
		for k, r := range raw {
			s, err := scalarString(r)
			if err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = s
		}
		*v = Value{Kind: ValueFields, Fields: fields}
		return nil
	default:
		s, err := scalarString(data)
		if err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case '{', '[':
		return "", errNestedValue
	case 'n':
		return "", nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

// Inputs maps question ids (and unpacked identity fields) to answers.
type Inputs map[string]Value

// Clone returns a deep copy of the inputs.
func (in Inputs) Clone() Inputs {
	out := make(Inputs, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

// Get returns the value for key and whether it is present.
func (in Inputs) Get(key string) (Value, bool) {
	v, ok := in[key]
	if !ok || v.IsZero() {
		return Value{}, false
	}
	return v, true
}

// TextOf returns the text of key, or "" when absent or not text.
func (in Inputs) TextOf(key string) string {
	if v, ok := in.Get(key); ok && v.Kind == ValueText {
		return v.Text
	}
	return ""
}

// ListOf returns the list at key. A text value is returned as a single item.
func (in Inputs) ListOf(key string) []string {
	v, ok := in.Get(key)
	if !ok {
		return nil
	}
	switch v.Kind {
	case ValueList:
		return append([]string(nil), v.List...)
	case ValueText:
		if v.Text == "" {
			return nil
		}
		return []string{v.Text}
	}
	return nil
}

// FieldsOf returns the fields at key, or nil.
func (in Inputs) FieldsOf(key string) map[string]string {
	if v, ok := in.Get(key); ok && v.Kind == ValueFields {
		return v.Fields
	}
	return nil
}
