// SPDX-License-Identifier: Apache-2.0
package action

import (
	"encoding/json"
	"strings"
)

// Argument is the payload handed to an action. It is either free text or a
// structured key-value map. Free text is always available through Text.
type Argument struct {
	text   string
	fields map[string]any
}

// Text builds a free-text argument.
func Text(s string) Argument {
	return Argument{text: s}
}

// Fields builds a structured argument. The map is copied, nested values included.
func Fields(m map[string]any) Argument {
	if m == nil {
		return Argument{}
	}
	return Argument{fields: cloneFields(m)}
}

// ParseArgument interprets raw oracle text. A JSON object becomes a structured
// argument, a JSON string is unquoted, and anything else is kept as trimmed text.
func ParseArgument(raw string) Argument {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return Argument{fields: m}
		}
	}
	if strings.HasPrefix(trimmed, `"`) {
		var str string
		if err := json.Unmarshal([]byte(trimmed), &str); err == nil {
			return Text(str)
		}
	}
	return Text(trimmed)
}

// ArgumentOf converts a decoded JSON value into an Argument.
func ArgumentOf(v any) Argument {
	switch val := v.(type) {
	case nil:
		return Argument{}
	case Argument:
		return val
	case string:
		return Text(val)
	case map[string]any:
		return Fields(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return Argument{}
		}
		return Text(string(data))
	}
}

// IsStructured reports whether the argument carries a key-value payload.
func (a Argument) IsStructured() bool {
	return a.fields != nil
}

// IsEmpty reports whether the argument carries no content.
func (a Argument) IsEmpty() bool {
	if a.fields != nil {
		return len(a.fields) == 0
	}
	return strings.TrimSpace(a.text) == ""
}

// Text returns the free-text form. Structured arguments render as canonical JSON.
func (a Argument) Text() string {
	if a.fields == nil {
		return a.text
	}
	data, err := json.Marshal(a.fields)
	if err != nil {
		return ""
	}
	return string(data)
}

// Fields returns a deep copy of the structured payload, or nil for text arguments.
func (a Argument) Fields() map[string]any {
	if a.fields == nil {
		return nil
	}
	return cloneFields(a.fields)
}

// Get returns a copy of a structured field.
func (a Argument) Get(key string) (any, bool) {
	if a.fields == nil {
		return nil, false
	}
	v, ok := a.fields[key]
	return cloneValue(v), ok
}

// String returns a structured field as a string, or "" when absent or not a string.
func (a Argument) String(key string) string {
	v, ok := a.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Key returns the canonical form used for equality and cache lookups.
// encoding/json sorts map keys, so equal maps produce equal keys.
func (a Argument) Key() string {
	if a.fields != nil {
		return "m:" + a.Text()
	}
	return "t:" + a.text
}

// Equal reports whether two arguments have the same canonical form.
func (a Argument) Equal(b Argument) bool {
	return a.Key() == b.Key()
}

// MarshalJSON encodes text as a JSON string and fields as a JSON object.
func (a Argument) MarshalJSON() ([]byte, error) {
	if a.fields != nil {
		return json.Marshal(a.fields)
	}
	return json.Marshal(a.text)
}

// UnmarshalJSON accepts a JSON string, object or any other value.
func (a *Argument) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = ArgumentOf(v)
	return nil
}

// MarshalYAML encodes the argument for YAML plans.
func (a Argument) MarshalYAML() (any, error) {
	if a.fields != nil {
		return a.fields, nil
	}
	return a.text, nil
}

// UnmarshalYAML decodes a scalar or mapping node.
func (a *Argument) UnmarshalYAML(unmarshal func(any) error) error {
	var v any
	if err := unmarshal(&v); err != nil {
		return err
	}
	*a = ArgumentOf(normalizeYAML(v))
	return nil
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the maps and slices of a decoded JSON value.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// normalizeYAML turns map[any]any trees into map[string]any so they encode as JSON.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			ks, ok := k.(string)
			if !ok {
				data, _ := json.Marshal(k)
				ks = string(data)
			}
			out[ks] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
