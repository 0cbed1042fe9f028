package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PrimaryKey identifies one row. A key with a single field is scalar and
// serializes as its bare value; a composite key serializes as an object.
type PrimaryKey struct {
	Fields []string
	Values []any
}

// ScalarKey builds a single-field key.
func ScalarKey(field string, value any) PrimaryKey {
	return PrimaryKey{Fields: []string{field}, Values: []any{value}}
}

// CompositeKey builds a key from field/value pairs. Fields are stored sorted.
func CompositeKey(fields map[string]any) PrimaryKey {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	k := PrimaryKey{Fields: names, Values: make([]any, len(names))}
	for i, name := range names {
		k.Values[i] = fields[name]
	}
	return k
}

// IsComposite reports whether the key spans more than one field.
func (k PrimaryKey) IsComposite() bool {
	return len(k.Values) > 1
}

// Value returns the scalar value, or a field map for composite keys.
func (k PrimaryKey) Value() any {
	if !k.IsComposite() {
		if len(k.Values) == 0 {
			return nil
		}
		return k.Values[0]
	}
	return k.Map()
}

// Map returns the key as field -> value.
func (k PrimaryKey) Map() map[string]any {
	m := make(map[string]any, len(k.Fields))
	for i, f := range k.Fields {
		if i < len(k.Values) {
			m[f] = k.Values[i]
		}
	}
	return m
}

// String returns the canonical text form: the bare value for scalar keys,
// "field=value|field=value" in field order for composite keys.
func (k PrimaryKey) String() string {
	if !k.IsComposite() {
		if len(k.Values) == 0 {
			return ""
		}
		return fmt.Sprint(k.Values[0])
	}
	parts := make([]string, len(k.Values))
	for i, v := range k.Values {
		parts[i] = fmt.Sprintf("%s=%v", k.Fields[i], v)
	}
	return strings.Join(parts, "|")
}

// MarshalJSON implements json.Marshaler.
func (k PrimaryKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Value())
}

// UnmarshalJSON implements json.Unmarshaler. Objects decode as composite keys,
// anything else as a scalar key without a field name.
func (k *PrimaryKey) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]any
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return err
		}
		*k = CompositeKey(fields)
		return nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*k = PrimaryKey{Values: []any{v}}
	return nil
}
