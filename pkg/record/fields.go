package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when decoding JSON that is not an object.
var ErrNotObject = errors.New("json value is not an object")

// Fields is an insertion-ordered string-keyed map. Analysis output has no
// fixed schema, so enriched records are carried as Fields rather than a
// struct. Key order is preserved through JSON round trips at the top level;
// nested objects decode into plain maps.
type Fields struct {
	keys   []string
	values map[string]any
}

// NewFields returns an empty field set.
func NewFields() *Fields {
	return &Fields{values: make(map[string]any)}
}

// Set stores a value. Overwriting an existing key keeps its position.
func (f *Fields) Set(key string, value any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (any, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.values[key]
	return v, ok
}

// String returns the value under key if it is a string, or "".
func (f *Fields) String(key string) string {
	v, _ := f.Get(key)
	s, _ := v.(string)
	return s
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.keys...)
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Clone returns a shallow copy. A nil receiver clones to an empty set.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	if f == nil {
		return out
	}
	out.keys = append(make([]string, 0, len(f.keys)), f.keys...)
	for k, v := range f.values {
		out.values[k] = v
	}
	return out
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order of its keys.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ErrNotObject
	}

	f.keys = nil
	f.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		f.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// ParseObject decodes data into a new field set.
func ParseObject(data []byte) (*Fields, error) {
	f := NewFields()
	if err := f.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return f, nil
}
