package item

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Metadata is a string-to-string mapping that preserves insertion order,
// used for engine-supplied item attributes consumed by storename templating.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata returns an empty Metadata mapping.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

// Set inserts or updates a key. Updating keeps the key's original position.
func (m *Metadata) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key, or the empty string when absent.
func (m *Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m.values[key]
}

// Has reports whether key is present.
func (m *Metadata) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.values[key]
	return ok
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// MarshalJSON encodes the mapping as a JSON object, keys in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for n, key := range m.keys {
		if n > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of string values, preserving the
// document's key order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	m.keys = nil
	m.values = make(map[string]string)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("metadata: non-string key %v", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		val, ok := valTok.(string)
		if !ok {
			return fmt.Errorf("metadata: non-string value for key %q", key)
		}
		m.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
