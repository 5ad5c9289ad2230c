package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is an opaque JSON document (artifacts, context, feedback,
// checklist). The core persists and forwards it verbatim and only reads the
// few documented fields it needs.
type Payload json.RawMessage

// NewPayload encodes v as a Payload.
func NewPayload(v any) (Payload, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return normalize(data), nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return Invalid("payload is not valid JSON")
	}
	*p = normalize(data)
	return nil
}

// IsZero reports whether the payload is absent or JSON null.
func (p Payload) IsZero() bool {
	return len(p) == 0
}

// ValidateObject accepts an absent payload or a JSON object.
func (p Payload) ValidateObject(name string) error {
	if p.IsZero() {
		return nil
	}
	if p[0] != '{' {
		return Invalid("%s must be a JSON object", name)
	}
	return nil
}

// Object decodes the payload into a generic map. An absent payload yields an
// empty map.
func (p Payload) Object() (map[string]any, error) {
	out := map[string]any{}
	if p.IsZero() {
		return out, nil
	}
	if err := json.Unmarshal(p, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// String returns the named top-level field when it is a JSON string.
func (p Payload) String(field string) string {
	obj, err := p.Object()
	if err != nil {
		return ""
	}
	s, _ := obj[field].(string)
	return s
}

// Keys lists the top-level field names of an object payload.
func (p Payload) Keys() []string {
	obj, err := p.Object()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	return keys
}

func normalize(data []byte) Payload {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return Payload(out)
}
