package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RouteEntry maps a model pattern (exact id or wildcard with `*`) to a
// route target (`providerId:modelId`, bare model id, or `providerId:*`).
type RouteEntry struct {
	Pattern string
	Target  string
}

// RouteMap is an order-preserving model-route table. It marshals to a JSON
// object whose key order is the entry order; unmarshaling walks the token
// stream so document order survives the round trip. Wildcard tie-breaking
// depends on that order.
type RouteMap []RouteEntry

// Get returns the target for an exact pattern match.
func (m RouteMap) Get(pattern string) (string, bool) {
	for _, e := range m {
		if e.Pattern == pattern {
			return e.Target, true
		}
	}
	return "", false
}

// Set replaces the target for pattern, appending when absent.
func (m *RouteMap) Set(pattern, target string) {
	for i := range *m {
		if (*m)[i].Pattern == pattern {
			(*m)[i].Target = target
			return
		}
	}
	*m = append(*m, RouteEntry{Pattern: pattern, Target: target})
}

// MarshalJSON emits an object with keys in entry order.
func (m RouteMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Pattern)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Target)
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

// UnmarshalJSON decodes an object preserving key order.
func (m *RouteMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("modelRoutes: expected object, got %v", tok)
	}

	out := RouteMap{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("modelRoutes: non-string key %v", keyTok)
		}
		var target string
		if err := dec.Decode(&target); err != nil {
			return fmt.Errorf("modelRoutes[%q]: %w", key, err)
		}
		out = append(out, RouteEntry{Pattern: key, Target: target})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
