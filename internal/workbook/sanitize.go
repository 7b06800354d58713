package workbook

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// stripNulls removes null members from objects and null elements from arrays
// at every depth. A null or empty response becomes nil.
func stripNulls(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	value = prune(value)
	if value == nil {
		return nil, nil
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

func prune(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if child == nil {
				delete(v, key)
				continue
			}
			v[key] = prune(child)
		}
		return v
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			if child == nil {
				continue
			}
			out = append(out, prune(child))
		}
		return out
	default:
		return v
	}
}
