package storage

import (
	"encoding/json"
	"fmt"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// marshalAttrs marshals an attribute map to JSONB. Nil and empty maps marshal
// to the empty object so NOT NULL DEFAULT '{}' columns stay uniform.
func marshalAttrs(attrs registry.Attributes) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}

	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	return data, nil
}

// unmarshalAttrs converts a JSONB column value back to an attribute map.
// NULL and empty payloads unmarshal to an empty, non-nil map.
func unmarshalAttrs(data []byte) (registry.Attributes, error) {
	attrs := make(registry.Attributes)
	if len(data) == 0 {
		return attrs, nil
	}

	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}

	return attrs, nil
}
