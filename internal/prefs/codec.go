package prefs

import (
	"encoding/json"
	"fmt"
)

// encode renders v as the JSON text persisted in the store.
func encode(kind Kind, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding %s value: %w", kind, err)
	}
	return string(b), nil
}

// decode parses stored JSON text, requiring the stored kind to match.
func decode(want Kind, storedKind, raw string) (any, error) {
	if Kind(storedKind) != want {
		return nil, fmt.Errorf("stored kind %q, want %q", storedKind, want)
	}

	var err error
	switch want {
	case KindBool:
		var b bool
		err = json.Unmarshal([]byte(raw), &b)
		return b, err
	case KindInt:
		var n int
		err = json.Unmarshal([]byte(raw), &n)
		return n, err
	case KindString:
		var s string
		err = json.Unmarshal([]byte(raw), &s)
		return s, err
	case KindMap:
		var m map[string]string
		if err = json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]string{}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", want)
	}
}
