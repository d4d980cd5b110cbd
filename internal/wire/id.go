package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an envelope correlation id. The wire form may be a JSON string or a
// JSON number; the decoded value keeps the exact encoding so a response
// echoes back precisely the id the caller sent.
type ID struct {
	raw string
}

// StringID wraps a host-generated string id.
func StringID(s string) ID {
	b, err := json.Marshal(s)
	if err != nil {
		return ID{}
	}
	return ID{raw: string(b)}
}

// IsZero reports whether the envelope carried no id.
func (id ID) IsZero() bool { return id.raw == "" }

// String renders the id for logs and error messages; string ids come back
// unquoted, numeric ids as their digits.
func (id ID) String() string {
	var s string
	if err := json.Unmarshal([]byte(id.raw), &s); err == nil {
		return s
	}
	return id.raw
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.raw == "" {
		return []byte(`""`), nil
	}
	return []byte(id.raw), nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		id.raw = trimmed
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		id.raw = n.String()
		return nil
	}
	return fmt.Errorf("id must be a string or number, got %s", trimmed)
}
