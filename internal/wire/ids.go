package wire

import (
	"fmt"
	"strings"
	"time"

	"go.jetify.com/typeid"
)

var generateTypeID = func(prefix string) (string, error) {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRequestID returns a fresh correlation id for a request envelope.
func NewRequestID() ID {
	id, err := generateTypeID("req")
	if err == nil && strings.TrimSpace(id) != "" {
		return StringID(id)
	}

	return StringID(fmt.Sprintf("req-%d", time.Now().UTC().UnixNano()))
}
