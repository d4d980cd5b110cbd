// Package endpoint resolves the address of the in-sandbox agent socket.
// Inside a container sandbox this is a unix socket at a well-known path;
// inside a microVM sandbox it can be a vsock port.
package endpoint

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Endpoint struct {
	Scheme  string // "unix" or "vsock"
	Address string // socket path for unix
	Port    uint32 // port for vsock
}

// DefaultSocketPath is the well-known agent socket path inside a sandbox.
const DefaultSocketPath = "/run/outpost/agent.sock"

// EnvVar overrides the endpoint for both the agent and the relay, so a
// sandbox image can relocate the socket without rebuilding either binary.
const EnvVar = "OUTPOST_AGENT_SOCKET"

func Default() Endpoint {
	return Endpoint{Scheme: "unix", Address: DefaultSocketPath}
}

// Resolve parses an endpoint string. Supported forms:
// - unix:///path/to/agent.sock
// - absolute unix socket path
// - vsock://<port>
// Empty input falls back to $OUTPOST_AGENT_SOCKET, then the default path.
func Resolve(raw string) (Endpoint, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		value = strings.TrimSpace(os.Getenv(EnvVar))
	}
	if value == "" {
		return Default(), nil
	}

	switch {
	case strings.HasPrefix(value, "unix://"):
		path := strings.TrimPrefix(value, "unix://")
		if path == "" {
			return Endpoint{}, fmt.Errorf("invalid unix endpoint %q", value)
		}
		return Endpoint{Scheme: "unix", Address: path}, nil
	case strings.HasPrefix(value, "vsock://"):
		rawPort := strings.TrimPrefix(value, "vsock://")
		port, err := strconv.ParseUint(rawPort, 10, 32)
		if err != nil || port == 0 {
			return Endpoint{}, fmt.Errorf("invalid vsock endpoint %q", value)
		}
		return Endpoint{Scheme: "vsock", Port: uint32(port)}, nil
	case strings.HasPrefix(value, "/"):
		return Endpoint{Scheme: "unix", Address: value}, nil
	default:
		return Endpoint{}, fmt.Errorf("unsupported endpoint %q (expected unix://, vsock://, or absolute socket path)", value)
	}
}

func (e Endpoint) String() string {
	if e.Scheme == "vsock" {
		return fmt.Sprintf("vsock://%d", e.Port)
	}
	return "unix://" + e.Address
}
