// Package sandbox wraps the one capability the host has against a sandbox:
// run a command to completion with given input bytes and collect its output
// and exit status. Everything above this package is built out of that single
// primitive.
package sandbox

import (
	"context"
	"io"
)

// Spec describes one command invocation inside the sandbox.
type Spec struct {
	Command []string
	Stdin   io.Reader
}

// Result is the completed invocation's output.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes a command inside a sandbox. Implementations must honor
// ctx cancellation: a wedged sandbox must not hang the caller forever.
type Runner interface {
	Exec(ctx context.Context, spec Spec) (Result, error)
}
