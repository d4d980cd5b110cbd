package client

import (
	"context"
	"errors"

	"github.com/outpost-run/outpost/internal/wire"
)

// Transport is the call surface the client needs: one round trip per
// method, executed through the sandbox's exec primitive.
type Transport interface {
	StartRemote(ctx context.Context, command string, env map[string]string) (int, error)
	KillRemote(ctx context.Context, pid int) (wire.KillResult, error)
}

// Output is the stdout/stderr a supervised process accumulated up to and
// including its termination.
type Output struct {
	Stdout string
	Stderr string
}

// ErrAlreadyCleaned is returned by Cleanup when the handle was already
// released by an earlier Cleanup call.
var ErrAlreadyCleaned = errors.New("remote process already cleaned up")
