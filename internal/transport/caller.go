// Package transport turns the sandbox's one-shot exec primitive into a
// typed call interface. Each call serializes a request envelope, pays for
// one sandbox exec of the relay, and parses the response envelope the
// relay printed.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/outpost-run/outpost/internal/sandbox"
	"github.com/outpost-run/outpost/internal/wire"
)

// DefaultCallTimeout bounds one full round trip through the sandbox exec
// primitive. It is deliberately distinct from any wait inside the sandbox:
// a kill call's grace period runs on the agent's clock, this one on the
// host's, guarding against a wedged sandbox.
const DefaultCallTimeout = 30 * time.Second

// DefaultRelayPath is where sandbox images install the relay binary.
const DefaultRelayPath = "/usr/local/bin/outpost-relay"

// TransportError reports a failure of the channel itself: the exec
// primitive failed or timed out, or its output was not a response envelope.
// It is distinct from application errors returned by the agent, so callers
// can tell an unusable sandbox from a clean in-sandbox failure.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport %s: timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Caller struct {
	runner  sandbox.Runner
	relay   []string
	timeout time.Duration
	logger  *log.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithRelayCommand overrides the in-sandbox relay invocation.
func WithRelayCommand(argv []string) Option {
	return func(c *Caller) {
		if len(argv) > 0 {
			c.relay = argv
		}
	}
}

// WithCallTimeout overrides the per-call round-trip timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(logger *log.Logger, runner sandbox.Runner, opts ...Option) *Caller {
	c := &Caller{
		runner:  runner,
		relay:   []string{DefaultRelayPath},
		timeout: DefaultCallTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one request/response round trip. Agent-reported failures
// come back as *wire.Error; channel failures as *TransportError.
func (c *Caller) Call(ctx context.Context, method string, params any, result any) error {
	id := wire.NewRequestID()
	req, err := wire.NewRequest(id, method, params)
	if err != nil {
		return err
	}

	var payload bytes.Buffer
	if err := wire.EncodeRequest(&payload, req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("calling sandbox", "method", method, "id", id)
	execResult, err := c.runner.Exec(ctx, sandbox.Spec{Command: c.relay, Stdin: &payload})
	if err != nil {
		return &TransportError{
			Op:      method,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}

	res, err := wire.DecodeResponse(bytes.NewReader(execResult.Stdout))
	if err != nil {
		detail := strings.TrimSpace(string(execResult.Stderr))
		if detail != "" {
			err = fmt.Errorf("%w (relay stderr: %s)", err, detail)
		}
		return &TransportError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if res.ID != id {
		return &TransportError{Op: method, Err: fmt.Errorf("response id %q does not match request id %q", res.ID, id)}
	}
	if res.Error != nil {
		return res.Error
	}

	if result != nil {
		if err := json.Unmarshal(res.Result, result); err != nil {
			return &TransportError{Op: method, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// StartRemote launches a supervised process in the sandbox and returns its
// pid, the sole handle for a later kill.
func (c *Caller) StartRemote(ctx context.Context, command string, env map[string]string) (int, error) {
	var result wire.StartResult
	err := c.Call(ctx, wire.MethodStart, wire.StartParams{Command: command, Env: env}, &result)
	if err != nil {
		return 0, err
	}
	return result.Pid, nil
}

// KillRemote terminates the process group behind pid and returns the output
// it accumulated.
func (c *Caller) KillRemote(ctx context.Context, pid int) (wire.KillResult, error) {
	var result wire.KillResult
	err := c.Call(ctx, wire.MethodKill, wire.KillParams{Pid: pid}, &result)
	if err != nil {
		return wire.KillResult{}, err
	}
	return result, nil
}
