package client

import (
	"context"
	"errors"

	"github.com/outpost-run/outpost/internal/transport"
	"github.com/outpost-run/outpost/internal/wire"
)

// ErrorCode is a stable classifier for supervision errors.
type ErrorCode string

const (
	ErrorCodeUnknown          ErrorCode = "unknown"
	ErrorCodeCanceled         ErrorCode = "canceled"
	ErrorCodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	ErrorCodeInvalidRequest   ErrorCode = "invalid_request"
	ErrorCodeUnknownPid       ErrorCode = "unknown_pid"
	ErrorCodeSpawnFailure     ErrorCode = "spawn_failure"
	ErrorCodeAgentUnreachable ErrorCode = "agent_unreachable"
	ErrorCodeKillTimeout      ErrorCode = "kill_timeout"
	ErrorCodeTransportFailed  ErrorCode = "transport_failed"
	ErrorCodeAlreadyCleaned   ErrorCode = "already_cleaned"
)

// ErrCode classifies an error into a stable code.
//
// Agent-reported errors carry wire error codes and take precedence;
// transport failures (the exec primitive itself failed or timed out) are
// classified separately so callers can tell a dead sandbox apart from a
// clean application-level failure.
func ErrCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}
	if errors.Is(err, ErrAlreadyCleaned) {
		return ErrorCodeAlreadyCleaned
	}

	var wireErr *wire.Error
	if errors.As(err, &wireErr) {
		switch wireErr.Code {
		case wire.CodeUnknownPid:
			return ErrorCodeUnknownPid
		case wire.CodeSpawnFailure:
			return ErrorCodeSpawnFailure
		case wire.CodeAgentUnreachable:
			return ErrorCodeAgentUnreachable
		case wire.CodeKillTimeout:
			return ErrorCodeKillTimeout
		case wire.CodeInvalidRequest, wire.CodeInvalidParams, wire.CodeMethodNotFound, wire.CodeParseError:
			return ErrorCodeInvalidRequest
		default:
			return ErrorCodeUnknown
		}
	}

	var transportErr *transport.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Timeout {
			return ErrorCodeDeadlineExceeded
		}
		return ErrorCodeTransportFailed
	}

	if errors.Is(err, context.Canceled) {
		return ErrorCodeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeDeadlineExceeded
	}
	return ErrorCodeUnknown
}

// IsAlreadyGone reports whether a Cleanup error means the remote process no
// longer exists: either this handle already cleaned it, or the registry has
// no record of the pid. Callers treat both as "already cleaned up" rather
// than failure.
func IsAlreadyGone(err error) bool {
	switch ErrCode(err) {
	case ErrorCodeAlreadyCleaned, ErrorCodeUnknownPid:
		return true
	}
	return false
}

// Must returns the process handle if err is nil; otherwise it panics.
func Must(p *RemoteProcess, err error) *RemoteProcess {
	if err != nil {
		panic(err)
	}
	return p
}

// Supervise starts command, runs f with the live handle, and always cleans
// up afterwards, even when f fails. The returned Output is the process's
// buffered stdout/stderr; f's error takes precedence over a cleanup error.
func (c *Client) Supervise(ctx context.Context, command string, env map[string]string, f func(ctx context.Context, p *RemoteProcess) error) (Output, error) {
	p, err := c.Start(ctx, command, env)
	if err != nil {
		return Output{}, err
	}

	fErr := f(ctx, p)
	out, cleanupErr := p.Cleanup(ctx)
	if fErr != nil {
		return out, fErr
	}
	if cleanupErr != nil && !IsAlreadyGone(cleanupErr) {
		return out, cleanupErr
	}
	return out, nil
}
