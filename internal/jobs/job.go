// Package jobs owns the sandbox-resident record of every supervised
// subprocess: spawning into a fresh process group, continuous output
// capture, and the graceful-then-forceful termination escalation.
package jobs

import (
	"bytes"
	"errors"
	"sync"
)

// State tracks a job through its lifecycle.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateTerminating
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownPid is returned by Kill for a pid with no registered job.
	// A kill for an already-collected job is the same error: the registry
	// retains an exited job only until one collection call has drained it.
	ErrUnknownPid = errors.New("no job registered for pid")

	// ErrEmptyCommand is returned by Start for a blank command string.
	ErrEmptyCommand = errors.New("command must not be empty")

	// ErrSpawn wraps launch failures (missing executable, permission denied).
	ErrSpawn = errors.New("spawn failed")

	// ErrKillTimeout reports escalation exhaustion: the forceful signal was
	// delivered but the process was never observed to exit.
	ErrKillTimeout = errors.New("process did not exit after forceful kill")
)

// Output holds the stdout/stderr accumulated by a job up to and including
// its termination.
type Output struct {
	Stdout string
	Stderr string
}

// Job is the registry's record of one supervised subprocess. Its mutex
// serializes kill attempts against the same pid; unrelated jobs share
// nothing but the registry map.
type Job struct {
	// pid doubles as the process-group id because every job is spawned
	// as a group leader.
	pid  int
	proc groupProc

	mu        sync.Mutex
	state     State
	collected bool

	stdout *captureBuffer
	stderr *captureBuffer
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) output() Output {
	return Output{Stdout: j.stdout.String(), Stderr: j.stderr.String()}
}

// captureBuffer is an io.Writer the process's pipe copiers write into while
// the job runs, so output survives a mid-write kill and a chatty process
// never blocks on a full OS pipe buffer.
type captureBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *captureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
