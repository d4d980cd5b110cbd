package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultGracePeriod is how long a process group gets to react to the
	// graceful signal before the forceful one is sent.
	DefaultGracePeriod = 5 * time.Second

	// DefaultForceWait bounds the wait after the forceful signal. SIGKILL
	// cannot be blocked, so expiry here means kernel-level pathology
	// (typically a process stuck in uninterruptible sleep).
	DefaultForceWait = 60 * time.Second
)

// Signal selects which group signal to deliver.
type Signal int

const (
	SignalGraceful Signal = iota
	SignalForce
)

// procStarter abstracts the OS process-group primitives so the escalation
// algorithm stays portable across process models.
type procStarter interface {
	startGroup(argv []string, env []string, stdout, stderr io.Writer) (groupProc, error)
}

// groupProc is one spawned process group.
type groupProc interface {
	pid() int
	signalGroup(sig Signal) error
	wait() <-chan error
}

// Registry tracks every supervised subprocess by pid. Map access is guarded
// by a registry-level mutex held only for lookup/insert/remove; operations
// against one job serialize on the job's own mutex so independent jobs never
// block each other.
type Registry struct {
	logger    *log.Logger
	starter   procStarter
	grace     time.Duration
	forceWait time.Duration

	mu   sync.Mutex
	jobs map[int]*Job
}

// Option configures a Registry.
type Option func(*Registry)

// WithGracePeriod overrides the graceful-signal wait.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithForceWait overrides the bounded wait after the forceful signal.
func WithForceWait(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.forceWait = d
		}
	}
}

func withStarter(s procStarter) Option {
	return func(r *Registry) { r.starter = s }
}

func NewRegistry(logger *log.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:    logger,
		starter:   defaultStarter(),
		grace:     DefaultGracePeriod,
		forceWait: DefaultForceWait,
		jobs:      map[int]*Job{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start spawns command as a new process group and registers the job. It
// returns the group leader's pid as soon as the process is launched; it
// does not wait for exit.
func (r *Registry) Start(command string, env map[string]string) (int, error) {
	argv, err := buildArgv(command)
	if err != nil {
		return 0, err
	}

	job := &Job{state: StateStarting, stdout: &captureBuffer{}, stderr: &captureBuffer{}}
	proc, err := r.starter.startGroup(argv, mergeEnv(env), job.stdout, job.stderr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawn, argv[0], err)
	}

	job.proc = proc
	job.pid = proc.pid()
	job.state = StateRunning

	r.mu.Lock()
	if _, exists := r.jobs[job.pid]; exists {
		r.mu.Unlock()
		// A retained exited job still holds this pid. The kernel has
		// recycled it, so the stale record can only mislead.
		r.logger.Error("pid collision with retained job", "pid", job.pid)
		return 0, fmt.Errorf("pid %d already registered", job.pid)
	}
	r.jobs[job.pid] = job
	r.mu.Unlock()

	go r.reap(job)

	r.logger.Info("job started", "pid", job.pid, "command", command)
	return job.pid, nil
}

// reap observes the process exiting on its own and flips the job to Exited.
// The record stays registered so one later Kill call can still collect the
// buffered output.
func (r *Registry) reap(job *Job) {
	<-job.proc.wait()

	job.mu.Lock()
	if job.state != StateExited {
		job.state = StateExited
		r.logger.Info("job exited", "pid", job.pid)
	}
	job.mu.Unlock()
}

// Kill terminates the job's entire process group and returns its buffered
// output. Escalation: graceful signal, wait up to the grace period, then
// forceful signal and a bounded wait. An unknown pid is an error, never a
// no-op. A job that already exited on its own yields its output directly.
func (r *Registry) Kill(ctx context.Context, pid int) (Output, error) {
	r.mu.Lock()
	job, ok := r.jobs[pid]
	r.mu.Unlock()
	if !ok {
		return Output{}, fmt.Errorf("%w: %d", ErrUnknownPid, pid)
	}

	job.mu.Lock()
	defer job.mu.Unlock()

	// A concurrent Kill may have collected and removed the job while we
	// waited for its mutex.
	if job.collected {
		return Output{}, fmt.Errorf("%w: %d", ErrUnknownPid, pid)
	}

	if job.state == StateExited {
		return r.collectLocked(job), nil
	}

	job.state = StateTerminating
	r.logger.Info("terminating job", "pid", pid, "grace", r.grace)

	if err := job.proc.signalGroup(SignalGraceful); err != nil {
		return Output{}, fmt.Errorf("signal process group %d: %w", pid, err)
	}

	graceTimer := time.NewTimer(r.grace)
	defer graceTimer.Stop()
	select {
	case <-job.proc.wait():
	case <-ctx.Done():
		return Output{}, ctx.Err()
	case <-graceTimer.C:
		r.logger.Warn("grace period elapsed, escalating", "pid", pid)
		if err := job.proc.signalGroup(SignalForce); err != nil {
			return Output{}, fmt.Errorf("force-kill process group %d: %w", pid, err)
		}
		forceTimer := time.NewTimer(r.forceWait)
		defer forceTimer.Stop()
		select {
		case <-job.proc.wait():
		case <-forceTimer.C:
			r.logger.Error("process survived forceful kill; giving up",
				"pid", pid, "waited", r.forceWait)
			return Output{}, fmt.Errorf("%w: pid %d", ErrKillTimeout, pid)
		}
	}

	job.state = StateExited
	out := r.collectLocked(job)
	r.logger.Info("job terminated", "pid", pid,
		"stdout_bytes", len(out.Stdout), "stderr_bytes", len(out.Stderr))
	return out, nil
}

// collectLocked drains the job's buffers and discards the record. Caller
// holds job.mu.
func (r *Registry) collectLocked(job *Job) Output {
	out := job.output()
	job.collected = true

	r.mu.Lock()
	delete(r.jobs, job.pid)
	r.mu.Unlock()
	return out
}

// State reports the lifecycle state of a registered job.
func (r *Registry) State(pid int) (State, bool) {
	r.mu.Lock()
	job, ok := r.jobs[pid]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	return job.State(), true
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// mergeEnv layers request-provided variables over the agent's own
// environment, with baseline defaults so bare sandboxes still resolve
// executables.
func mergeEnv(overrides map[string]string) []string {
	base := map[string]string{}
	for _, entry := range os.Environ() {
		key, value, _ := strings.Cut(entry, "=")
		base[key] = value
	}
	for key, value := range overrides {
		base[key] = value
	}

	if strings.TrimSpace(base["PATH"]) == "" {
		base["PATH"] = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	if strings.TrimSpace(base["HOME"]) == "" {
		base["HOME"] = "/root"
	}

	out := make([]string, 0, len(base))
	for key, value := range base {
		out = append(out, key+"="+value)
	}
	return out
}

// buildArgv turns the request's command string into an argv. Commands with
// shell syntax run under /bin/sh -c; plain commands exec directly so launch
// failures (missing executable, permission denied) surface from Start.
func buildArgv(command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}
	if strings.ContainsAny(command, "|&;<>()$`\\\"'*?[]#~%") {
		return []string{"/bin/sh", "-c", command}, nil
	}
	return strings.Fields(command), nil
}
