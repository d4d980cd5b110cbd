// Package client is the host-facing handle over a supervised sandbox
// process. Start spawns a command inside the sandbox and returns a
// RemoteProcess; Cleanup kills the whole remote process group, folds the
// buffered output into the handle, and only then cancels any host-side
// tasks coordinating with it.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.jetify.com/typeid"

	"github.com/outpost-run/outpost/internal/runstore"
)

type Client struct {
	logger    *log.Logger
	transport Transport
	store     *runstore.Store
	now       func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithRunStore enables run-history recording. Without it, Cleanup skips
// the history write.
func WithRunStore(store *runstore.Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(logger *log.Logger, transport Transport, opts ...Option) *Client {
	c := &Client{
		logger:    logger.With("component", "client"),
		transport: transport,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// RemoteProcess is the handle for one supervised remote process. It is
// owned by the caller that started it and is released by Cleanup; after a
// Cleanup returns (success or failure), every further Cleanup reports
// ErrAlreadyCleaned.
type RemoteProcess struct {
	client    *Client
	pid       int
	command   string
	runID     string
	startedAt time.Time

	taskCtx    context.Context
	cancelTask context.CancelFunc
	tasks      sync.WaitGroup

	mu      sync.Mutex
	cleaned bool
	output  Output
}

// Start spawns command inside the sandbox and returns a handle holding the
// remote pid. It does not wait for the process; the process runs unattended
// until Cleanup.
func (c *Client) Start(ctx context.Context, command string, env map[string]string) (*RemoteProcess, error) {
	if c == nil || c.transport == nil {
		return nil, errors.New("nil client")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("missing command")
	}

	pid, err := c.transport.StartRemote(ctx, command, env)
	if err != nil {
		return nil, fmt.Errorf("start remote process: %w", err)
	}

	// Coordinating tasks outlive the Start call's context: they run until
	// Cleanup confirms the remote process is dead.
	taskCtx, cancel := context.WithCancel(context.Background())
	p := &RemoteProcess{
		client:     c,
		pid:        pid,
		command:    command,
		runID:      newRunID(),
		startedAt:  c.now(),
		taskCtx:    taskCtx,
		cancelTask: cancel,
	}
	c.logger.Info("started remote process", "run_id", p.runID, "pid", pid)
	return p, nil
}

// PID returns the sandbox-side pid of the supervised process.
func (p *RemoteProcess) PID() int {
	return p.pid
}

// Go runs f as a host-side coordinating task tied to this handle. The
// context passed to f is cancelled only after a Cleanup kill call has
// returned, so f never loses its counterpart process while still running.
func (p *RemoteProcess) Go(f func(ctx context.Context)) {
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		f(p.taskCtx)
	}()
}

// Cleanup kills the remote process group, returns its buffered output, and
// then cancels the handle's coordinating tasks and waits for them to stop.
// The kill happens strictly before the cancellation so tasks are never torn
// down while the remote process may still be running.
func (p *RemoteProcess) Cleanup(ctx context.Context) (Output, error) {
	if p == nil || p.client == nil {
		return Output{}, errors.New("nil remote process")
	}

	p.mu.Lock()
	if p.cleaned {
		out := p.output
		p.mu.Unlock()
		return out, ErrAlreadyCleaned
	}
	p.cleaned = true
	p.mu.Unlock()

	res, killErr := p.client.transport.KillRemote(ctx, p.pid)

	// Kill-then-cancel: the transport call has returned, so the remote
	// side is either confirmed dead or confirmed unreachable. Only now do
	// host-side tasks get torn down.
	p.cancelTask()
	p.tasks.Wait()

	out := Output{Stdout: res.Stdout, Stderr: res.Stderr}
	p.mu.Lock()
	p.output = out
	p.mu.Unlock()

	p.client.record(ctx, p, out, killErr)

	if killErr != nil {
		return out, fmt.Errorf("kill remote process %d: %w", p.pid, killErr)
	}
	p.client.logger.Info("cleaned up remote process",
		"run_id", p.runID, "pid", p.pid,
		"stdout_bytes", len(out.Stdout), "stderr_bytes", len(out.Stderr))
	return out, nil
}

func (c *Client) record(ctx context.Context, p *RemoteProcess, out Output, killErr error) {
	if c.store == nil {
		return
	}
	outcome := runstore.OutcomeKilled
	if killErr != nil {
		outcome = runstore.OutcomeKillFailed
	}
	rec := runstore.Record{
		RunID:       p.runID,
		Pid:         p.pid,
		Command:     p.command,
		StartedAt:   p.startedAt,
		KilledAt:    c.now(),
		Outcome:     outcome,
		StdoutBytes: len(out.Stdout),
		StderrBytes: len(out.Stderr),
	}
	if err := c.store.Record(ctx, rec); err != nil {
		c.logger.Warn("failed to record run history", "run_id", p.runID, "error", err)
	}
}

func newRunID() string {
	id, err := typeid.WithPrefix("run")
	if err == nil && strings.TrimSpace(id.String()) != "" {
		return id.String()
	}
	return fmt.Sprintf("run-%d", time.Now().UTC().UnixNano())
}
