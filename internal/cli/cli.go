// Package cli implements the outpost host CLI: start a supervised process
// in a sandbox, kill it and collect its output, or do both around a signal
// wait with `run`.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/outpost-run/outpost/client"
	"github.com/outpost-run/outpost/internal/runstore"
	"github.com/outpost-run/outpost/internal/runtimeconfig"
	"github.com/outpost-run/outpost/internal/sandbox"
	"github.com/outpost-run/outpost/internal/transport"
)

type runtimeContext struct {
	Stdout     *os.File
	Config     runtimeconfig.Config
	ConfigPath string
}

type CLI struct {
	Start   StartCommand     `cmd:"" help:"Start a supervised process in the sandbox and print its pid"`
	Kill    KillCommand      `cmd:"" help:"Kill a supervised process and print its buffered output"`
	Run     RunCommand       `cmd:"" help:"Start a process, wait for an interrupt, then kill it and print its output"`
	History HistoryCommand   `cmd:"" help:"List recorded runs"`
	Version kong.VersionFlag `help:"Print version and exit"`
}

type RunnerFlags struct {
	Runner    string `help:"Sandbox runner (docker|podman|local); overrides config"`
	Container string `help:"Target container for docker/podman runners; overrides config"`
	Relay     string `help:"In-sandbox path of the relay binary; overrides config"`
	LogLevel  string `help:"Log level (debug|info|warn|error)"`
}

type StartCommand struct {
	RunnerFlags
	Env     []string `short:"e" help:"Environment for the remote process (KEY=VALUE, repeatable)"`
	Command []string `arg:"" passthrough:"" required:"" help:"Command to run in the sandbox"`
}

type KillCommand struct {
	RunnerFlags
	Pid int `arg:"" required:"" help:"Pid returned by start"`
}

type RunCommand struct {
	RunnerFlags
	Env     []string `short:"e" help:"Environment for the remote process (KEY=VALUE, repeatable)"`
	Command []string `arg:"" passthrough:"" required:"" help:"Command to run in the sandbox"`
}

type HistoryCommand struct {
	Limit int `default:"20" help:"Maximum number of runs to list"`
}

type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("command failed with exit code %d", e.code)
}

func (e exitCodeError) ExitCode() int {
	return e.code
}

type hasExitCode interface {
	ExitCode() int
}

var (
	newSignalChannel = func() chan os.Signal {
		return make(chan os.Signal, 2)
	}
	notifySignals = func(ch chan os.Signal, sig ...os.Signal) {
		signal.Notify(ch, sig...)
	}
	stopSignals = func(ch chan os.Signal) {
		signal.Stop(ch)
	}
)

func Run(args []string, version string) error {
	cfg, cfgPath, err := runtimeconfig.Load()
	if err != nil {
		return err
	}

	runtimeCtx := &runtimeContext{
		Stdout:     os.Stdout,
		Config:     cfg,
		ConfigPath: cfgPath,
	}

	cli := CLI{}
	parser, err := kong.New(
		&cli,
		kong.Name("outpost"),
		kong.Description("Supervise background processes inside a sandbox"),
		kong.Vars{"version": version},
	)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	return ctx.Run(runtimeCtx)
}

func ExitCode(err error) int {
	var codeErr hasExitCode
	if errors.As(err, &codeErr) {
		return codeErr.ExitCode()
	}
	return 1
}

// applyFlags folds command-line overrides into the loaded config.
func applyFlags(cfg runtimeconfig.Config, f RunnerFlags) runtimeconfig.Config {
	if v := strings.TrimSpace(f.Runner); v != "" {
		cfg.Runner = v
	}
	if v := strings.TrimSpace(f.Container); v != "" {
		cfg.Container = v
	}
	if v := strings.TrimSpace(f.Relay); v != "" {
		cfg.RelayPath = v
	}
	return cfg
}

func buildRunner(cfg runtimeconfig.Config) (sandbox.Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Runner {
	case "docker", "podman":
		return sandbox.NewCLIRunner(cfg.Runner, cfg.Container)
	case "local":
		return sandbox.LocalRunner{}, nil
	default:
		return nil, fmt.Errorf("unknown runner %q", cfg.Runner)
	}
}

func relayCommand(cfg runtimeconfig.Config) []string {
	cmd := []string{cfg.RelayPath}
	if cfg.AgentSocket != "" {
		cmd = append(cmd, cfg.AgentSocket)
	}
	return cmd
}

// callBudget bounds one host-side call round trip. A kill legitimately
// blocks for the agent's full grace period before the forceful signal, so
// the outer timeout has to exceed it.
func callBudget(cfg runtimeconfig.Config) time.Duration {
	return cfg.CallTimeout() + cfg.GracePeriod()
}

func buildClient(cfg runtimeconfig.Config, logger *log.Logger, withHistory bool) (*client.Client, error) {
	runner, err := buildRunner(cfg)
	if err != nil {
		return nil, err
	}
	caller := transport.New(logger, runner,
		transport.WithRelayCommand(relayCommand(cfg)),
		transport.WithCallTimeout(callBudget(cfg)),
	)

	opts := []client.Option{}
	if withHistory {
		store, err := runstore.New(runstore.Options{DBPath: cfg.HistoryDB})
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		opts = append(opts, client.WithRunStore(store))
	}
	return client.New(logger, caller, opts...), nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --env %q (expected KEY=VALUE)", pair)
		}
		env[key] = value
	}
	return env, nil
}

func (s *StartCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(s.LogLevel, "cli")
	if err != nil {
		return err
	}
	cfg := applyFlags(ctx.Config, s.RunnerFlags)
	c, err := buildClient(cfg, logger, false)
	if err != nil {
		return err
	}
	env, err := parseEnv(s.Env)
	if err != nil {
		return err
	}

	p, err := c.Start(context.Background(), strings.Join(s.Command, " "), env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.Stdout, "%d\n", p.PID())
	return err
}

func (k *KillCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(k.LogLevel, "cli")
	if err != nil {
		return err
	}
	cfg := applyFlags(ctx.Config, k.RunnerFlags)
	runner, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	caller := transport.New(logger, runner,
		transport.WithRelayCommand(relayCommand(cfg)),
		transport.WithCallTimeout(callBudget(cfg)),
	)

	res, err := caller.KillRemote(context.Background(), k.Pid)
	if err != nil {
		return err
	}
	if res.Stdout != "" {
		if _, err := fmt.Fprint(ctx.Stdout, res.Stdout); err != nil {
			return err
		}
	}
	if res.Stderr != "" {
		if _, err := fmt.Fprint(os.Stderr, res.Stderr); err != nil {
			return err
		}
	}
	return nil
}

func (r *RunCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(r.LogLevel, "cli")
	if err != nil {
		return err
	}
	cfg := applyFlags(ctx.Config, r.RunnerFlags)
	c, err := buildClient(cfg, logger, true)
	if err != nil {
		return err
	}
	env, err := parseEnv(r.Env)
	if err != nil {
		return err
	}

	p, err := c.Start(context.Background(), strings.Join(r.Command, " "), env)
	if err != nil {
		return err
	}
	logger.Info("process running, press Ctrl-C to stop", "pid", p.PID())

	signalCh := newSignalChannel()
	notifySignals(signalCh, os.Interrupt, syscall.SIGTERM)
	defer stopSignals(signalCh)
	<-signalCh

	out, err := p.Cleanup(context.Background())
	if err != nil && !client.IsAlreadyGone(err) {
		return err
	}
	if out.Stdout != "" {
		if _, err := fmt.Fprint(ctx.Stdout, out.Stdout); err != nil {
			return err
		}
	}
	if out.Stderr != "" {
		if _, err := fmt.Fprint(os.Stderr, out.Stderr); err != nil {
			return err
		}
	}
	return nil
}

func (h *HistoryCommand) Run(ctx *runtimeContext) error {
	store, err := runstore.New(runstore.Options{DBPath: ctx.Config.HistoryDB})
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	recs, err := store.List(context.Background(), h.Limit)
	if err != nil {
		return err
	}
	return renderHistory(ctx.Stdout, recs)
}
