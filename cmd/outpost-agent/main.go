//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mdlayher/vsock"

	"github.com/outpost-run/outpost/internal/agentserver"
	"github.com/outpost-run/outpost/internal/endpoint"
	"github.com/outpost-run/outpost/internal/jobs"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.InfoLevel,
		Formatter:       log.LogfmtFormatter,
		ReportTimestamp: true,
	}).With("component", "agent")

	raw := ""
	if len(os.Args) > 1 {
		raw = os.Args[1]
	}
	ep, err := endpoint.Resolve(raw)
	if err != nil {
		logger.Error("invalid endpoint", "error", err)
		os.Exit(2)
	}

	grace := jobs.DefaultGracePeriod
	if rawGrace := os.Getenv("OUTPOST_GRACE_SECONDS"); rawGrace != "" {
		seconds, err := strconv.ParseInt(rawGrace, 10, 64)
		if err != nil || seconds <= 0 {
			logger.Error("invalid OUTPOST_GRACE_SECONDS", "value", rawGrace)
			os.Exit(2)
		}
		grace = time.Duration(seconds) * time.Second
	}

	lis, err := listen(ep)
	if err != nil {
		logger.Error("listen failed", "endpoint", ep.String(), "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := jobs.NewRegistry(logger, jobs.WithGracePeriod(grace))
	server := agentserver.New(logger, registry)

	logger.Info("agent starting", "endpoint", ep.String(), "grace", grace)
	if err := server.Serve(ctx, lis); err != nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
	if ep.Scheme == "unix" {
		_ = os.Remove(ep.Address)
	}
}

func listen(ep endpoint.Endpoint) (net.Listener, error) {
	switch ep.Scheme {
	case "unix":
		if err := os.MkdirAll(filepath.Dir(ep.Address), 0o755); err != nil {
			return nil, fmt.Errorf("create socket directory: %w", err)
		}
		// A previous agent may have left a stale socket behind.
		if err := os.Remove(ep.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		return net.Listen("unix", ep.Address)
	case "vsock":
		return vsock.Listen(ep.Port, nil)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", ep.Scheme)
	}
}
