package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLIRunner executes commands inside a running container by shelling out to
// a container engine (`docker exec -i` or `podman exec -i`).
type CLIRunner struct {
	Binary    string // engine binary, e.g. "docker" or "podman"
	Container string // target container name or id
}

func NewCLIRunner(binary, container string) (*CLIRunner, error) {
	binary = strings.TrimSpace(binary)
	container = strings.TrimSpace(container)
	if binary == "" {
		return nil, errors.New("container engine binary must not be empty")
	}
	if container == "" {
		return nil, errors.New("container name must not be empty")
	}
	return &CLIRunner{Binary: binary, Container: container}, nil
}

func (r *CLIRunner) Exec(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Command) == 0 {
		return Result{}, errors.New("missing command")
	}

	cmd := exec.CommandContext(ctx, r.Binary, r.execArgs(spec)...)
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, fmt.Errorf("%s exec failed: %w", r.Binary, err)
	}
	return result, nil
}

func (r *CLIRunner) execArgs(spec Spec) []string {
	args := []string{"exec"}
	if spec.Stdin != nil {
		args = append(args, "-i")
	}
	args = append(args, r.Container)
	return append(args, spec.Command...)
}
