//go:build unix

package jobs

import (
	"io"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// unixStarter spawns commands in a fresh process group so the whole tree
// can be signalled together.
type unixStarter struct{}

func defaultStarter() procStarter { return unixStarter{} }

func (unixStarter) startGroup(argv []string, env []string, stdout, stderr io.Writer) (groupProc, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// If a descendant inherits the output pipes and outlives the group
	// kill, don't let Wait block on them forever.
	cmd.WaitDelay = 3 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &unixGroup{cmd: cmd, done: make(chan error, 1)}
	go func() {
		proc.done <- cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

type unixGroup struct {
	cmd  *exec.Cmd
	done chan error
}

func (g *unixGroup) pid() int { return g.cmd.Process.Pid }

func (g *unixGroup) signalGroup(sig Signal) error {
	signum := unix.SIGTERM
	if sig == SignalForce {
		signum = unix.SIGKILL
	}
	// Negative pid addresses the whole process group.
	err := unix.Kill(-g.cmd.Process.Pid, signum)
	if err == unix.ESRCH {
		// Group already gone; the reaper will observe the exit.
		return nil
	}
	return err
}

func (g *unixGroup) wait() <-chan error { return g.done }
