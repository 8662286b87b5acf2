//go:build unix

package program

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// EventsFD is the descriptor number the child writes instrumentation
// events to. It is announced through EventsFDEnv.
const (
	EventsFD    = 3
	EventsFDEnv = "BELEX_DBG_EVENTS_FD"
)

// DefaultStopGrace is how long a cancelled child may take to exit after
// SIGTERM before the process group is killed.
const DefaultStopGrace = 2 * time.Second

// Command runs the observed program as a child process in its own process
// group. Its stdout and stderr go to the writers handed to Run; events it
// writes to fd 3 are decoded and passed to Emit.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the relay's own environment.
	Env       []string
	Emit      EmitFunc
	StopGrace time.Duration
	Logger    *slog.Logger
}

// Run starts the child and waits for it. Cancelling ctx sends SIGTERM to
// the child's process group, followed by SIGKILL after StopGrace.
func (c *Command) Run(ctx context.Context, stdout, stderr io.Writer) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := c.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	eventsRead, eventsWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating events pipe: %w", err)
	}
	defer eventsRead.Close()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env, EventsFDEnv+"="+strconv.Itoa(EventsFD))
	cmd.ExtraFiles = []*os.File{eventsWrite} // becomes fd 3 in child
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = grace
	killer := newGroupKiller(grace, unix.Kill)
	cmd.Cancel = func() error {
		return killer.terminate(cmd.Process.Pid)
	}

	if err := cmd.Start(); err != nil {
		eventsWrite.Close()
		return fmt.Errorf("starting %s: %w", c.Path, err)
	}
	// The child holds its own copy.
	eventsWrite.Close()
	logger.Debug("program started", "path", c.Path, "pid", cmd.Process.Pid)

	emit := c.Emit
	if emit == nil {
		emit = func(_ domain.Event) error { return nil }
	}
	decoded := make(chan error, 1)
	go func() {
		decoded <- DecodeEvents(eventsRead, emit, logger)
	}()

	waitErr := cmd.Wait()
	killer.reaped()

	// A grandchild may still hold fd 3 open.
	select {
	case err := <-decoded:
		if err != nil {
			logger.Debug("instrumentation stream ended", "error", err)
		}
	case <-time.After(grace):
		eventsRead.Close()
		<-decoded
		logger.Warn("instrumentation stream still open after program exit", "path", c.Path)
	}

	if waitErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("program stopped: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return fmt.Errorf("program exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("running %s: %w", c.Path, waitErr)
}

// groupKiller escalates SIGTERM to SIGKILL for a process group. Once the
// group leader is reaped its pid may be reused, so no signal is sent
// after reaped.
type groupKiller struct {
	group int
	grace time.Duration
	kill  func(pid int, sig syscall.Signal) error

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func newGroupKiller(grace time.Duration, kill func(int, syscall.Signal) error) *groupKiller {
	return &groupKiller{grace: grace, kill: kill}
}

// terminate sends SIGTERM to the group led by pid and arms the SIGKILL
// timer.
func (k *groupKiller) terminate(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.done {
		return nil
	}
	k.group = -pid
	if err := k.kill(k.group, unix.SIGTERM); err != nil {
		return k.kill(k.group, unix.SIGKILL)
	}
	if k.timer == nil {
		k.timer = time.AfterFunc(k.grace, k.forceKill)
	}
	return nil
}

func (k *groupKiller) forceKill() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.done {
		return
	}
	// The group may already be gone.
	_ = k.kill(k.group, unix.SIGKILL)
}

// reaped disarms the killer after Wait returned.
func (k *groupKiller) reaped() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.done = true
	if k.timer != nil {
		k.timer.Stop()
	}
}
