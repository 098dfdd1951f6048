package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/orangebricks/autodash/internal/logbuf"
)

// killGrace bounds how long Stop waits for the exit goroutine after SIGKILL.
const killGrace = 5 * time.Second

// outputWaitDelay bounds how long Wait keeps copying output after the child
// exits, in case a grandchild still holds the pipe open.
const outputWaitDelay = 2 * time.Second

// NativeDriver manages a native (fork/exec) process.
type NativeDriver struct {
	args       []string
	env        []string
	workingDir string

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	buf       *logbuf.Ring
	done      chan struct{}
}

// NativeConfig holds configuration for a native process.
type NativeConfig struct {
	Args       []string // executable followed by its arguments
	Env        []string // nil inherits the parent environment
	WorkingDir string
	BufSize    int // log ring buffer size (lines), 0 for default
}

// NewNative creates a new native process driver.
func NewNative(cfg NativeConfig) *NativeDriver {
	return &NativeDriver{
		args:       cfg.Args,
		env:        cfg.Env,
		workingDir: cfg.WorkingDir,
		state:      StateStopped,
		buf:        newRing(cfg.BufSize),
	}
}

func (d *NativeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning || d.state == StateStarting || d.state == StateStopping {
		return fmt.Errorf("process already running")
	}
	if d.done != nil {
		return fmt.Errorf("driver already used; create a new one to respawn")
	}
	if len(d.args) == 0 {
		return fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Not CommandContext: the child must outlive the request that started it.
	d.cmd = exec.Command(d.args[0], d.args[1:]...)
	d.cmd.Env = d.env
	if d.workingDir != "" {
		d.cmd.Dir = d.workingDir
	}

	// Capture stdout and stderr into the ring buffer
	d.cmd.Stdout = d.buf
	d.cmd.Stderr = d.buf
	d.cmd.WaitDelay = outputWaitDelay

	// Set process group so we can signal the whole tree
	d.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	d.state = StateStarting

	if err := d.cmd.Start(); err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		d.buf.Close()
		return fmt.Errorf("starting process: %w", err)
	}

	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})

	// Wait for process exit in background
	go d.wait(d.cmd, d.done)

	return nil
}

func (d *NativeDriver) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	d.buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopping {
		// Expected shutdown
		d.state = StateStopped
	} else {
		d.state = StateFailed
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			d.exitCode = exitErr.ExitCode()
		}
		d.exitErr = err.Error()
	} else {
		d.exitCode = 0
	}

	close(done)
}

// Terminate sends SIGTERM to the process group and returns immediately.
func (d *NativeDriver) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateRunning {
		return nil
	}
	d.state = StateStopping
	if err := unix.Kill(-d.cmd.Process.Pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signalling process group %d: %w", d.cmd.Process.Pid, err)
	}
	return nil
}

func (d *NativeDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()

	if d.state != StateRunning && d.state != StateStopping {
		d.mu.Unlock()
		return nil
	}

	d.state = StateStopping
	pid := d.cmd.Process.Pid
	done := d.done
	d.mu.Unlock()

	// Send SIGTERM to the process group
	_ = unix.Kill(-pid, unix.SIGTERM)

	// Wait for exit or timeout
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		// Force kill the process group
		_ = unix.Kill(-pid, unix.SIGKILL)
		return waitDone(done)
	case <-ctx.Done():
		_ = unix.Kill(-pid, unix.SIGKILL)
		if err := waitDone(done); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func waitDone(done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("process did not exit %s after SIGKILL", killGrace)
	}
}

func (d *NativeDriver) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return running(d.done)
}

func (d *NativeDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}

	if d.cmd != nil && d.cmd.Process != nil {
		info.PID = d.cmd.Process.Pid
	}

	return info
}

func (d *NativeDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done == nil {
		return -1, fmt.Errorf("process not started")
	}
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}

func (d *NativeDriver) Output() *logbuf.Ring {
	return d.buf
}
