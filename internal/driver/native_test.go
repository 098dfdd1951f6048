package driver

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNativeStartAndWait(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"echo", "hello"},
	})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	info := d.Info()
	if info.PID <= 0 {
		t.Errorf("expected positive PID, got %d", info.PID)
	}

	exitCode, err := d.Wait()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}

	info = d.Info()
	// An exit nobody asked for is reported as failed
	if info.State != StateFailed {
		t.Errorf("expected state failed (unrequested exit), got %v", info.State)
	}
	if d.Alive() {
		t.Error("expected not alive after exit")
	}
}

func TestNativeOutputCapture(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"sh", "-c", "echo hello world; echo oops >&2"},
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	d.Wait()

	lines := d.Output().Lines()
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "hello world") {
		t.Errorf("expected 'hello world' in output, got %v", lines)
	}
	if !strings.Contains(joined, "oops") {
		t.Errorf("expected stderr in output, got %v", lines)
	}
	if !d.Output().Closed() {
		t.Error("output ring should be closed after exit")
	}
}

func TestNativeWorkingDir(t *testing.T) {
	dir := t.TempDir()
	d := NewNative(NativeConfig{
		Args:       []string{"pwd"},
		WorkingDir: dir,
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	d.Wait()

	lines := d.Output().Lines()
	if len(lines) == 0 || !strings.HasSuffix(strings.TrimSpace(lines[0]), strings.TrimPrefix(dir, "/private")) {
		t.Errorf("expected working dir %s, got %v", dir, lines)
	}
}

func TestNativeStopGraceful(t *testing.T) {
	// Start a long-running process
	d := NewNative(NativeConfig{
		Args: []string{"sleep", "60"},
	})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if !d.Alive() {
		t.Fatal("expected alive after start")
	}
	info := d.Info()
	if info.State != StateRunning {
		t.Fatalf("expected running, got %v", info.State)
	}

	// Stop with timeout
	if err := d.Stop(ctx, 5*time.Second); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}

	info = d.Info()
	if info.State != StateStopped {
		t.Errorf("expected stopped, got %v", info.State)
	}
	if d.Alive() {
		t.Error("expected not alive after stop")
	}
}

func TestNativeTerminateDoesNotBlock(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"sleep", "60"},
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	start := time.Now()
	if err := d.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Terminate blocked for %v", elapsed)
	}

	d.Wait()
	if info := d.Info(); info.State != StateStopped {
		t.Errorf("expected stopped after terminate, got %v", info.State)
	}
}

func TestNativeFailedProcess(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"false"}, // exits with code 1
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	exitCode, _ := d.Wait()
	if exitCode != 1 {
		t.Errorf("expected exit code 1, got %d", exitCode)
	}

	info := d.Info()
	if info.State != StateFailed {
		t.Errorf("expected failed, got %v", info.State)
	}
}

func TestNativeMissingExecutable(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"/nonexistent/autodash-python"},
	})

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected error starting missing executable")
	}
	if d.Alive() {
		t.Error("failed spawn must not report alive")
	}
	if info := d.Info(); info.State != StateFailed {
		t.Errorf("expected failed, got %v", info.State)
	}
}

func TestNativeEnvironment(t *testing.T) {
	// printenv takes a single argument, so there is no shell quoting
	d := NewNative(NativeConfig{
		Args: []string{"printenv", "TEST_VAR"},
		Env:  []string{"TEST_VAR=autodash_test_value"},
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	d.Wait()

	lines := d.Output().Lines()
	if len(lines) == 0 {
		t.Fatal("expected log output")
	}
	output := strings.TrimSpace(lines[0])

	if output != "autodash_test_value" {
		t.Errorf("expected 'autodash_test_value', got %q", output)
	}
}

func TestNativeDoubleStart(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"sleep", "60"},
	})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer d.Stop(ctx, 2*time.Second)

	if err := d.Start(ctx); err == nil {
		t.Error("expected error on double start")
	}
}

func TestNativeStopAlreadyStopped(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"true"},
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	d.Wait()

	// Stopping an already-exited process should not error
	if err := d.Stop(context.Background(), 2*time.Second); err != nil {
		t.Errorf("unexpected error stopping exited process: %v", err)
	}
	if err := d.Terminate(); err != nil {
		t.Errorf("unexpected error terminating exited process: %v", err)
	}
}

func TestNativeWaitNotStarted(t *testing.T) {
	d := NewNative(NativeConfig{
		Args: []string{"echo", "hello"},
	})

	_, err := d.Wait()
	if err == nil {
		t.Error("expected error waiting on unstarted process")
	}
	if d.Alive() {
		t.Error("unstarted driver must not be alive")
	}
}

func TestNativeStopEscalatesToSIGKILL(t *testing.T) {
	// The child ignores SIGTERM, so Stop must fall through to SIGKILL.
	d := NewNative(NativeConfig{
		Args: []string{"sh", "-c", "trap '' TERM; while true; do sleep 1; done"},
	})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	// Give the shell time to install the trap
	time.Sleep(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- d.Stop(ctx, 100*time.Millisecond)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stop() hung after SIGKILL")
	}

	if d.Alive() {
		t.Error("expected process gone after SIGKILL")
	}
}
