//go:build integration

package driver

import (
	"context"
	"strings"
	"testing"
	"time"
)

// Integration tests require a running Docker daemon.
// Run with: go test -tags integration ./internal/driver/ -run TestContainer

func TestContainerStartStop(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "test-start-stop",
		Image:       "alpine:latest",
		Cmd:         []string{"sleep", "60"},
		Env:         []string{"HELLO=world"},
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	info := d.Info()
	if info.State != StateRunning {
		t.Errorf("expected running, got %v", info.State)
	}
	if d.ContainerID() == "" {
		t.Error("expected container ID")
	}
	if !d.Alive() {
		t.Error("expected alive after start")
	}

	if err := d.Stop(ctx, 5*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	info = d.Info()
	if info.State != StateStopped {
		t.Errorf("expected stopped, got %v", info.State)
	}
	if d.Alive() {
		t.Error("expected not alive after stop")
	}
}

func TestContainerOutputCapture(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "test-output",
		Image:       "alpine:latest",
		Cmd:         []string{"sh", "-c", "echo URL: http://localhost:8501; echo oops >&2; sleep 60"},
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(ctx, 5*time.Second)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		joined := strings.Join(d.Output().Lines(), "\n")
		if strings.Contains(joined, "http://localhost:8501") && strings.Contains(joined, "oops") {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Errorf("expected stdout and stderr in output, got %v", d.Output().Lines())
}

func TestContainerWorkingDirAndVolume(t *testing.T) {
	dir := t.TempDir()
	d, err := NewContainer(ContainerConfig{
		Name:        "test-workdir",
		Image:       "alpine:latest",
		Cmd:         []string{"sh", "-c", "pwd; sleep 60"},
		WorkingDir:  "/app",
		Volumes:     map[string]string{dir: "/app"},
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(ctx, 5*time.Second)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if lines := d.Output().Lines(); len(lines) > 0 && lines[0] == "/app" {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Errorf("expected /app as working dir, got %v", d.Output().Lines())
}

func TestContainerExitsNaturally(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "test-exit",
		Image:       "alpine:latest",
		Cmd:         []string{"sh", "-c", "exit 3"},
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	exitCode, err := d.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if exitCode != 3 {
		t.Errorf("expected exit code 3, got %d", exitCode)
	}
	if info := d.Info(); info.State != StateFailed {
		t.Errorf("expected failed after unrequested exit, got %v", info.State)
	}
}

func TestContainerTerminate(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "test-terminate",
		Image:       "alpine:latest",
		Cmd:         []string{"sleep", "60"},
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := d.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	// Wait returns once Docker reports the container gone
	if _, err := d.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d.Alive() {
		t.Error("expected not alive after terminate")
	}
}

func TestContainerRequiresImage(t *testing.T) {
	if _, err := NewContainer(ContainerConfig{Name: "no-image"}); err == nil {
		t.Error("expected error without image")
	}
}
