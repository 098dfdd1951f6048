//go:build !nocontainer

package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/orangebricks/autodash/internal/logbuf"
)

// containerTerminateTimeout is the grace period Terminate gives Docker
// before it escalates to SIGKILL.
const containerTerminateTimeout = 10 * time.Second

// containerKillGrace is how long Stop waits past the stop timeout before
// force-removing a container that has not exited.
const containerKillGrace = 10 * time.Second

// ContainerConfig holds configuration for a Docker container.
type ContainerConfig struct {
	Name        string
	Image       string
	Env         []string
	Cmd         []string          // command/args to pass to the container
	WorkingDir  string            // working directory inside the container
	NetworkMode string            // "host", "bridge", etc. Default: "host"
	Volumes     map[string]string // host:container mount mappings
	BufSize     int               // log ring buffer size (lines)
}

// ContainerDriver runs a dashboard inside a Docker container.
type ContainerDriver struct {
	cfg ContainerConfig

	mu          sync.Mutex
	closeOnce   sync.Once
	client      *dockerclient.Client
	containerID string
	state       State
	startedAt   time.Time
	exitCode    int
	exitErr     string
	buf         *logbuf.Ring
	done        chan struct{}
}

// NewContainer creates a new Docker container driver.
func NewContainer(cfg ContainerConfig) (*ContainerDriver, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("container runtime needs an image")
	}

	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	if cfg.NetworkMode == "" {
		cfg.NetworkMode = "host"
	}

	return &ContainerDriver{
		cfg:    cfg,
		client: cli,
		state:  StateStopped,
		buf:    newRing(cfg.BufSize),
	}, nil
}

// name is the Docker container name for this dashboard.
func (d *ContainerDriver) name() string {
	return "autodash-" + d.cfg.Name
}

// spec builds the container and host configuration. Restarts are left to
// the caller, so Docker's restart policy is disabled.
func (d *ContainerDriver) spec() (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:      d.cfg.Image,
		Env:        d.cfg.Env,
		Cmd:        d.cfg.Cmd,
		WorkingDir: d.cfg.WorkingDir,
	}
	host := &container.HostConfig{
		NetworkMode:   container.NetworkMode(d.cfg.NetworkMode),
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	for src, dst := range d.cfg.Volumes {
		host.Binds = append(host.Binds, src+":"+dst)
	}
	return cfg, host
}

// fail records a start failure. d.mu must be held.
func (d *ContainerDriver) fail(err error) {
	d.state = StateFailed
	d.exitErr = err.Error()
	d.buf.Close()
}

func (d *ContainerDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateRunning, StateStarting, StateStopping:
		return fmt.Errorf("container already running")
	}
	d.state = StateStarting

	// A container left over from an earlier run would hold the name.
	d.client.ContainerRemove(ctx, d.name(), container.RemoveOptions{Force: true})

	cfg, host := d.spec()
	resp, err := d.client.ContainerCreate(ctx, cfg, host, nil, nil, d.name())
	if err != nil {
		d.fail(err)
		return fmt.Errorf("creating container %s: %w", d.name(), err)
	}
	d.containerID = resp.ID

	if err := d.client.ContainerStart(ctx, d.containerID, container.StartOptions{}); err != nil {
		d.fail(err)
		d.client.ContainerRemove(ctx, d.containerID, container.RemoveOptions{Force: true})
		return fmt.Errorf("starting container %s: %w", d.name(), err)
	}

	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})

	// The log stream and exit watcher outlive the request context.
	go d.streamLogs()
	go d.waitForExit()

	return nil
}

// Terminate asks Docker to stop the container and returns immediately.
func (d *ContainerDriver) Terminate() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	go d.Stop(context.Background(), containerTerminateTimeout)
	return nil
}

func (d *ContainerDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()

	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}

	d.state = StateStopping
	containerID := d.containerID
	done := d.done
	d.mu.Unlock()

	// Docker escalates to SIGKILL itself once secs have passed.
	secs := int(timeout.Seconds())
	d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs})

	select {
	case <-done:
	case <-time.After(timeout + containerKillGrace):
		d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	}

	d.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{})
	d.closeClient()
	return nil
}

func (d *ContainerDriver) closeClient() {
	d.closeOnce.Do(func() {
		d.client.Close()
	})
}

func (d *ContainerDriver) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return running(d.done)
}

func (d *ContainerDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	return ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
}

func (d *ContainerDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return -1, fmt.Errorf("container not started")
	}
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}

func (d *ContainerDriver) Output() *logbuf.Ring {
	return d.buf
}

func (d *ContainerDriver) streamLogs() {
	defer d.buf.Close()

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	}

	reader, err := d.client.ContainerLogs(context.Background(), d.containerID, opts)
	if err != nil {
		return
	}
	defer reader.Close()

	// Docker multiplexes stdout/stderr with 8-byte frame headers.
	// StdCopy strips those headers, writing clean output to the ring buffer.
	stdcopy.StdCopy(d.buf, d.buf, reader)
}

func (d *ContainerDriver) waitForExit() {
	statusCh, errCh := d.client.ContainerWait(
		context.Background(),
		d.containerID,
		container.WaitConditionNotRunning,
	)

	code, msg := -1, ""
	select {
	case err := <-errCh:
		if err != nil {
			msg = err.Error()
		}
	case status := <-statusCh:
		code = int(status.StatusCode)
		if status.Error != nil {
			msg = status.Error.Message
		}
	}

	d.mu.Lock()
	requested := d.state == StateStopping
	if requested {
		d.state = StateStopped
	} else {
		// a dashboard server never exits on its own
		d.state = StateFailed
	}
	if code >= 0 {
		d.exitCode = code
	}
	if msg != "" {
		d.exitErr = msg
	}
	close(d.done)
	d.mu.Unlock()

	// Stop releases the client when it asked for the exit.
	if !requested {
		d.closeClient()
	}
}

// ContainerID returns the Docker container ID (for external inspection).
func (d *ContainerDriver) ContainerID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.containerID
}
