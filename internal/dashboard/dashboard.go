// Package dashboard owns a single dashboard server: its port, its child
// process and the address the child announces on startup.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/orangebricks/autodash/internal/driver"
	"github.com/orangebricks/autodash/internal/framework"
	"github.com/orangebricks/autodash/internal/logbuf"
)

var (
	// ErrInvalidArgument reports a bad path, port or framework kind.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrLaunchFailure reports that the child could not be spawned.
	ErrLaunchFailure = errors.New("launch failure")
	// ErrLaunchTimeout reports that the child did not announce a URL in time.
	ErrLaunchTimeout = errors.New("launch timeout")
)

// Runtimes a dashboard can run under.
const (
	RuntimeNative    = "native"
	RuntimeContainer = "container"
)

const (
	DefaultInterpreter   = "python3"
	DefaultLaunchTimeout = 30 * time.Second

	// containerWorkDir is where the source directory is mounted inside a
	// container.
	containerWorkDir = "/app"
)

// Options tune how a dashboard is launched. The zero value runs natively
// with the default interpreter and launch timeout.
type Options struct {
	Interpreter   string
	LaunchTimeout time.Duration
	Runtime       string // "native" (default) or "container"
	Image         string // container runtime only
	NetworkMode   string // container runtime only, default "host"
	Env           []string
	BufSize       int
	Logger        *slog.Logger
}

// Dashboard is one dashboard server tracked by source path.
type Dashboard struct {
	path string
	dir  string
	base string
	port int
	kind framework.Kind
	opts Options

	logger *slog.Logger

	mu   sync.Mutex
	drv  driver.Driver
	addr *Address
}

// New builds a dashboard for the script at path, served on port. No child
// is started until Start is called.
func New(path string, kind framework.Kind, port int, opts Options) (*Dashboard, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty dashboard path", ErrInvalidArgument)
	}
	if _, err := framework.Parse(string(kind)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidArgument, port)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", ErrInvalidArgument, path, err)
	}

	if opts.Interpreter == "" {
		opts.Interpreter = DefaultInterpreter
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	if opts.Runtime == "" {
		opts.Runtime = RuntimeNative
	}
	switch opts.Runtime {
	case RuntimeNative, RuntimeContainer:
	default:
		return nil, fmt.Errorf("%w: unknown runtime %q (expected native or container)", ErrInvalidArgument, opts.Runtime)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dashboard{
		path:   abs,
		dir:    filepath.Dir(abs),
		base:   filepath.Base(abs),
		port:   port,
		kind:   framework.Kind(strings.ToLower(string(kind))),
		opts:   opts,
		logger: logger.With("dashboard", abs),
	}, nil
}

func (d *Dashboard) Path() string         { return d.path }
func (d *Dashboard) Dir() string          { return d.dir }
func (d *Dashboard) Base() string         { return d.base }
func (d *Dashboard) Port() int            { return d.port }
func (d *Dashboard) Kind() framework.Kind { return d.kind }

// ProxyURL is the path under which the API server forwards to this
// dashboard.
func (d *Dashboard) ProxyURL() string {
	return fmt.Sprintf("/proxy/%d/", d.port)
}

// RunCommand returns the argument vector that launches the dashboard.
// It is deterministic and always contains the port.
func (d *Dashboard) RunCommand() []string {
	// kind was validated in New, so the builder cannot fail
	args, _ := framework.Command(d.kind, framework.Invocation{
		Interpreter: d.opts.Interpreter,
		File:        d.base,
		Port:        d.port,
	})
	return args
}

// Start spawns the child unless one is already alive, then waits for it to
// announce its URL. A child whose output ends without a URL leaves Address
// unset and is not an error. A child that stays silent past the launch
// timeout is terminated and ErrLaunchTimeout is returned.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.drv != nil && d.drv.Alive() {
		d.mu.Unlock()
		d.logger.Debug("dashboard already running", "port", d.port)
		return nil
	}

	args := d.RunCommand()
	drv, err := d.newDriver(args)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrLaunchFailure, d.path, err)
	}

	d.logger.Info("starting dashboard", "kind", d.kind, "port", d.port, "runtime", d.opts.Runtime)
	if err := drv.Start(ctx); err != nil {
		d.mu.Unlock()
		d.logger.Error("failed to start dashboard", "port", d.port, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrLaunchFailure, d.path, err)
	}
	d.drv = drv
	d.addr = nil
	d.mu.Unlock()

	addr, err := awaitAddress(ctx, drv.Output(), framework.BannerLines(d.kind), d.opts.LaunchTimeout)
	if err != nil {
		d.logger.Error("dashboard did not announce a url", "timeout", d.opts.LaunchTimeout, "error", err)
		drv.Terminate()
		d.mu.Lock()
		if d.drv == drv {
			d.drv = nil
		}
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", d.path, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if addr == nil {
		d.logger.Warn("dashboard output ended without a url", "port", d.port)
		return nil
	}
	d.addr = addr
	d.logger.Info("dashboard started", "url", addr.URL, "port", d.port, "pid", drv.Info().PID)
	return nil
}

func (d *Dashboard) newDriver(args []string) (driver.Driver, error) {
	switch d.opts.Runtime {
	case RuntimeContainer:
		return driver.NewContainer(driver.ContainerConfig{
			Name:        containerName(d.base, d.port),
			Image:       d.opts.Image,
			Env:         d.opts.Env,
			Cmd:         args,
			WorkingDir:  containerWorkDir,
			NetworkMode: d.opts.NetworkMode,
			Volumes:     map[string]string{d.dir: containerWorkDir},
			BufSize:     d.opts.BufSize,
		})
	default:
		var env []string
		if len(d.opts.Env) > 0 {
			env = append(os.Environ(), d.opts.Env...)
		}
		return driver.NewNative(driver.NativeConfig{
			Args:       args,
			Env:        env,
			WorkingDir: d.dir,
			BufSize:    d.opts.BufSize,
		}), nil
	}
}

// awaitAddress follows out until a URL appears after the first skip lines.
// It returns nil without error when the stream closes first.
func awaitAddress(ctx context.Context, out *logbuf.Ring, skip int, timeout time.Duration) (*Address, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seq := 0
	for {
		changed := out.Changed()
		lines, next, closed := out.Since(seq)
		// Since skips lines the ring already overwrote.
		first := next - len(lines)
		for i, line := range lines {
			if first+i < skip {
				continue
			}
			raw, ok := ExtractURL(line)
			if !ok {
				continue
			}
			addr, err := ParseAddress(raw)
			if err != nil {
				continue
			}
			return &addr, nil
		}
		seq = next
		if closed {
			return nil, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: no url after %s", ErrLaunchTimeout, timeout)
			}
			return nil, fmt.Errorf("waiting for dashboard url: %w", ctx.Err())
		}
	}
}

// Stop sends the child a graceful termination signal and forgets it
// without waiting for it to exit.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	drv := d.drv
	d.drv = nil
	d.mu.Unlock()

	if drv == nil {
		d.logger.Info("dashboard is not running")
		return
	}
	d.logger.Info("stopping dashboard", "port", d.port)
	if err := drv.Terminate(); err != nil {
		d.logger.Warn("error stopping dashboard", "error", err)
	}
}

// Shutdown stops the child and waits for it to exit, escalating to SIGKILL
// after timeout. The port is free once Shutdown returns.
func (d *Dashboard) Shutdown(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	drv := d.drv
	d.drv = nil
	d.mu.Unlock()

	if drv == nil {
		return nil
	}
	d.logger.Info("shutting down dashboard", "port", d.port, "timeout", timeout)
	if err := drv.Stop(ctx, timeout); err != nil {
		return fmt.Errorf("stopping %s: %w", d.path, err)
	}
	return nil
}

// Alive reports whether the dashboard owns a child that has not exited.
func (d *Dashboard) Alive() bool {
	d.mu.Lock()
	drv := d.drv
	d.mu.Unlock()
	return drv != nil && drv.Alive()
}

// Address returns the announced address, if one was seen.
func (d *Dashboard) Address() (Address, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.addr == nil {
		return Address{}, false
	}
	return *d.addr, true
}

// Info returns the state of the current child. A dashboard without a child
// reports StateStopped.
func (d *Dashboard) Info() driver.ProcessInfo {
	d.mu.Lock()
	drv := d.drv
	d.mu.Unlock()
	if drv == nil {
		return driver.ProcessInfo{State: driver.StateStopped}
	}
	return drv.Info()
}

// Logs returns the last n lines of the child's output.
func (d *Dashboard) Logs(n int) []string {
	d.mu.Lock()
	drv := d.drv
	d.mu.Unlock()
	if drv == nil {
		return []string{}
	}
	return drv.Output().Last(n)
}

func containerName(base string, port int) string {
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, r := range strings.ToLower(stem) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return fmt.Sprintf("%s-%d", b.String(), port)
}
