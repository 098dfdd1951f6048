// Package registry tracks the running dashboards of one server, keyed by
// absolute source path.
//
// A Registry is created by the server and passed to whatever needs it. It
// guarantees at most one live child per path: Start on a tracked, live
// path returns the existing dashboard without spawning anything.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/orangebricks/autodash/internal/audit"
	"github.com/orangebricks/autodash/internal/dashboard"
	"github.com/orangebricks/autodash/internal/driver"
	"github.com/orangebricks/autodash/internal/framework"
	"github.com/orangebricks/autodash/internal/health"
	"github.com/orangebricks/autodash/internal/port"
	"github.com/orangebricks/autodash/internal/requestid"
)

// DefaultStopTimeout bounds how long Restart and Close wait for a child to
// exit before killing it.
const DefaultStopTimeout = 10 * time.Second

// ErrNotFound is returned by lookups for untracked paths. Stop and Restart
// treat an untracked path as a logged no-op instead.
var ErrNotFound = errors.New("dashboard not found")

// ErrClosed is returned when a dashboard finishes starting after Close.
var ErrClosed = errors.New("registry closed")

// Entry is the externally visible state of a tracked dashboard.
type Entry struct {
	Path      string             `json:"path"`
	Kind      framework.Kind     `json:"kind"`
	Port      int                `json:"port"`
	PID       int                `json:"pid,omitempty"`
	State     driver.State       `json:"state"`
	Health    health.Status      `json:"health"`
	HealthMsg string             `json:"health_detail,omitempty"`
	URL       string             `json:"url"`
	Address   *dashboard.Address `json:"address,omitempty"`
	Uptime    string             `json:"uptime,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

type tracked struct {
	d       *dashboard.Dashboard
	monitor *health.Monitor
}

// Registry is the set of dashboards managed by this process.
type Registry struct {
	ports          *port.Allocator
	dashOpts       dashboard.Options
	stopTimeout    time.Duration
	healthInterval time.Duration
	audit          *audit.Logger
	logger         *slog.Logger

	// ctx scopes background work (health monitors) to the registry's
	// lifetime rather than to the request that started a dashboard.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]*tracked
	locks   map[string]*pathLock
	closed  bool
	changed chan struct{}
}

// Option configures the registry.
type Option func(*Registry)

// WithPorts replaces the default ephemeral port allocator.
func WithPorts(a *port.Allocator) Option {
	return func(r *Registry) {
		r.ports = a
	}
}

// WithDashboardOptions sets the launch options every dashboard gets.
func WithDashboardOptions(o dashboard.Options) Option {
	return func(r *Registry) {
		r.dashOpts = o
	}
}

// WithStopTimeout sets the graceful shutdown timeout used by Restart and
// Close.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.stopTimeout = d
	}
}

// WithHealthInterval enables an HTTP probe of each dashboard at the given
// interval. Zero disables probing.
func WithHealthInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.healthInterval = d
	}
}

// WithAudit records lifecycle events to the given audit log.
func WithAudit(l *audit.Logger) Option {
	return func(r *Registry) {
		r.audit = l
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		ports:       port.NewAllocator(),
		stopTimeout: DefaultStopTimeout,
		logger:      slog.With("component", "registry"),
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]*tracked),
		locks:       make(map[string]*pathLock),
		changed:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty dashboard path", dashboard.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %w", dashboard.ErrInvalidArgument, path, err)
	}
	return abs, nil
}

// List returns a snapshot of every tracked dashboard keyed by path.
func (r *Registry) List() map[string]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Entry, len(r.active))
	for path, t := range r.active {
		out[path] = entry(t)
	}
	return out
}

// Entries returns the tracked dashboards sorted by path.
func (r *Registry) Entries() []Entry {
	m := r.List()
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func entry(t *tracked) Entry {
	d := t.d
	info := d.Info()
	e := Entry{
		Path:      d.Path(),
		Kind:      d.Kind(),
		Port:      d.Port(),
		PID:       info.PID,
		State:     info.State,
		Health:    health.StatusUnknown,
		URL:       d.ProxyURL(),
		LastError: info.Error,
	}
	if addr, ok := d.Address(); ok {
		e.Address = &addr
	}
	if t.monitor != nil {
		e.Health = t.monitor.CurrentStatus()
		if last := t.monitor.LastResult(); last != nil {
			e.HealthMsg = last.Message
		}
	}
	if info.State == driver.StateRunning && !info.StartedAt.IsZero() {
		e.Uptime = time.Since(info.StartedAt).Truncate(time.Second).String()
	}
	return e
}

// Get returns the dashboard tracked for path.
func (r *Registry) Get(path string) (*dashboard.Dashboard, bool) {
	abs, err := resolve(path)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[abs]
	if !ok {
		return nil, false
	}
	return t.d, true
}

// ByPort returns the tracked dashboard serving port.
func (r *Registry) ByPort(p int) (*dashboard.Dashboard, bool) {
	owner, ok := r.ports.Owner(p)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[owner]
	if !ok {
		return nil, false
	}
	return t.d, true
}

// pathLock serializes Start, Stop and Restart for one path. r.mu is only
// held for map access, so a slow launch never blocks other dashboards.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

func (r *Registry) lockPath(abs string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[abs]
	if !ok {
		l = &pathLock{}
		r.locks[abs] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(r.locks, abs)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) lookup(abs string) (*tracked, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[abs]
	return t, ok
}

// Start returns the live dashboard for path, starting one of the given kind
// if the path is untracked. A tracked dashboard whose child has exited is
// respawned in place. On failure nothing is recorded and the port is
// released.
func (r *Registry) Start(ctx context.Context, path, kind string) (*dashboard.Dashboard, error) {
	abs, err := resolve(path)
	if err != nil {
		return nil, err
	}

	unlock := r.lockPath(abs)
	defer unlock()

	if t, ok := r.lookup(abs); ok {
		if t.d.Alive() {
			r.logger.Debug("dashboard already running", "path", abs, "port", t.d.Port())
			return t.d, nil
		}
		r.logger.Info("respawning exited dashboard", "path", abs, "port", t.d.Port())
		err := t.d.Start(ctx)
		r.record(ctx, audit.ActionDashboardStart, t.d, err)
		if err != nil {
			r.drop(abs, t)
			return nil, err
		}
		if r.isClosed() {
			t.d.Shutdown(context.Background(), r.stopTimeout)
			return nil, ErrClosed
		}
		return t.d, nil
	}

	k, err := framework.Parse(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dashboard.ErrInvalidArgument, err)
	}

	p, err := r.ports.Allocate(abs)
	if err != nil {
		return nil, fmt.Errorf("allocating port for %s: %w", abs, err)
	}

	d, err := r.launch(ctx, abs, k, p)
	if err != nil {
		r.ports.Release(abs)
		return nil, err
	}

	if err := r.track(abs, d); err != nil {
		d.Shutdown(context.Background(), r.stopTimeout)
		r.ports.Release(abs)
		return nil, err
	}
	return d, nil
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// track records a started dashboard, refusing once Close has run.
func (r *Registry) track(abs string, d *dashboard.Dashboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.active[abs] = &tracked{d: d, monitor: r.startMonitor(d)}
	r.notifyChanged()
	return nil
}

// launch builds and starts a dashboard, auditing the outcome.
func (r *Registry) launch(ctx context.Context, path string, kind framework.Kind, p int) (*dashboard.Dashboard, error) {
	d, err := dashboard.New(path, kind, p, r.dashOpts)
	if err != nil {
		return nil, err
	}
	err = d.Start(ctx)
	r.record(ctx, audit.ActionDashboardStart, d, err)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Stop terminates the dashboard for path and forgets it. Stopping an
// untracked path only logs.
func (r *Registry) Stop(path string) {
	abs, err := resolve(path)
	if err != nil {
		r.logger.Info("dashboard not found", "path", path)
		return
	}

	unlock := r.lockPath(abs)
	defer unlock()

	t, ok := r.lookup(abs)
	if !ok {
		r.logger.Info("dashboard not found", "path", abs)
		return
	}

	t.d.Stop()
	r.drop(abs, t)
	r.record(context.Background(), audit.ActionDashboardStop, t.d, nil)
}

// Restart shuts the dashboard for path down, waiting for its child to exit,
// and starts a fresh one with the same kind and port. Restarting an
// untracked path only logs. If the new dashboard fails to start the entry
// is removed.
func (r *Registry) Restart(ctx context.Context, path string) error {
	abs, err := resolve(path)
	if err != nil {
		r.logger.Info("dashboard not found", "path", path)
		return nil
	}

	unlock := r.lockPath(abs)
	defer unlock()

	t, ok := r.lookup(abs)
	if !ok {
		r.logger.Info("dashboard not found", "path", abs)
		return nil
	}

	if t.monitor != nil {
		t.monitor.Stop()
	}
	if err := t.d.Shutdown(ctx, r.stopTimeout); err != nil {
		r.logger.Warn("error stopping dashboard for restart", "path", abs, "error", err)
	}

	d, err := dashboard.New(abs, t.d.Kind(), t.d.Port(), r.dashOpts)
	if err == nil {
		err = d.Start(ctx)
	}
	if err != nil {
		r.drop(abs, t)
		r.record(ctx, audit.ActionDashboardRestart, t.d, err)
		return err
	}

	if err := r.replace(abs, t, d); err != nil {
		d.Shutdown(context.Background(), r.stopTimeout)
		return err
	}
	r.record(ctx, audit.ActionDashboardRestart, d, nil)
	return nil
}

// replace swaps old for d unless Close has taken the entry in the meantime.
func (r *Registry) replace(abs string, old *tracked, d *dashboard.Dashboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.active[abs] != old {
		return ErrClosed
	}
	r.active[abs] = &tracked{d: d, monitor: r.startMonitor(d)}
	return nil
}

// drop removes an entry and releases its port.
func (r *Registry) drop(abs string, t *tracked) {
	if t.monitor != nil {
		t.monitor.Stop()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[abs] != t {
		return
	}
	delete(r.active, abs)
	r.ports.Release(abs)
	r.notifyChanged()
}

// Logs returns the last n lines of output from the dashboard for path.
func (r *Registry) Logs(path string, n int) ([]string, error) {
	d, ok := r.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return d.Logs(n), nil
}

// Close shuts down every dashboard, waiting up to the stop timeout for
// each, and stops background work.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	all := r.active
	r.active = make(map[string]*tracked)
	r.closed = true
	r.mu.Unlock()

	var wg sync.WaitGroup
	for path, t := range all {
		wg.Add(1)
		go func(path string, t *tracked) {
			defer wg.Done()
			if t.monitor != nil {
				t.monitor.Stop()
			}
			if err := t.d.Shutdown(ctx, r.stopTimeout); err != nil {
				r.logger.Error("error stopping dashboard", "path", path, "error", err)
			}
			r.ports.Release(path)
			r.audit.Log(audit.Entry{
				Action:  audit.ActionDashboardStop,
				Path:    path,
				Kind:    string(t.d.Kind()),
				Port:    t.d.Port(),
				Actor:   "server",
				Trigger: "shutdown",
			})
		}(path, t)
	}
	wg.Wait()

	r.cancel()
	r.notifyChanged()
	r.logger.Info("all dashboards stopped", "count", len(all))
}

func (r *Registry) startMonitor(d *dashboard.Dashboard) *health.Monitor {
	if r.healthInterval <= 0 {
		return nil
	}
	logger := r.logger.With("dashboard", d.Path())
	m := health.NewMonitor(health.Config{
		Type:        health.TypeHTTP,
		Path:        framework.HealthPath(d.Kind()),
		Port:        d.Port(),
		Interval:    r.healthInterval,
		Timeout:     2 * time.Second,
		GracePeriod: r.healthInterval,
	}, logger, func() {
		r.audit.Log(audit.Entry{
			Action: audit.ActionDashboardUnhealthy,
			Path:   d.Path(),
			Kind:   string(d.Kind()),
			Port:   d.Port(),
			Actor:  "health",
		})
	})
	m.Start(r.ctx)
	return m
}

func (r *Registry) notifyChanged() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// record appends a lifecycle event to the audit log. Audit logging is
// best-effort.
func (r *Registry) record(ctx context.Context, action audit.Action, d *dashboard.Dashboard, err error) {
	e := audit.Entry{
		Action:    action,
		Path:      d.Path(),
		Kind:      string(d.Kind()),
		Port:      d.Port(),
		Actor:     actorFrom(ctx),
		Trigger:   triggerFrom(ctx),
		RequestID: requestid.From(ctx),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if logErr := r.audit.Log(e); logErr != nil {
		r.logger.Warn("audit log write failed", "error", logErr)
	}
}
