// Package health probes whether a dashboard is accepting connections on
// its allocated port.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a dashboard.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Probe types.
const (
	TypeTCP  = "tcp"
	TypeHTTP = "http"
)

// Config holds health check configuration.
type Config struct {
	Type               string        // "tcp" | "http"
	Host               string        // default 127.0.0.1
	Path               string        // http only
	Port               int           // dashboard port
	Interval           time.Duration // time between checks
	Timeout            time.Duration // max time per check
	GracePeriod        time.Duration // delay before first check
	UnhealthyThreshold int           // consecutive failures before unhealthy
}

// Result is the outcome of a single health check.
type Result struct {
	Status    Status
	Message   string
	Duration  time.Duration
	CheckedAt time.Time
}

// Monitor runs periodic health checks and tracks state. It only reports;
// acting on an unhealthy dashboard is left to onUnhealthy.
type Monitor struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	mu               sync.Mutex
	status           Status
	last             *Result
	consecutiveFails int
	cancel           context.CancelFunc
	done             chan struct{}

	// onUnhealthy is called when the dashboard transitions to unhealthy.
	onUnhealthy func()
}

// NewMonitor creates a health check monitor.
func NewMonitor(cfg Config, logger *slog.Logger, onUnhealthy func()) *Monitor {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:         cfg,
		logger:      logger,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		status:      StatusUnknown,
		onUnhealthy: onUnhealthy,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Type == "" {
		cfg.Type = TypeTCP
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}
	return cfg
}

// Start begins periodic health checking.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop halts the health check loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CurrentStatus returns the current health status.
func (m *Monitor) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastResult returns the most recent check, or nil before the first one.
func (m *Monitor) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	r := *m.last
	return &r
}

func (m *Monitor) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		close(m.done)
		m.mu.Unlock()
	}()

	// The first probe waits out the grace period; later ones follow Interval.
	next := time.NewTimer(m.cfg.GracePeriod)
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-next.C:
			m.check(ctx)
			next.Reset(m.cfg.Interval)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx, m.cfg, m.httpClient)
	if ctx.Err() != nil {
		// stopping
		return
	}

	result := Result{Status: StatusHealthy, Message: "ok", Duration: time.Since(start), CheckedAt: start}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}

	prev, now, fails := m.record(result)
	if err != nil {
		m.logger.Warn("health check failed",
			"error", result.Message,
			"consecutive_fails", fails,
			"threshold", m.cfg.UnhealthyThreshold,
		)
	}
	if prev != StatusUnhealthy && now == StatusUnhealthy {
		m.logger.Error("dashboard is unhealthy", "consecutive_fails", fails)
		if m.onUnhealthy != nil {
			m.onUnhealthy()
		}
	}
}

// record folds a probe result into the monitor state. One success makes the
// dashboard healthy; UnhealthyThreshold failures in a row make it unhealthy.
func (m *Monitor) record(r Result) (prev, now Status, fails int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev = m.status
	m.last = &r
	if r.Status == StatusHealthy {
		m.consecutiveFails = 0
		m.status = StatusHealthy
	} else {
		m.consecutiveFails++
		if m.consecutiveFails >= m.cfg.UnhealthyThreshold {
			m.status = StatusUnhealthy
		}
	}
	return prev, m.status, m.consecutiveFails
}

// SingleCheck probes once and returns nil if the dashboard answered.
func SingleCheck(cfg Config) error {
	cfg = withDefaults(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	return probe(ctx, cfg, &http.Client{Timeout: cfg.Timeout})
}

func probe(ctx context.Context, cfg Config, client *http.Client) error {
	switch cfg.Type {
	case TypeHTTP:
		return checkHTTP(ctx, cfg, client)
	case TypeTCP:
		return checkTCP(ctx, cfg)
	default:
		return fmt.Errorf("unknown health check type: %s", cfg.Type)
	}
}

func checkHTTP(ctx context.Context, cfg Config, client *http.Client) error {
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)), cfg.Path)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// Dashboards answer their root with HTML; anything below 500 means the
	// server is up.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func checkTCP(ctx context.Context, cfg Config) error {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}
