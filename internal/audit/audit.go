// Package audit provides append-only structured logging of dashboard
// lifecycle events and secret operations.
//
// Entries are written as newline-delimited JSON, by default to
// ~/.autodash/audit.log.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionDashboardStart     Action = "dashboard_start"
	ActionDashboardStop      Action = "dashboard_stop"
	ActionDashboardRestart   Action = "dashboard_restart"
	ActionDashboardUnhealthy Action = "dashboard_unhealthy"
	ActionTranslate          Action = "dashboard_translate"

	ActionSecretRead   Action = "secret_read"
	ActionSecretWrite  Action = "secret_write"
	ActionSecretDelete Action = "secret_delete"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Path      string    `json:"path,omitempty"` // dashboard source file
	Kind      string    `json:"kind,omitempty"`
	Port      int       `json:"port,omitempty"`
	Key       string    `json:"key,omitempty"`     // secret key
	Actor     string    `json:"actor,omitempty"`   // "cli", "api", "watcher"
	Trigger   string    `json:"trigger,omitempty"` // "request", "file_change", "shutdown"
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file. A nil *Logger
// discards entries.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
