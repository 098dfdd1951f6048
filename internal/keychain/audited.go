package keychain

import (
	"fmt"
	"time"

	"github.com/orangebricks/autodash/internal/audit"
)

// AuditedStore wraps a Store so that every successful read, write and
// delete lands in the audit log, and writes keep SecretMetadata current.
// Failed operations are not logged. List is not logged.
type AuditedStore struct {
	inner    Store
	audit    *audit.Logger
	metadata *MetadataStore
	actor    string // "cli" or "api"
}

// NewAuditedStore wraps inner. A nil audit logger discards entries; a nil
// metadata store skips metadata tracking.
func NewAuditedStore(inner Store, auditLog *audit.Logger, metadata *MetadataStore, actor string) *AuditedStore {
	return &AuditedStore{
		inner:    inner,
		audit:    auditLog,
		metadata: metadata,
		actor:    actor,
	}
}

func (s *AuditedStore) record(action audit.Action, key, trigger, requestID string) {
	actor := s.actor
	if requestID != "" {
		actor = "api"
	}
	s.audit.Log(audit.Entry{
		Action:    action,
		Key:       key,
		Actor:     actor,
		Trigger:   trigger,
		RequestID: requestID,
	})
}

func (s *AuditedStore) Set(key, value string) error {
	if err := s.inner.Set(key, value); err != nil {
		return fmt.Errorf("storing secret %q: %w", key, err)
	}
	s.record(audit.ActionSecretWrite, key, "", "")

	if err := s.metadata.Touch(key, time.Now().UTC()); err != nil {
		return fmt.Errorf("saving metadata for %q: %w", key, err)
	}
	return nil
}

func (s *AuditedStore) Get(key string) (string, error) {
	return s.get(key, "", "")
}

// GetForRequest reads a secret on behalf of an API request; the request ID
// is kept with the audit entry.
func (s *AuditedStore) GetForRequest(key, requestID string) (string, error) {
	return s.get(key, "request", requestID)
}

func (s *AuditedStore) get(key, trigger, requestID string) (string, error) {
	val, err := s.inner.Get(key)
	if err != nil {
		return "", fmt.Errorf("reading secret %q: %w", key, err)
	}
	s.record(audit.ActionSecretRead, key, trigger, requestID)
	return val, nil
}

func (s *AuditedStore) List() ([]string, error) {
	return s.inner.List()
}

func (s *AuditedStore) Delete(key string) error {
	if err := s.inner.Delete(key); err != nil {
		return fmt.Errorf("deleting secret %q: %w", key, err)
	}
	s.record(audit.ActionSecretDelete, key, "", "")

	if err := s.metadata.Delete(key); err != nil {
		return fmt.Errorf("deleting metadata for %q: %w", key, err)
	}
	return nil
}

// Metadata returns the metadata store, which may be nil.
func (s *AuditedStore) Metadata() *MetadataStore {
	return s.metadata
}
