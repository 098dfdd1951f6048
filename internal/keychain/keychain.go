// Package keychain stores the credentials autodash needs, chiefly the
// language model API key.
//
// On macOS secrets are generic passwords in the login Keychain with:
//   - Service: "com.autodash"
//   - Account: the secret key (e.g. "openai-api-key")
//   - Label: "autodash: <key>" (for Keychain Access.app visibility)
//
// Elsewhere they live in a 0600 YAML file under ~/.autodash.
package keychain

import "errors"

// ErrNotFound is returned when a secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// OpenAIKey is the key the translate endpoint falls back to when no API key
// is configured.
const OpenAIKey = "openai-api-key"

// Store is the interface for secret storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	List() ([]string, error)
	Delete(key string) error
}
