//go:build !darwin

package keychain

import (
	"os"
	"path/filepath"
)

// NewSystemStore returns a FileStore under ~/.autodash on non-darwin
// platforms, where the macOS Keychain is not available.
func NewSystemStore() *FileStore {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return NewFileStore(filepath.Join(home, ".autodash", "secrets.yaml"))
}
