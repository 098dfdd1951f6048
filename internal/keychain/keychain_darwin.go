//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

// ServiceName is the Keychain service attribute for all autodash secrets.
const ServiceName = "com.autodash"

// SystemStore keeps secrets as generic passwords in the login Keychain.
type SystemStore struct {
	service string
}

// NewSystemStore returns the Keychain-backed store.
func NewSystemStore() *SystemStore {
	return &SystemStore{service: ServiceName}
}

// query returns a generic password item scoped to this store and, when
// key is non-empty, to one account.
func (s *SystemStore) query(key string) gokeychain.Item {
	item := gokeychain.NewItem()
	item.SetSecClass(gokeychain.SecClassGenericPassword)
	item.SetService(s.service)
	if key != "" {
		item.SetAccount(key)
	}
	return item
}

// Set adds the secret, or updates it in place when it already exists.
func (s *SystemStore) Set(key, value string) error {
	item := s.query(key)
	item.SetLabel("autodash: " + key)
	item.SetData([]byte(value))
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)

	err := gokeychain.AddItem(item)
	if errors.Is(err, gokeychain.ErrorDuplicateItem) {
		update := gokeychain.NewItem()
		update.SetData([]byte(value))
		err = gokeychain.UpdateItem(s.query(key), update)
	}
	if err != nil {
		return fmt.Errorf("keychain set %q: %w", key, err)
	}
	return nil
}

func (s *SystemStore) Get(key string) (string, error) {
	q := s.query(key)
	q.SetMatchLimit(gokeychain.MatchLimitOne)
	q.SetReturnData(true)

	results, err := gokeychain.QueryItem(q)
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return "", fmt.Errorf("keychain get %q: %w", key, err)
	}
	if len(results) == 0 || len(results[0].Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return string(results[0].Data), nil
}

// List returns the keys of every autodash secret.
func (s *SystemStore) List() ([]string, error) {
	q := s.query("")
	q.SetMatchLimit(gokeychain.MatchLimitAll)
	q.SetReturnAttributes(true)

	results, err := gokeychain.QueryItem(q)
	if errors.Is(err, gokeychain.ErrorItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keychain list: %w", err)
	}
	keys := make([]string, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.Account)
	}
	return keys, nil
}

func (s *SystemStore) Delete(key string) error {
	err := gokeychain.DeleteItem(s.query(key))
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("keychain delete %q: %w", key, err)
	}
	return nil
}
