// SPDX-License-Identifier: GPL-3.0-or-later

// Package secretstore wraps the OS keychain collaborator behind
// [github.com/99designs/keyring], keyed by (service, account) pairs the
// way the original keychain.c add/find/remove trio does, distinguishing
// a "not found" outcome from a genuine backend error.
package secretstore

import (
	"errors"

	"github.com/99designs/keyring"

	"github.com/bassosimone/oncp"
)

// Store persists secrets (typically VPN passwords) in the OS-native
// keychain backend keyring selects for the current platform.
type Store struct {
	ring keyring.Keyring
}

// Open returns a [*Store] backed by the keychain for serviceName.
func Open(serviceName string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, oncp.NewError(oncp.KindIo, "secretstore.Open", err)
	}
	return &Store{ring: ring}, nil
}

// itemKey joins service and account the way the original keychain_add
// builds a single keychain item name, so that one (service, account)
// pair addresses exactly one entry.
func itemKey(service, account string) string {
	return service + "@" + account
}

// Add stores pass under (service, account), overwriting any existing
// entry.
func (s *Store) Add(service, account, pass string) error {
	item := keyring.Item{
		Key:  itemKey(service, account),
		Data: []byte(pass),
	}
	if err := s.ring.Set(item); err != nil {
		return oncp.NewError(oncp.KindIo, "secretstore.Add", err)
	}
	return nil
}

// Find looks up (service, account), returning (value, true, nil) if
// present, ("", false, nil) if genuinely absent, and ("", false, err)
// on a backend error — the three-way outcome keychain_find reports via
// its -1/-2 return codes.
func (s *Store) Find(service, account string) (string, bool, error) {
	item, err := s.ring.Get(itemKey(service, account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oncp.NewError(oncp.KindIo, "secretstore.Find", err)
	}
	return string(item.Data), true, nil
}

// Remove deletes (service, account). Removing an absent entry is not
// an error.
func (s *Store) Remove(service, account string) error {
	err := s.ring.Remove(itemKey(service, account))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return oncp.NewError(oncp.KindIo, "secretstore.Remove", err)
	}
	return nil
}
