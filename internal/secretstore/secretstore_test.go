// SPDX-License-Identifier: GPL-3.0-or-later

package secretstore

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a file-backed keyring rooted at a temp directory,
// standing in for the OS-native backend in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	ring, err := keyring.Open(keyring.Config{
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt("test-password"),
	})
	require.NoError(t, err)
	return &Store{ring: ring}
}

func TestStoreAddFindRemove(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.Find("oncp", "alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Add("oncp", "alice", "hunter2"))

	value, found, err := s.Find("oncp", "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hunter2", value)

	require.NoError(t, s.Remove("oncp", "alice"))

	_, found, err = s.Find("oncp", "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreRemoveAbsentIsNotError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Remove("oncp", "nobody"))
}

func TestStoreAddOverwrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add("oncp", "bob", "first"))
	require.NoError(t, s.Add("oncp", "bob", "second"))

	value, found, err := s.Find("oncp", "bob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", value)
}
