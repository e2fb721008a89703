// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrabridge/entrabridge/lib/codec"
)

// Snapshot is the persisted session state. Only broker identity
// objects and the active marker are stored per account — avatars are
// re-fetched and tokens re-acquired after restart.
type Snapshot struct {
	// Enabled is the user's SSO toggle. Restored as true when no
	// snapshot exists: absence of state must not lock the user out.
	Enabled bool `cbor:"enabled"`

	// Accounts holds one entry per registered account, in broker
	// order. At most one entry has Active set.
	Accounts []AccountState `cbor:"accounts"`
}

// AccountState is one persisted account.
type AccountState struct {
	// BrokerObject is the broker-assigned identity object, stored
	// verbatim. The bridge passes it back to the broker unchanged on
	// every RPC.
	BrokerObject map[string]any `cbor:"broker_object"`

	// Active marks the account selected at the time of the snapshot.
	Active bool `cbor:"active"`
}

// Store reads and writes the snapshot at a fixed path.
type Store struct {
	path string
}

// New creates a Store for the snapshot file at path. The parent
// directory must exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Save writes the snapshot atomically: temporary file in the same
// directory, fsync, rename over the target, fsync the directory.
func (s *Store) Save(snapshot Snapshot) error {
	encoded, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("statefile: encoding snapshot: %w", err)
	}

	directory := filepath.Dir(s.path)
	temporary, err := os.CreateTemp(directory, ".ssostate-*")
	if err != nil {
		return fmt.Errorf("statefile: creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(encoded); err != nil {
		temporary.Close()
		return fmt.Errorf("statefile: writing snapshot: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("statefile: syncing snapshot: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("statefile: closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		return fmt.Errorf("statefile: renaming snapshot into place: %w", err)
	}

	// Fsync the directory so the rename survives a crash.
	directoryFile, err := os.Open(directory)
	if err != nil {
		return fmt.Errorf("statefile: opening directory for sync: %w", err)
	}
	defer directoryFile.Close()
	if err := directoryFile.Sync(); err != nil {
		return fmt.Errorf("statefile: syncing directory: %w", err)
	}
	return nil
}

// Load reads the snapshot. The second return value is false when no
// snapshot exists; that is not an error.
func (s *Store) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("statefile: reading %s: %w", s.path, err)
	}

	var snapshot Snapshot
	if err := codec.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("statefile: decoding %s: %w", s.path, err)
	}
	return snapshot, true, nil
}

// Clear removes the snapshot file. Removing an absent file is a no-op.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("statefile: removing %s: %w", s.path, err)
	}
	return nil
}
