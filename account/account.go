// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"encoding/hex"
	"sync"

	"github.com/zeebo/blake3"
)

// Account is one identity registered with the broker. The broker
// object is opaque to the bridge — it is stored verbatim and passed
// back unchanged on every account-scoped RPC. Safe for concurrent
// use: the broker object is immutable after construction, and the
// mutable flags are guarded by the account's own mutex so readers
// outside the Manager's lock (menu-channel event assembly) never race
// the Manager's mutations.
type Account struct {
	brokerObject map[string]any

	mu sync.Mutex

	// avatar is the encoded profile image, nil until fetched.
	// avatarHash is its BLAKE3 digest, used to detect whether a
	// refresh actually changed the image.
	avatar     []byte
	avatarHash string

	active bool

	// lastKnown marks an account restored from the snapshot and not
	// yet corroborated by a broker getAccounts answer.
	lastKnown bool
}

func newAccount(brokerObject map[string]any) *Account {
	copied := make(map[string]any, len(brokerObject))
	for key, value := range brokerObject {
		copied[key] = value
	}
	return &Account{brokerObject: copied}
}

// Name returns the account's display name.
func (a *Account) Name() string {
	name, _ := a.brokerObject["name"].(string)
	return name
}

// Username returns the account's user principal name, the stable key
// for selection and snapshot restoration.
func (a *Account) Username() string {
	username, _ := a.brokerObject["username"].(string)
	return username
}

// BrokerObject returns the broker-assigned identity object.
func (a *Account) BrokerObject() map[string]any {
	return a.brokerObject
}

// Active reports whether this is the selected account.
func (a *Account) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Account) setActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = active
}

// LastKnown reports whether the account is a provisional snapshot
// restoration.
func (a *Account) LastKnown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastKnown
}

func (a *Account) setLastKnown(lastKnown bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastKnown = lastKnown
}

// Avatar returns the cached encoded profile image, or nil.
func (a *Account) Avatar() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.avatar
}

// setAvatar stores a fetched avatar and reports whether its content
// differs from what was cached before.
func (a *Account) setAvatar(encoded []byte) bool {
	digest := blake3.Sum256(encoded)
	hash := hex.EncodeToString(digest[:])
	a.mu.Lock()
	defer a.mu.Unlock()
	if hash == a.avatarHash {
		return false
	}
	a.avatar = encoded
	a.avatarHash = hash
	return true
}
