// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "github.com/entrabridge/entrabridge/policy"

// Menu-channel commands (client → daemon).
const (
	MenuCommandEnable  = "enable"
	MenuCommandDisable = "disable"
)

// EventStateChanged tags every daemon → client event.
const EventStateChanged = "stateChanged"

// MenuCommand is one request from a menu client. Commands carry no
// direct response; the client observes the effect through the next
// stateChanged event.
type MenuCommand struct {
	Command string `cbor:"command"`

	// Username selects the account to activate for the enable
	// command. Empty means the first registered account.
	Username string `cbor:"username,omitempty"`
}

// MenuAccount is the menu-facing projection of a registered account.
type MenuAccount struct {
	Name     string `cbor:"name"`
	Username string `cbor:"username"`
	Avatar   []byte `cbor:"avatar,omitempty"`
	Active   bool   `cbor:"active"`
}

// StateEvent is the full derived state, sent to every menu client on
// each recomputation.
type StateEvent struct {
	Event         string        `cbor:"event"`
	Accounts      []MenuAccount `cbor:"accounts"`
	BrokerOnline  bool          `cbor:"broker_online"`
	NMConnected   bool          `cbor:"nm_connected"`
	Enabled       bool          `cbor:"enabled"`
	HostVersion   string        `cbor:"host_version"`
	BrokerVersion string        `cbor:"broker_version"`
	SSOURL        string        `cbor:"sso_url"`
	PolicyUpdate  policy.Update `cbor:"gpo_update"`
}
