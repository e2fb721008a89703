// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile persists the bridge's session snapshot: the user
// enable toggle and the registered accounts with their active flag.
// The snapshot lets the bridge present a last-known account at startup
// before the broker has answered its first getAccounts call.
//
// The file is written atomically (temporary file, fsync, rename into
// place, fsync parent directory) so readers never see a partial or
// corrupt snapshot. Absence of the file is not an error — the bridge
// starts enabled with no accounts.
//
// SSO cookies and access tokens are deliberately absent from the
// snapshot type: transient secrets never reach persistent storage.
package statefile
