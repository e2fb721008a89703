// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package account owns the set of identities the broker reports, the
// single active selection among them, the access-token cache, and the
// persisted session snapshot that carries the selection across
// restarts.
//
// Accounts restored from the snapshot are provisional ("last known"):
// they let the bridge present a plausible state before the broker has
// answered its first getAccounts call, and are replaced wholesale by
// the broker's authoritative answer.
package account
