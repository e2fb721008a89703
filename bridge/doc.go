// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge wires the broker client, account manager, policy
// manager, and platform together: it derives the operational state,
// reconfigures request interception on every state change, and fans
// the resulting state out to menu clients over a unix-socket channel.
//
// Operational state is derived, never stored: the bridge injects
// cookies only while the user toggle is on AND an account is active.
// Menu clients observe only the latest computed state; intermediate
// states are not queued.
package bridge
