// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform abstracts the request-interception mechanism that
// injects SSO cookies into outgoing identity-provider requests.
//
// Two variants exist, selected once at startup by capability probing:
// a blocking variant that decorates each request as it is built, and a
// declarative variant that materializes a header rule and refreshes it
// on a timer. Hosts with cramped UI surfaces additionally truncate
// display titles to the username's local part.
package platform
