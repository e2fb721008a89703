// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy reconciles centrally managed SSO policy against the
// bridge's live permission grants. Administrators distribute a mapping
// from application hostname to enabled/disabled; the bridge holds a
// set of URL match-pattern grants. The manager computes the minimal
// diff between the two: filters to add, filters to remove, and
// whether a catch-all grant must yield to per-host policy.
package policy
