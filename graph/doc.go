// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph is a minimal client for the identity provider's HTTP
// API. The bridge consumes exactly two endpoints: the profile photo
// (avatar caching) and the device record (compliance display). Both
// are best-effort decorations — every caller treats failure as
// non-fatal.
package graph
