// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject Fake() and advance time deterministically. Token
// expiry checks and the declarative rule-refresh ticker both depend on
// it — neither can be tested against the wall clock.
package clock
