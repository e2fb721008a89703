// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for the persisted
// session snapshot and the menu channel protocol. Encoding is Core
// Deterministic (RFC 8949 §4.2) so the same logical state always
// produces identical bytes; decoding ignores unknown fields for
// forward compatibility across bridge versions.
package codec
