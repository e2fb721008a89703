// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package natemsg implements the native-messaging wire format spoken
// between the bridge and the local broker process: each message is a
// 4-byte little-endian length prefix followed by a JSON document.
//
// The package is organized around the protocol layers:
//
//   - protocol.go: length-prefixed framing over any Reader/Writer
//   - envelope.go: the {command, message} envelope and the tagged
//     success/error result decode
//
// Correlation of responses to requests lives one layer up, in package
// broker — the wire format itself carries no request IDs.
package natemsg
