// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker exposes the local token broker as a typed asynchronous
// RPC surface over a native-messaging transport.
//
// The wire protocol carries no request IDs: a response is matched to
// its request purely by echoed command name, oldest pending call first.
// The queue in queue.go preserves that per-command FIFO pairing. The
// Broker in broker.go owns the connection lifecycle — one read-loop
// goroutine dispatches inbound messages to the queue, and connection
// loss rejects every outstanding call so nothing waits forever.
//
// The brokerStateChanged event is the one inbound message that is not
// an RPC response; it toggles the broker's online flag and is reported
// through the state-change callback, never through the queue.
package broker
