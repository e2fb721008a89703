// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"

	"github.com/entrabridge/entrabridge/natemsg"
)

// ErrNotConnected is returned by RPC methods invoked while no
// native-messaging channel exists. Calls fail fast rather than wait
// for a connection.
var ErrNotConnected = errors.New("broker: not connected")

// ErrDisconnected rejects every call still pending when the
// native-messaging channel closes.
var ErrDisconnected = errors.New("broker: connection closed")

// RPCError is an explicit failure reported by the broker for a single
// command. It is recoverable — silent token acquisition failing with
// an interaction-required error is normal operation, not a session
// fault. Callers can use errors.As to reach the broker's detail:
//
//	var rpcErr *broker.RPCError
//	if errors.As(err, &rpcErr) { ... rpcErr.Fault.Detail ... }
type RPCError struct {
	// Command is the RPC the broker rejected.
	Command string

	// Fault carries the broker's error payload verbatim.
	Fault *natemsg.Fault
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("broker: %s failed: %s", e.Command, e.Fault)
}
