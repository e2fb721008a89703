// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package natemsg

import (
	"encoding/json"
	"fmt"
)

// Command names of the broker RPC surface. Responses echo the command
// name of the request they answer; CommandBrokerStateChanged is the
// one message the broker sends unsolicited.
const (
	CommandGetAccounts          = "getAccounts"
	CommandAcquireTokenSilently = "acquireTokenSilently"
	CommandAcquirePrtSsoCookie  = "acquirePrtSsoCookie"
	CommandGetVersion           = "getVersion"
	CommandBrokerStateChanged   = "brokerStateChanged"
)

// BrokerStateOnline is the brokerStateChanged payload announcing
// readiness. Any other payload means offline.
const BrokerStateOnline = "online"

// Request is an outbound bridge→broker message.
type Request struct {
	// Command selects the broker operation.
	Command string `json:"command"`

	// Account is the broker-assigned identity object, passed back
	// verbatim for account-scoped commands. Omitted otherwise.
	Account map[string]any `json:"account,omitempty"`

	// SSOURL is the navigation target for acquirePrtSsoCookie.
	SSOURL string `json:"ssoUrl,omitempty"`
}

// Response is an inbound broker→bridge message: the echoed command
// name plus a command-specific payload.
type Response struct {
	// Command names the request this response answers, or
	// brokerStateChanged for the unsolicited readiness event.
	Command string `json:"command"`

	// Message is the command-specific payload, decoded by the caller
	// once the command has been dispatched.
	Message json.RawMessage `json:"message"`
}

// Fault is the broker's explicit error payload, carried verbatim.
type Fault struct {
	// Detail holds the broker's error object as-is. The broker's
	// field set varies across versions; nothing here is interpreted
	// beyond presence.
	Detail map[string]any
}

// String renders the fault detail for logging.
func (f *Fault) String() string {
	encoded, err := json.Marshal(f.Detail)
	if err != nil {
		return fmt.Sprintf("%v", f.Detail)
	}
	return string(encoded)
}

// DecodeResult splits a response payload into its success and error
// variants, decoded exactly once at the parse boundary. A payload that
// is a JSON object containing an "error" member is the broker's error
// variant; everything else is success. The returned payload is the raw
// message unchanged on success, nil on error.
func DecodeResult(message json.RawMessage) (json.RawMessage, *Fault, error) {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	// Non-object payloads (strings, arrays) cannot carry an error
	// member; the unmarshal failure below is expected for them.
	if err := json.Unmarshal(message, &probe); err != nil || probe.Error == nil {
		return message, nil, nil
	}

	var detail map[string]any
	if err := json.Unmarshal(probe.Error, &detail); err != nil {
		// Error variants that are not objects (a bare string) are
		// wrapped so the detail is never lost.
		var scalar any
		if scalarErr := json.Unmarshal(probe.Error, &scalar); scalarErr != nil {
			return nil, nil, fmt.Errorf("natemsg: undecodable error payload: %w", err)
		}
		detail = map[string]any{"error": scalar}
	}
	return nil, &Fault{Detail: detail}, nil
}
