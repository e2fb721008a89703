// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package natemsg

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// lengthHeaderSize is the fixed size of the native-messaging length
// prefix: a 4-byte little-endian uint32.
const lengthHeaderSize = 4

// maxInboundLength is the maximum accepted broker→bridge message.
// Native messaging hosts may not send more than 1 MB to the browser;
// the broker honors the same bound, so anything larger is a framing
// error, not a legitimate message.
const maxInboundLength = 1 * 1024 * 1024

// maxOutboundLength is the maximum bridge→broker message. Native
// messaging allows up to 64 MB toward the host; requests here are tiny
// (an account object and a URL), so this is purely a sanity bound.
const maxOutboundLength = 64 * 1024 * 1024

// WriteMessage frames v as JSON with a little-endian length prefix and
// writes it to w.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natemsg: encoding message: %w", err)
	}
	if len(payload) > maxOutboundLength {
		return fmt.Errorf("natemsg: message length %d exceeds maximum %d", len(payload), maxOutboundLength)
	}

	var header [lengthHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("natemsg: writing length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("natemsg: writing payload: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r and decodes its JSON
// payload into v. Returns io.EOF unwrapped when the stream ends
// cleanly at a frame boundary, so read loops can distinguish an
// orderly close from a torn frame.
func ReadMessage(r io.Reader, v any) error {
	var header [lengthHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("natemsg: reading length prefix: %w", err)
	}
	payloadLength := binary.LittleEndian.Uint32(header[:])
	if payloadLength > maxInboundLength {
		return fmt.Errorf("natemsg: message length %d exceeds maximum %d", payloadLength, maxInboundLength)
	}

	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("natemsg: reading payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("natemsg: decoding payload: %w", err)
	}
	return nil
}
