// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/entrabridge/entrabridge/natemsg"
)

// Transport is the duplex native-messaging channel to the broker
// process: in production the stdin/stdout pipes of the spawned host,
// in tests an in-memory pipe pair.
type Transport = io.ReadWriteCloser

// StateChangeFunc is invoked when the broker's reachability changes:
// with true/false for the unsolicited brokerStateChanged event, and
// with false when the channel itself closes. Invoked from the read
// loop — implementations must not call back into the Broker's RPC
// methods synchronously if they want to avoid self-deadlock on slow
// transports; dispatching to another goroutine is the usual shape.
type StateChangeFunc func(online bool)

// Config holds construction parameters for a Broker.
type Config struct {
	// Transport is the native-messaging channel. Required.
	Transport Transport

	// OnStateChange receives broker reachability transitions. If nil,
	// transitions are only logged. Called from the read loop: the
	// callback must not issue broker RPCs synchronously, or responses
	// can never be read and the call deadlocks.
	OnStateChange StateChangeFunc

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Broker is the typed RPC client for the native token broker. Safe
// for concurrent use; responses settle callers in per-command FIFO
// order (see package doc).
type Broker struct {
	transport Transport
	notify    StateChangeFunc
	logger    *slog.Logger
	queue     *handlerQueue

	// writeMu serializes frames on the transport. Interleaved writes
	// would corrupt the length-prefixed stream.
	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool
	online    bool
}

// New creates a Broker over the given transport. Call Connect to
// start the read loop before issuing RPCs.
func New(config Config) (*Broker, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("broker: Transport is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notify := config.OnStateChange
	if notify == nil {
		notify = func(bool) {}
	}
	return &Broker{
		transport: config.Transport,
		notify:    notify,
		logger:    logger,
		queue:     newHandlerQueue(logger),
	}, nil
}

// Connect marks the channel live and starts the read loop. The loop
// runs until the transport reports an error or EOF, at which point
// every pending call is rejected with ErrDisconnected and the
// state-change callback fires with false.
func (b *Broker) Connect() {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	go b.readLoop()
	b.logger.Info("broker connection established")
}

// Close tears down the transport. The read loop observes the closed
// channel and performs the usual disconnect handling.
func (b *Broker) Close() error {
	return b.transport.Close()
}

// IsConnected reports whether the native-messaging channel exists.
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// IsRunning reports whether the broker process has announced
// readiness. Distinct from IsConnected: the channel can exist while
// the broker is still starting up. Online implies connected.
func (b *Broker) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

// Token is a silent token acquisition result. Fields beyond the two
// the bridge consumes are broker-internal and intentionally dropped.
type Token struct {
	// AccessToken is the bearer token for identity-provider HTTP
	// calls. Never persisted.
	AccessToken string `json:"accessToken"`

	// ExpiresOn is the expiry instant in Unix milliseconds.
	ExpiresOn int64 `json:"expiresOn"`
}

// Cookie is a PRT SSO cookie artifact: one header name/value pair
// bound to the (account, ssoUrl) it was requested for. Never cached
// across request-construction cycles and never persisted.
type Cookie struct {
	Name    string `json:"cookieName"`
	Content string `json:"cookieContent"`
}

// Version reports the native host and broker version strings.
type Version struct {
	Native string `json:"native"`
	Broker string `json:"linuxBrokerVersion"`
}

// GetAccounts returns the broker's registered accounts as opaque
// identity objects, passed back verbatim on later account-scoped RPCs.
// Zero accounts is a valid result.
func (b *Broker) GetAccounts(ctx context.Context) ([]map[string]any, error) {
	payload, err := b.call(ctx, natemsg.Request{Command: natemsg.CommandGetAccounts})
	if err != nil {
		return nil, err
	}
	var result struct {
		Accounts []map[string]any `json:"accounts"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("broker: decoding getAccounts response: %w", err)
	}
	return result.Accounts, nil
}

// AcquireTokenSilently asks the broker for an access token for the
// given account without user interaction. An RPCError (for example
// interaction_required) is a recoverable per-account condition.
func (b *Broker) AcquireTokenSilently(ctx context.Context, account map[string]any) (Token, error) {
	payload, err := b.call(ctx, natemsg.Request{
		Command: natemsg.CommandAcquireTokenSilently,
		Account: account,
	})
	if err != nil {
		return Token{}, err
	}
	var result struct {
		BrokerTokenResponse Token `json:"brokerTokenResponse"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return Token{}, fmt.Errorf("broker: decoding acquireTokenSilently response: %w", err)
	}
	return result.BrokerTokenResponse, nil
}

// AcquirePrtSsoCookie requests a PRT SSO cookie for account and the
// navigation target ssoURL. Two broker generations answer this call
// differently — a flat cookie object, or a cookieItems list (newer
// brokers; the first item is the cookie). Both shapes are accepted.
func (b *Broker) AcquirePrtSsoCookie(ctx context.Context, account map[string]any, ssoURL string) (Cookie, error) {
	payload, err := b.call(ctx, natemsg.Request{
		Command: natemsg.CommandAcquirePrtSsoCookie,
		Account: account,
		SSOURL:  ssoURL,
	})
	if err != nil {
		return Cookie{}, err
	}

	var wrapped struct {
		CookieItems []Cookie `json:"cookieItems"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && len(wrapped.CookieItems) > 0 {
		return wrapped.CookieItems[0], nil
	}

	var flat Cookie
	if err := json.Unmarshal(payload, &flat); err != nil {
		return Cookie{}, fmt.Errorf("broker: decoding acquirePrtSsoCookie response: %w", err)
	}
	if flat.Name == "" {
		return Cookie{}, fmt.Errorf("broker: acquirePrtSsoCookie response carries no cookie")
	}
	return flat, nil
}

// GetVersion returns the native host and broker version strings.
func (b *Broker) GetVersion(ctx context.Context) (Version, error) {
	payload, err := b.call(ctx, natemsg.Request{Command: natemsg.CommandGetVersion})
	if err != nil {
		return Version{}, err
	}
	var version Version
	if err := json.Unmarshal(payload, &version); err != nil {
		return Version{}, fmt.Errorf("broker: decoding getVersion response: %w", err)
	}
	return version, nil
}

// call sends one request and waits for the matching response. The
// pending call is registered before the frame is written so the read
// loop can never observe a response without its call. A cancelled
// context unregisters the call; if settlement won the race, the
// settled outcome is returned instead of the cancellation.
func (b *Broker) call(ctx context.Context, request natemsg.Request) (json.RawMessage, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	call := b.queue.register(request.Command)

	// A disconnect between the connected check and registration has
	// already swept the queue; a call registered after the sweep would
	// wait forever. Re-check now that the call is visible to the sweep.
	if !b.IsConnected() {
		if b.queue.remove(call) {
			return nil, ErrDisconnected
		}
		settled := <-call.done
		return settled.payload, settled.err
	}

	b.writeMu.Lock()
	writeErr := natemsg.WriteMessage(b.transport, request)
	b.writeMu.Unlock()
	if writeErr != nil {
		if b.queue.remove(call) {
			return nil, fmt.Errorf("broker: sending %s: %w", request.Command, writeErr)
		}
		// A concurrent disconnect already settled the call; report
		// that outcome rather than the raw write error.
		settled := <-call.done
		return settled.payload, settled.err
	}

	select {
	case settled := <-call.done:
		return settled.payload, settled.err
	case <-ctx.Done():
		if b.queue.remove(call) {
			return nil, fmt.Errorf("broker: %s abandoned: %w", request.Command, ctx.Err())
		}
		settled := <-call.done
		return settled.payload, settled.err
	}
}

// readLoop drains the transport, dispatching each inbound message,
// until the channel dies.
func (b *Broker) readLoop() {
	for {
		var response natemsg.Response
		err := natemsg.ReadMessage(b.transport, &response)
		if err != nil {
			b.handleDisconnect(err)
			return
		}
		b.dispatch(response)
	}
}

// dispatch routes one inbound message. The brokerStateChanged event
// is recognized before any queue interaction: routing it through the
// queue would wrongly consume a pending call.
func (b *Broker) dispatch(response natemsg.Response) {
	if response.Command == natemsg.CommandBrokerStateChanged {
		var state string
		if err := json.Unmarshal(response.Message, &state); err != nil {
			b.logger.Warn("undecodable brokerStateChanged payload", "error", err)
			state = ""
		}
		online := state == natemsg.BrokerStateOnline
		b.mu.Lock()
		b.online = online
		b.mu.Unlock()
		b.logger.Info("broker state changed", "online", online)
		b.notify(online)
		return
	}

	switch response.Command {
	case natemsg.CommandGetAccounts,
		natemsg.CommandAcquireTokenSilently,
		natemsg.CommandAcquirePrtSsoCookie,
		natemsg.CommandGetVersion:
		payload, fault, err := natemsg.DecodeResult(response.Message)
		if err != nil {
			b.queue.reject(response.Command, fmt.Errorf("broker: %s response: %w", response.Command, err))
			return
		}
		if fault != nil {
			b.queue.reject(response.Command, &RPCError{Command: response.Command, Fault: fault})
			return
		}
		b.queue.resolve(response.Command, payload)
	default:
		b.logger.Warn("unknown command from broker", "command", response.Command)
	}
}

// handleDisconnect converts a dead channel into state: connected and
// online drop to false, every pending call rejects with
// ErrDisconnected, and the state-change callback reports offline.
func (b *Broker) handleDisconnect(cause error) {
	b.mu.Lock()
	wasConnected := b.connected
	b.connected = false
	b.online = false
	b.mu.Unlock()

	if !wasConnected {
		return
	}

	if cause == io.EOF {
		b.logger.Error("native application connection closed")
	} else {
		b.logger.Error("error in native application connection", "error", cause)
	}

	pending := b.queue.depth()
	if pending > 0 {
		b.logger.Warn("rejecting pending calls on disconnect", "pending", pending)
	}
	b.queue.rejectAll(ErrDisconnected)
	b.notify(false)
}
