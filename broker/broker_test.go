// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/entrabridge/entrabridge/natemsg"
)

// testBroker returns a connected Broker and the far end of its
// transport, playing the broker process.
func testBroker(t *testing.T, onStateChange StateChangeFunc) (*Broker, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	t.Cleanup(func() {
		near.Close()
		far.Close()
	})

	client, err := New(Config{Transport: near, OnStateChange: onStateChange})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	client.Connect()
	return client, far
}

// respond reads one request from the far end and answers it with the
// given message payload under the echoed command name.
func respond(t *testing.T, far net.Conn, message any) natemsg.Request {
	t.Helper()
	var request natemsg.Request
	if err := natemsg.ReadMessage(far, &request); err != nil {
		t.Errorf("reading request: %v", err)
		return request
	}
	reply := map[string]any{"command": request.Command, "message": message}
	if err := natemsg.WriteMessage(far, reply); err != nil {
		t.Errorf("writing response: %v", err)
	}
	return request
}

func TestGetAccounts(t *testing.T) {
	client, far := testBroker(t, nil)

	go func() {
		request := respond(t, far, map[string]any{
			"accounts": []map[string]any{
				{"username": "alice@example.com", "name": "Alice"},
				{"username": "bob@example.com", "name": "Bob"},
			},
		})
		if request.Command != natemsg.CommandGetAccounts {
			t.Errorf("command = %q", request.Command)
		}
	}()

	accounts, err := client.GetAccounts(context.Background())
	if err != nil {
		t.Fatalf("GetAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}
	if accounts[0]["username"] != "alice@example.com" {
		t.Errorf("first account = %v", accounts[0])
	}
}

func TestGetAccountsBrokerError(t *testing.T) {
	client, far := testBroker(t, nil)

	go respond(t, far, map[string]any{
		"error": map[string]any{"code": "broker_unavailable"},
	})

	_, err := client.GetAccounts(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Command != natemsg.CommandGetAccounts {
		t.Errorf("RPCError.Command = %q", rpcErr.Command)
	}
	if rpcErr.Fault.Detail["code"] != "broker_unavailable" {
		t.Errorf("fault detail = %v", rpcErr.Fault.Detail)
	}
}

func TestAcquireTokenSilently(t *testing.T) {
	client, far := testBroker(t, nil)
	expiry := time.Now().Add(time.Hour).UnixMilli()

	go func() {
		request := respond(t, far, map[string]any{
			"brokerTokenResponse": map[string]any{
				"accessToken": "token-bytes",
				"expiresOn":   expiry,
			},
		})
		if request.Account["username"] != "alice@example.com" {
			t.Errorf("account not forwarded: %v", request.Account)
		}
	}()

	token, err := client.AcquireTokenSilently(context.Background(), map[string]any{"username": "alice@example.com"})
	if err != nil {
		t.Fatalf("AcquireTokenSilently: %v", err)
	}
	if token.AccessToken != "token-bytes" || token.ExpiresOn != expiry {
		t.Fatalf("token = %+v", token)
	}
}

func TestAcquirePrtSsoCookieShapes(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		client, far := testBroker(t, nil)
		go respond(t, far, map[string]any{
			"cookieName":    "x-ms-RefreshTokenCredential",
			"cookieContent": "abc",
		})
		cookie, err := client.AcquirePrtSsoCookie(context.Background(), nil, "https://login.microsoftonline.com/")
		if err != nil {
			t.Fatalf("AcquirePrtSsoCookie: %v", err)
		}
		if cookie.Name != "x-ms-RefreshTokenCredential" || cookie.Content != "abc" {
			t.Fatalf("cookie = %+v", cookie)
		}
	})

	t.Run("cookieItems wrapper", func(t *testing.T) {
		client, far := testBroker(t, nil)
		go func() {
			request := respond(t, far, map[string]any{
				"cookieItems": []map[string]any{
					{"cookieName": "X-Ms-RefreshTokenCredential", "cookieContent": "abc"},
					{"cookieName": "second", "cookieContent": "ignored"},
				},
			})
			if request.SSOURL != "https://login.microsoftonline.com" {
				t.Errorf("ssoUrl = %q", request.SSOURL)
			}
		}()
		cookie, err := client.AcquirePrtSsoCookie(context.Background(), nil, "https://login.microsoftonline.com")
		if err != nil {
			t.Fatalf("AcquirePrtSsoCookie: %v", err)
		}
		if cookie.Name != "X-Ms-RefreshTokenCredential" || cookie.Content != "abc" {
			t.Fatalf("cookie = %+v", cookie)
		}
	})
}

func TestGetVersion(t *testing.T) {
	client, far := testBroker(t, nil)
	go respond(t, far, map[string]any{
		"native":             "1.4.0",
		"linuxBrokerVersion": "2.0.1",
	})
	version, err := client.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if version.Native != "1.4.0" || version.Broker != "2.0.1" {
		t.Fatalf("version = %+v", version)
	}
}

func TestBrokerStateChangedEvent(t *testing.T) {
	states := make(chan bool, 4)
	client, far := testBroker(t, func(online bool) { states <- online })

	// A pending call must survive the event untouched: the event is
	// not an RPC response and must not consume queue entries.
	resultCh := make(chan error, 1)
	go func() {
		_, err := client.GetAccounts(context.Background())
		resultCh <- err
	}()

	var request natemsg.Request
	if err := natemsg.ReadMessage(far, &request); err != nil {
		t.Fatalf("reading request: %v", err)
	}

	if err := natemsg.WriteMessage(far, map[string]any{
		"command": natemsg.CommandBrokerStateChanged,
		"message": "online",
	}); err != nil {
		t.Fatalf("writing event: %v", err)
	}

	select {
	case online := <-states:
		if !online {
			t.Fatal("state change reported offline, want online")
		}
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}
	if !client.IsRunning() {
		t.Fatal("IsRunning() = false after online event")
	}

	// Now answer the still-pending call.
	if err := natemsg.WriteMessage(far, map[string]any{
		"command": request.Command,
		"message": map[string]any{"accounts": []map[string]any{}},
	}); err != nil {
		t.Fatalf("writing response: %v", err)
	}
	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("GetAccounts after event: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call never settled — consumed by the event?")
	}

	// Any payload other than "online" means offline.
	if err := natemsg.WriteMessage(far, map[string]any{
		"command": natemsg.CommandBrokerStateChanged,
		"message": "stopping",
	}); err != nil {
		t.Fatalf("writing event: %v", err)
	}
	select {
	case online := <-states:
		if online {
			t.Fatal("state change reported online, want offline")
		}
	case <-time.After(time.Second):
		t.Fatal("offline state change not reported")
	}
	if client.IsRunning() {
		t.Fatal("IsRunning() = true after offline event")
	}
}

func TestDisconnectRejectsPendingCalls(t *testing.T) {
	states := make(chan bool, 1)
	client, far := testBroker(t, func(online bool) { states <- online })

	resultCh := make(chan error, 1)
	go func() {
		_, err := client.GetAccounts(context.Background())
		resultCh <- err
	}()

	// Wait for the request so the call is definitely pending, then
	// kill the channel.
	var request natemsg.Request
	if err := natemsg.ReadMessage(far, &request); err != nil {
		t.Fatalf("reading request: %v", err)
	}
	far.Close()

	select {
	case err := <-resultCh:
		if !errors.Is(err, ErrDisconnected) {
			t.Fatalf("pending call settled with %v, want ErrDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call hung across disconnect")
	}

	select {
	case online := <-states:
		if online {
			t.Fatal("disconnect reported online")
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported via state change")
	}

	if client.IsConnected() || client.IsRunning() {
		t.Fatal("connection flags still set after disconnect")
	}
}

func TestCallFailsFastWhenNotConnected(t *testing.T) {
	near, far := net.Pipe()
	near.Close()
	far.Close()

	client, err := New(Config{Transport: near})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Connect never called: channel not live.
	if _, err := client.GetAccounts(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

// halfOpenTransport reads from r and discards writes, modelling a
// channel whose read side died while the write side still accepts
// frames.
type halfOpenTransport struct {
	r *io.PipeReader
}

func (t *halfOpenTransport) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t *halfOpenTransport) Write(p []byte) (int, error) { return len(p), nil }
func (t *halfOpenTransport) Close() error                { return t.r.Close() }

func TestCallDuringDisconnectSettles(t *testing.T) {
	// Races a call against the disconnect sweep. Whatever the
	// interleaving — rejected before registration, swept while
	// pending, or registered just after the sweep — the caller must
	// settle with an error instead of waiting on a response that can
	// never arrive. The caller's context carries no deadline on
	// purpose: settlement must not depend on one.
	for i := 0; i < 50; i++ {
		pr, pw := io.Pipe()
		client, err := New(Config{Transport: &halfOpenTransport{r: pr}})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		client.Connect()

		done := make(chan error, 1)
		go func() {
			_, err := client.GetVersion(context.Background())
			done <- err
		}()
		pw.CloseWithError(io.ErrUnexpectedEOF)

		select {
		case err := <-done:
			if err == nil {
				t.Fatalf("iteration %d: call succeeded with no responder", i)
			}
			if !errors.Is(err, ErrDisconnected) && !errors.Is(err, ErrNotConnected) {
				t.Fatalf("iteration %d: err = %v, want a connection error", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: call hung across a read-side disconnect", i)
		}
	}
}

func TestAbandonedCallDoesNotStealLaterResponse(t *testing.T) {
	client, far := testBroker(t, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	abandonedCh := make(chan error, 1)
	go func() {
		_, err := client.GetVersion(cancelled)
		abandonedCh <- err
	}()

	var first natemsg.Request
	if err := natemsg.ReadMessage(far, &first); err != nil {
		t.Fatalf("reading first request: %v", err)
	}
	cancel()
	select {
	case err := <-abandonedCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("abandoned call settled with %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("abandoned call did not settle on cancellation")
	}

	// A second call for the same command must receive the next
	// response even though one response (for the abandoned call) is
	// still owed on the wire.
	liveCh := make(chan Version, 1)
	go func() {
		version, err := client.GetVersion(context.Background())
		if err != nil {
			t.Errorf("live GetVersion: %v", err)
		}
		liveCh <- version
	}()

	var second natemsg.Request
	if err := natemsg.ReadMessage(far, &second); err != nil {
		t.Fatalf("reading second request: %v", err)
	}
	if err := natemsg.WriteMessage(far, map[string]any{
		"command": natemsg.CommandGetVersion,
		"message": map[string]any{"native": "live", "linuxBrokerVersion": "live"},
	}); err != nil {
		t.Fatalf("writing response: %v", err)
	}

	select {
	case version := <-liveCh:
		if version.Native != "live" {
			t.Fatalf("live call got %+v", version)
		}
	case <-time.After(time.Second):
		t.Fatal("live call starved by abandoned registration")
	}
}
