// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Ssobridge-broker-mock is a drop-in replacement for the native token
// broker in integration tests. It speaks the native-messaging protocol
// on stdin/stdout, serves two fake accounts with otherwise valid data,
// and issues tokens and PRT cookies that decode but cannot be used for
// real SSO. On startup it announces brokerStateChanged "online", like
// a real broker that has a session.
//
// Point the daemon's broker.command at this binary to run the whole
// bridge without a broker installation.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"

	"github.com/entrabridge/entrabridge/natemsg"
)

// mockTenant is random but stable, so account identifiers survive
// restarts of the mock.
const mockTenant = "f52f0148-c8bb-4ee1-899b-8f93b0e4d63d"

var graphScopes = "https://graph.microsoft.com/.default"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var wrapCookieItems bool
	pflag.BoolVar(&wrapCookieItems, "cookie-items", false, "answer acquirePrtSsoCookie with the newer cookieItems response shape")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mock := &mockBroker{
		out:             os.Stdout,
		wrapCookieItems: wrapCookieItems,
		logger:          logger,
	}

	if err := mock.announce(natemsg.BrokerStateOnline); err != nil {
		return err
	}

	for {
		var request natemsg.Request
		if err := natemsg.ReadMessage(os.Stdin, &request); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		if err := mock.handle(request); err != nil {
			return err
		}
	}
}

type mockBroker struct {
	out             io.Writer
	wrapCookieItems bool
	logger          *slog.Logger
}

func (m *mockBroker) handle(request natemsg.Request) error {
	m.logger.Info("request", "command", request.Command)

	var message any
	switch request.Command {
	case natemsg.CommandGetAccounts:
		message = map[string]any{"accounts": mockAccounts()}
	case natemsg.CommandAcquireTokenSilently:
		message = map[string]any{
			"brokerTokenResponse": map[string]any{
				"accessToken":       signToken(jwt.MapClaims{"scopes": graphScopes, "deviceid": "a975168d-a362-458b-af1c-a8982b1e8aac"}),
				"accessTokenType":   0,
				"idToken":           signToken(jwt.MapClaims{"scopes": graphScopes}),
				"account":           request.Account,
				"expiresOn":         time.Now().Add(time.Hour).Unix() * 1000,
				"extendedExpiresOn": time.Now().Add(2*time.Hour).Unix() * 1000,
			},
		}
	case natemsg.CommandAcquirePrtSsoCookie:
		cookie := map[string]any{
			"cookieName":    "x-ms-RefreshTokenCredential",
			"cookieContent": signToken(jwt.MapClaims{"scopes": graphScopes}),
		}
		if m.wrapCookieItems {
			message = map[string]any{"cookieItems": []any{cookie}}
		} else {
			cookie["account"] = request.Account
			message = cookie
		}
	case natemsg.CommandGetVersion:
		message = map[string]any{
			"native":             "0.9-mock",
			"linuxBrokerVersion": "2.0.1-mock",
		}
	default:
		message = map[string]any{
			"error": fmt.Sprintf("unknown command %q", request.Command),
		}
	}

	return m.write(request.Command, message)
}

// announce sends the unsolicited brokerStateChanged event.
func (m *mockBroker) announce(state string) error {
	return m.write(natemsg.CommandBrokerStateChanged, state)
}

func (m *mockBroker) write(command string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return natemsg.WriteMessage(m.out, natemsg.Response{
		Command: command,
		Message: payload,
	})
}

func mockAccounts() []map[string]any {
	return []map[string]any{
		mockAccount("Account, Test (My Org Code)", "test.account@my-org.example.com", "a975168d-a362-458b-af1c-a8982b1e8aac"),
		mockAccount("Account, Admin (My Org Code)", "test.admin@my-org.example.com", "2f205376-88f7-47a4-be93-8aa7cae8e4fa"),
	}
}

func mockAccount(name, username, localID string) map[string]any {
	return map[string]any{
		"name":           name,
		"givenName":      name,
		"username":       username,
		"homeAccountId":  mockTenant + "-" + localID,
		"localAccountId": localID,
		"realm":          mockTenant,
	}
}

// signToken builds an HS256 token with a throwaway key. The bridge
// never verifies signatures; the token only needs to decode.
func signToken(claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		panic(err)
	}
	return token
}
