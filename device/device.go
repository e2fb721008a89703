// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/entrabridge/entrabridge/account"
	"github.com/entrabridge/entrabridge/graph"
)

// Device is the resolved directory record of this machine.
type Device struct {
	// Name is the device's display name in the directory.
	Name string

	// Compliant reports whether the device satisfies the tenant's
	// compliance policy.
	Compliant bool
}

// DeviceFetcher fetches a device record by ID. Satisfied by
// *graph.Client.
type DeviceFetcher interface {
	DeviceByID(ctx context.Context, accessToken, deviceID string) (graph.Device, error)
}

// Manager caches the device record. Best effort throughout: a missing
// claim or failed fetch leaves the record absent and is never
// escalated.
type Manager struct {
	accounts *account.Manager
	fetcher  DeviceFetcher
	logger   *slog.Logger

	mu     sync.Mutex
	device *Device
}

// NewManager creates a Manager resolving device state through the
// given account manager's tokens.
func NewManager(accounts *account.Manager, fetcher DeviceFetcher, logger *slog.Logger) (*Manager, error) {
	if accounts == nil {
		return nil, fmt.Errorf("device: account manager is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("device: fetcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{accounts: accounts, fetcher: fetcher, logger: logger}, nil
}

// LoadDeviceInfo resolves and caches the device record. A no-op when
// no account is registered.
func (m *Manager) LoadDeviceInfo(ctx context.Context) error {
	registered := m.accounts.Registered()
	if len(registered) == 0 {
		return nil
	}

	token, err := m.accounts.Token(ctx, registered[0])
	if err != nil {
		return fmt.Errorf("device: acquiring token: %w", err)
	}

	deviceID, err := deviceIDClaim(token.AccessToken)
	if err != nil {
		m.logger.Info("access token carries no deviceid grant", "error", err)
		return nil
	}

	record, err := m.fetcher.DeviceByID(ctx, token.AccessToken, deviceID)
	if err != nil {
		return fmt.Errorf("device: querying device state: %w", err)
	}

	m.mu.Lock()
	m.device = &Device{Name: record.Name, Compliant: record.Compliant}
	m.mu.Unlock()
	m.logger.Info("device state loaded", "name", record.Name, "compliant", record.Compliant)
	return nil
}

// Device returns the cached record, or nil when none has been
// resolved.
func (m *Manager) Device() *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// deviceIDClaim extracts the deviceid claim from an access token
// without signature verification — the bridge is not the token's
// audience and holds no keys; the identity provider validates the
// token when it is used.
func deviceIDClaim(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("parsing access token: %w", err)
	}
	deviceID, ok := claims["deviceid"].(string)
	if !ok || deviceID == "" {
		return "", fmt.Errorf("deviceid claim absent")
	}
	return deviceID, nil
}
