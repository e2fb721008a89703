// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/entrabridge/entrabridge/account"
	"github.com/entrabridge/entrabridge/platform"
	"github.com/entrabridge/entrabridge/policy"
)

// BrokerStatus is the slice of the broker client the bridge reads:
// channel existence and broker readiness.
type BrokerStatus interface {
	IsConnected() bool
	IsRunning() bool
}

// DeviceLoader resolves device registration information once accounts
// are available. Satisfied by *device.Manager.
type DeviceLoader interface {
	LoadDeviceInfo(ctx context.Context) error
}

// Config holds construction parameters for a Bridge.
type Config struct {
	// Broker reports connection state. Required.
	Broker BrokerStatus

	// Accounts owns the account set and the user toggle. Required.
	Accounts *account.Manager

	// Policies computes the managed-policy reconciliation. Required.
	Policies *policy.Manager

	// Platform is the request-interception surface. Required.
	Platform platform.Platform

	// Devices resolves device compliance after accounts load. Optional;
	// nil skips device lookup.
	Devices DeviceLoader

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Bridge is the orchestrator. Safe for concurrent use.
type Bridge struct {
	broker   BrokerStatus
	accounts *account.Manager
	policies *policy.Manager
	platform platform.Platform
	devices  DeviceLoader
	logger   *slog.Logger

	mu          sync.Mutex
	lastEvent   *StateEvent
	subscribers map[chan StateEvent]struct{}
}

// New validates the config and builds a Bridge.
func New(config Config) (*Bridge, error) {
	if config.Broker == nil {
		return nil, fmt.Errorf("bridge: Broker is required")
	}
	if config.Accounts == nil {
		return nil, fmt.Errorf("bridge: Accounts is required")
	}
	if config.Policies == nil {
		return nil, fmt.Errorf("bridge: Policies is required")
	}
	if config.Platform == nil {
		return nil, fmt.Errorf("bridge: Platform is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		broker:      config.Broker,
		accounts:    config.Accounts,
		policies:    config.Policies,
		platform:    config.Platform,
		devices:     config.Devices,
		logger:      logger,
		subscribers: make(map[chan StateEvent]struct{}),
	}, nil
}

// Operational reports whether cookie injection should be active: the
// user toggle is on and an account is selected.
func (b *Bridge) Operational() bool {
	return b.accounts.Enabled() && b.accounts.Active() != nil
}

// NotifyStateChange recomputes the derived state and fans it out.
// Managed-policy reconciliation is applied to the platform's filter
// set first, so interception always runs against the reconciled scope.
// The platform's request handlers are reconfigured unless uiOnly is
// set or the native channel is down (no injection without a live
// broker). Menu clients always receive the fresh state; the event
// carries the reconciliation actions applied in this recomputation.
func (b *Bridge) NotifyStateChange(ctx context.Context, uiOnly bool) {
	update := b.policies.PolicyUpdate(b.platform.Filters())
	if update.Pending {
		b.applyPolicyUpdate(update)
	}

	if !uiOnly && b.broker.IsConnected() {
		var identity platform.Identity
		if active := b.accounts.Active(); active != nil {
			identity = active
		}
		if err := b.platform.UpdateRequestHandlers(ctx, b.Operational(), identity); err != nil {
			b.logger.Error("updating request handlers", "error", err)
		}
	}

	event := b.buildEvent(update)
	b.mu.Lock()
	b.lastEvent = &event
	for subscriber := range b.subscribers {
		// Latest state only: a slow client's stale event is replaced,
		// never queued behind.
		select {
		case <-subscriber:
		default:
		}
		subscriber <- event
	}
	b.mu.Unlock()
}

// applyPolicyUpdate replaces the platform's filter set with the
// reconciled one: patterns policy mandates are granted, patterns it
// forbids are revoked.
func (b *Bridge) applyPolicyUpdate(update policy.Update) {
	filters := b.platform.Filters()
	merged := make([]string, 0, len(filters)+len(update.FiltersToAdd))
	for _, filter := range filters {
		if !slices.Contains(update.FiltersToRemove, filter) {
			merged = append(merged, filter)
		}
	}
	merged = append(merged, update.FiltersToAdd...)
	b.platform.SetFilters(merged)
	b.logger.Info("managed policy applied",
		"granted", update.FiltersToAdd,
		"revoked", update.FiltersToRemove,
		"catch_all", update.HasCatchAll)
}

// HandleMenuCommand executes one command from a menu client. Both
// commands persist the session and trigger a full state change.
func (b *Bridge) HandleMenuCommand(ctx context.Context, command MenuCommand) error {
	switch command.Command {
	case MenuCommandEnable:
		b.accounts.SetEnabled(true)
		if acct, ok := b.accounts.SelectAccount(command.Username); ok {
			b.logger.Info("account selected", "username", acct.Username())
		} else if command.Username != "" {
			b.logger.Warn("account not registered", "username", command.Username)
		}
	case MenuCommandDisable:
		b.accounts.SetEnabled(false)
		b.accounts.Logout()
		b.logger.Info("SSO disabled")
	default:
		return fmt.Errorf("bridge: unknown menu command %q", command.Command)
	}

	if err := b.accounts.Persist(); err != nil {
		b.logger.Error("persisting session state", "error", err)
	}
	b.NotifyStateChange(ctx, false)
	return nil
}

// BrokerStateChanged is the broker's state-change callback. It returns
// immediately; account loading proceeds on its own goroutine because
// the callback runs on the broker's read loop, where a synchronous RPC
// would deadlock.
func (b *Bridge) BrokerStateChanged(online bool) {
	go b.handleBrokerState(context.Background(), online)
}

func (b *Bridge) handleBrokerState(ctx context.Context, online bool) {
	if online {
		b.logger.Info("connection to broker restored")
		// Only reload when the broker was never seen this session.
		if !b.accounts.HasBrokerData() {
			if err := b.accounts.LoadAccounts(ctx); err != nil {
				b.logger.Error("loading accounts", "error", err)
			} else {
				if err := b.accounts.Persist(); err != nil {
					b.logger.Error("persisting session state", "error", err)
				}
				// Device compliance needs a token, which needs an
				// account: resolvable only from here.
				if b.devices != nil {
					if err := b.devices.LoadDeviceInfo(ctx); err != nil {
						b.logger.Warn("device info unavailable", "error", err)
					}
				}
				b.NotifyStateChange(ctx, false)
			}
		}
	} else {
		b.logger.Info("lost connection to broker")
	}
	b.NotifyStateChange(ctx, true)
}

// ReloadPolicies re-reads managed policy and recomputes state. Wired
// to the policy file watcher.
func (b *Bridge) ReloadPolicies(ctx context.Context) {
	if err := b.policies.LoadPolicies(ctx); err != nil {
		b.logger.Error("loading managed policy", "error", err)
		return
	}
	b.NotifyStateChange(ctx, false)
}

// Subscribe registers a menu-channel listener. The returned channel
// carries the current state immediately (when one has been computed)
// and every later recomputation, latest-only. The cancel function
// unregisters the listener.
func (b *Bridge) Subscribe() (<-chan StateEvent, func()) {
	events := make(chan StateEvent, 1)
	b.mu.Lock()
	b.subscribers[events] = struct{}{}
	if b.lastEvent != nil {
		events <- *b.lastEvent
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, events)
		b.mu.Unlock()
	}
	return events, cancel
}

func (b *Bridge) buildEvent(update policy.Update) StateEvent {
	versions := b.platform.HostVersions()
	registered := b.accounts.Registered()
	menuAccounts := make([]MenuAccount, 0, len(registered))
	for _, acct := range registered {
		menuAccounts = append(menuAccounts, MenuAccount{
			Name:     acct.Name(),
			Username: acct.Username(),
			Avatar:   acct.Avatar(),
			Active:   acct.Active(),
		})
	}
	return StateEvent{
		Event:         EventStateChanged,
		Accounts:      menuAccounts,
		BrokerOnline:  b.broker.IsRunning(),
		NMConnected:   b.broker.IsConnected(),
		Enabled:       b.accounts.Enabled(),
		HostVersion:   versions.Native,
		BrokerVersion: versions.Broker,
		SSOURL:        b.platform.SSOURL(),
		PolicyUpdate:  update,
	}
}
