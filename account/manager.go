// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/entrabridge/entrabridge/broker"
	"github.com/entrabridge/entrabridge/lib/clock"
	"github.com/entrabridge/entrabridge/lib/statefile"
)

// tokenExpiryMargin is subtracted from a cached token's expiry before
// comparing against now. The 60-second buffer absorbs clock skew and
// request latency; a token that would expire mid-request is useless.
const tokenExpiryMargin = 60 * time.Second

// BrokerClient is the subset of the broker RPC surface the manager
// consumes.
type BrokerClient interface {
	GetAccounts(ctx context.Context) ([]map[string]any, error)
	AcquireTokenSilently(ctx context.Context, account map[string]any) (broker.Token, error)
}

// AvatarFetcher fetches a profile photo with a bearer token. Satisfied
// by *graph.Client.
type AvatarFetcher interface {
	ProfilePhoto(ctx context.Context, accessToken string) ([]byte, error)
}

// ManagerConfig holds construction parameters for a Manager.
type ManagerConfig struct {
	// Broker issues getAccounts and acquireTokenSilently calls.
	// Required.
	Broker BrokerClient

	// Avatars fetches profile photos. If nil, avatar refresh is
	// skipped entirely.
	Avatars AvatarFetcher

	// Store persists the session snapshot. If nil, Persist and
	// Restore are no-ops.
	Store *statefile.Store

	// Clock drives token expiry checks. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Manager owns the registered account set and the active selection.
// At most one account is active at any time. Safe for concurrent use.
type Manager struct {
	brokerClient BrokerClient
	avatars      AvatarFetcher
	store        *statefile.Store
	clock        clock.Clock
	logger       *slog.Logger

	mu       sync.Mutex
	accounts []*Account

	// queried is set once a getAccounts call has succeeded this
	// session; further LoadAccounts calls are no-ops until the
	// connection is reset. loading guards the in-flight window so a
	// concurrent caller cannot start a duplicate load while the
	// first is suspended in the RPC.
	queried bool
	loading bool

	// enabled is the user's SSO toggle, persisted with the accounts.
	enabled bool

	// tokens caches access tokens per username.
	tokens map[string]broker.Token
}

// NewManager creates a Manager. The bridge starts enabled; Restore
// overwrites the toggle from the snapshot when one exists.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Broker == nil {
		return nil, fmt.Errorf("account: Broker is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		brokerClient: config.Broker,
		avatars:      config.Avatars,
		store:        config.Store,
		clock:        clk,
		logger:       logger,
		enabled:      true,
		tokens:       make(map[string]broker.Token),
	}, nil
}

// HasBrokerData reports whether a getAccounts call has succeeded this
// session.
func (m *Manager) HasBrokerData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queried
}

// Enabled reports the user's SSO toggle.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetEnabled flips the user's SSO toggle. Call Persist afterwards to
// make it durable.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// LoadAccounts fetches the account set from the broker. Idempotent
// per session: once a fetch has succeeded, further calls return
// immediately without an RPC. A concurrent call while a fetch is in
// flight also returns immediately — the first caller's result stands.
//
// A non-empty result keeps the previously active username when the
// new set still contains it, otherwise the first account becomes
// active. An empty result clears the set and is not an error.
//
// After a successful fetch, avatars are refreshed concurrently for
// all accounts; individual failures are logged and never fail the
// load.
func (m *Manager) LoadAccounts(ctx context.Context) error {
	m.mu.Lock()
	if m.queried || m.loading {
		m.mu.Unlock()
		return nil
	}
	m.loading = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	}()

	fetched, err := m.brokerClient.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("account: loading accounts: %w", err)
	}

	m.mu.Lock()
	m.queried = true
	if len(fetched) == 0 {
		m.logger.Info("no accounts registered")
		m.accounts = nil
		m.mu.Unlock()
		return nil
	}

	previousActive := ""
	for _, existing := range m.accounts {
		if existing.Active() {
			previousActive = existing.Username()
		}
	}

	accounts := make([]*Account, 0, len(fetched))
	for _, brokerObject := range fetched {
		accounts = append(accounts, newAccount(brokerObject))
	}
	m.accounts = accounts
	m.activateLocked(previousActive)
	active := m.activeLocked()
	m.mu.Unlock()

	if active != nil {
		m.logger.Info("active account", "username", active.Username())
	}

	m.refreshAvatars(ctx, accounts)
	return nil
}

// refreshAvatars fetches profile photos for all accounts in parallel.
// Best effort: one account's failure does not abort the others.
func (m *Manager) refreshAvatars(ctx context.Context, accounts []*Account) {
	if m.avatars == nil {
		return
	}
	var pending sync.WaitGroup
	for _, acct := range accounts {
		pending.Add(1)
		go func(acct *Account) {
			defer pending.Done()
			if err := m.refreshAvatar(ctx, acct); err != nil {
				m.logger.Warn("could not refresh profile picture",
					"username", acct.Username(), "error", err)
			}
		}(acct)
	}
	pending.Wait()
}

func (m *Manager) refreshAvatar(ctx context.Context, acct *Account) error {
	token, err := m.Token(ctx, acct)
	if err != nil {
		return err
	}
	encoded, err := m.avatars.ProfilePhoto(ctx, token.AccessToken)
	if err != nil {
		return err
	}
	if acct.setAvatar(encoded) {
		m.logger.Debug("avatar updated", "username", acct.Username())
	}
	return nil
}

// Token returns a cached access token for the account while it has
// more than the expiry margin left, acquiring a fresh one silently
// otherwise.
func (m *Manager) Token(ctx context.Context, acct *Account) (broker.Token, error) {
	username := acct.Username()

	m.mu.Lock()
	cached, ok := m.tokens[username]
	m.mu.Unlock()
	if ok {
		expiry := time.UnixMilli(cached.ExpiresOn).Add(-tokenExpiryMargin)
		if m.clock.Now().Before(expiry) {
			return cached, nil
		}
	}

	token, err := m.brokerClient.AcquireTokenSilently(ctx, acct.BrokerObject())
	if err != nil {
		return broker.Token{}, fmt.Errorf("account: acquiring token for %s: %w", username, err)
	}

	m.mu.Lock()
	m.tokens[username] = token
	m.mu.Unlock()
	return token, nil
}

// SelectAccount deactivates all accounts, then activates the one
// matching username — or the first registered account when username
// is empty. Returns the newly active account. When username names no
// registered account, no account remains active and the second return
// value is false; callers must treat that as "no active account".
func (m *Manager) SelectAccount(username string) (*Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acct := range m.accounts {
		acct.setActive(false)
	}
	if len(m.accounts) == 0 {
		return nil, false
	}
	if username == "" {
		m.accounts[0].setActive(true)
		return m.accounts[0], true
	}
	for _, acct := range m.accounts {
		if acct.Username() == username {
			acct.setActive(true)
			return acct, true
		}
	}
	m.logger.Warn("account not found", "username", username)
	return nil, false
}

// Logout deactivates all accounts. The registered set is kept — the
// user can re-enable without a broker round trip.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		acct.setActive(false)
	}
}

// Active returns the account with the active flag, or nil.
func (m *Manager) Active() *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// Registered returns the registered accounts in broker order.
func (m *Manager) Registered() []*Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Account(nil), m.accounts...)
}

// HasAccounts reports whether any account is registered.
func (m *Manager) HasAccounts() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts) > 0
}

// Persist writes the session snapshot. Skipped while no account is
// registered — an empty session would overwrite a useful snapshot
// with nothing.
func (m *Manager) Persist() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	if len(m.accounts) == 0 {
		m.mu.Unlock()
		return nil
	}
	snapshot := statefile.Snapshot{Enabled: m.enabled}
	for _, acct := range m.accounts {
		snapshot.Accounts = append(snapshot.Accounts, statefile.AccountState{
			BrokerObject: acct.brokerObject,
			Active:       acct.Active(),
		})
	}
	m.mu.Unlock()

	if err := m.store.Save(snapshot); err != nil {
		return fmt.Errorf("account: persisting session: %w", err)
	}
	return nil
}

// Restore loads the session snapshot. Without one, the bridge starts
// enabled with no accounts — absence of state must not lock the user
// out of SSO. Restored accounts are provisional until the next
// successful LoadAccounts.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	snapshot, ok, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("account: restoring session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.enabled = true
		return nil
	}
	m.enabled = snapshot.Enabled
	m.accounts = nil
	for _, state := range snapshot.Accounts {
		acct := newAccount(state.BrokerObject)
		acct.setActive(state.Active)
		acct.setLastKnown(true)
		m.accounts = append(m.accounts, acct)
	}
	m.logger.Info("session restored", "accounts", len(m.accounts), "enabled", m.enabled)
	return nil
}

// ResetBrokerData clears the queried flag and the token cache after a
// connection reset, so the next LoadAccounts fetches fresh data.
func (m *Manager) ResetBrokerData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queried = false
	m.tokens = make(map[string]broker.Token)
}

// activateLocked restores the active marker: the account matching
// username when present, otherwise the first account.
func (m *Manager) activateLocked(username string) {
	if len(m.accounts) == 0 {
		return
	}
	for _, acct := range m.accounts {
		if username != "" && acct.Username() == username {
			acct.setActive(true)
			return
		}
	}
	m.accounts[0].setActive(true)
}

func (m *Manager) activeLocked() *Account {
	for _, acct := range m.accounts {
		if acct.Active() {
			return acct
		}
	}
	return nil
}
