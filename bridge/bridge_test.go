// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/entrabridge/entrabridge/account"
	"github.com/entrabridge/entrabridge/broker"
	"github.com/entrabridge/entrabridge/lib/statefile"
	"github.com/entrabridge/entrabridge/platform"
	"github.com/entrabridge/entrabridge/policy"
)

// fakeBroker stands in for the native broker client across all the
// interfaces the bridge's collaborators consume.
type fakeBroker struct {
	mu           sync.Mutex
	connected    bool
	running      bool
	accounts     []map[string]any
	accountCalls int
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *fakeBroker) setState(connected, running bool) {
	b.mu.Lock()
	b.connected = connected
	b.running = running
	b.mu.Unlock()
}

func (b *fakeBroker) GetAccounts(ctx context.Context) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accountCalls++
	return b.accounts, nil
}

func (b *fakeBroker) AcquireTokenSilently(ctx context.Context, acct map[string]any) (broker.Token, error) {
	return broker.Token{
		AccessToken: "token",
		ExpiresOn:   time.Now().Add(time.Hour).UnixMilli(),
	}, nil
}

func (b *fakeBroker) GetVersion(ctx context.Context) (broker.Version, error) {
	return broker.Version{Native: "0.9", Broker: "2.0.1"}, nil
}

func (b *fakeBroker) AcquirePrtSsoCookie(ctx context.Context, acct map[string]any, ssoURL string) (broker.Cookie, error) {
	return broker.Cookie{Name: "X-Ms-RefreshTokenCredential", Content: "prt"}, nil
}

// fakeDeviceLoader counts device-info resolutions.
type fakeDeviceLoader struct {
	mu    sync.Mutex
	calls int
}

func (d *fakeDeviceLoader) LoadDeviceInfo(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil
}

func (d *fakeDeviceLoader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fixture struct {
	broker   *fakeBroker
	accounts *account.Manager
	platform *platform.BlockingPlatform
	devices  *fakeDeviceLoader
	bridge   *Bridge
}

func newFixture(t *testing.T, apps map[string]bool) *fixture {
	t.Helper()
	br := &fakeBroker{
		connected: true,
		running:   true,
		accounts: []map[string]any{
			{"username": "alice@example.com", "name": "Alice"},
			{"username": "bob@example.com", "name": "Bob"},
		},
	}
	store := statefile.New(filepath.Join(t.TempDir(), "ssostate"))
	accounts, err := account.NewManager(account.ManagerConfig{Broker: br, Store: store})
	if err != nil {
		t.Fatalf("account.NewManager: %v", err)
	}
	policies, err := policy.NewManager(&policy.StaticSource{Apps: apps}, nil)
	if err != nil {
		t.Fatalf("policy.NewManager: %v", err)
	}
	if err := policies.LoadPolicies(context.Background()); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	plat := platform.NewBlocking(platform.Config{})
	if err := plat.Setup(context.Background(), br); err != nil {
		t.Fatalf("platform setup: %v", err)
	}
	devices := &fakeDeviceLoader{}
	b, err := New(Config{Broker: br, Accounts: accounts, Policies: policies, Platform: plat, Devices: devices})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	return &fixture{broker: br, accounts: accounts, platform: plat, devices: devices, bridge: b}
}

func receiveEvent(t *testing.T, events <-chan StateEvent) StateEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a state event")
		return StateEvent{}
	}
}

func TestEnableDisableCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if err := f.accounts.LoadAccounts(ctx); err != nil {
		t.Fatal(err)
	}

	events, cancel := f.bridge.Subscribe()
	defer cancel()

	if err := f.bridge.HandleMenuCommand(ctx, MenuCommand{Command: MenuCommandEnable, Username: "bob@example.com"}); err != nil {
		t.Fatal(err)
	}
	event := receiveEvent(t, events)
	if event.Event != EventStateChanged {
		t.Errorf("event tag = %q", event.Event)
	}
	if !event.Enabled || !event.BrokerOnline || !event.NMConnected {
		t.Errorf("event state = %+v", event)
	}
	if len(event.Accounts) != 2 {
		t.Fatalf("event accounts = %v", event.Accounts)
	}
	var active string
	for _, acct := range event.Accounts {
		if acct.Active {
			active = acct.Username
		}
	}
	if active != "bob@example.com" {
		t.Errorf("active account = %q", active)
	}
	if !f.bridge.Operational() {
		t.Fatal("not operational after enable")
	}
	if event.HostVersion != "0.9" || event.BrokerVersion != "2.0.1" {
		t.Errorf("versions = %q/%q", event.HostVersion, event.BrokerVersion)
	}
	if event.SSOURL != platform.DefaultSSOURL {
		t.Errorf("sso url = %q", event.SSOURL)
	}

	// The platform now injects.
	if _, ok, err := f.platform.DecorateRequest(ctx, platform.DefaultSSOURL+"/x"); !ok || err != nil {
		t.Fatalf("DecorateRequest after enable: ok=%v err=%v", ok, err)
	}

	if err := f.bridge.HandleMenuCommand(ctx, MenuCommand{Command: MenuCommandDisable}); err != nil {
		t.Fatal(err)
	}
	event = receiveEvent(t, events)
	if event.Enabled {
		t.Error("enabled after disable")
	}
	if f.bridge.Operational() {
		t.Fatal("operational after disable")
	}
	if _, ok, _ := f.platform.DecorateRequest(ctx, platform.DefaultSSOURL+"/x"); ok {
		t.Fatal("injected after disable")
	}
}

func TestUnknownMenuCommand(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.bridge.HandleMenuCommand(context.Background(), MenuCommand{Command: "selfDestruct"}); err == nil {
		t.Fatal("unknown command accepted")
	}
}

func TestLatestStateOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	events, cancel := f.bridge.Subscribe()
	defer cancel()

	// Two recomputations without the client draining: only the
	// second is observable.
	f.bridge.NotifyStateChange(ctx, true)
	f.accounts.SetEnabled(true)
	f.bridge.NotifyStateChange(ctx, true)

	event := receiveEvent(t, events)
	if !event.Enabled {
		t.Fatal("received a stale event")
	}
	select {
	case extra := <-events:
		t.Fatalf("second event queued: %+v", extra)
	default:
	}
}

func TestSubscribeReplaysCurrentState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.bridge.NotifyStateChange(ctx, true)

	events, cancel := f.bridge.Subscribe()
	defer cancel()
	event := receiveEvent(t, events)
	if event.Event != EventStateChanged {
		t.Fatalf("replayed event = %+v", event)
	}
}

func TestBrokerOnlineLoadsAccountsOnce(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.bridge.Subscribe()
	defer cancel()

	f.bridge.BrokerStateChanged(true)
	event := receiveEvent(t, events)
	if !event.BrokerOnline {
		t.Errorf("event = %+v", event)
	}
	waitForAccounts := func() bool { return f.accounts.HasAccounts() }
	deadline := time.Now().Add(2 * time.Second)
	for !waitForAccounts() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if !waitForAccounts() {
		t.Fatal("accounts not loaded after broker came online")
	}

	// A second online transition must not reload.
	f.bridge.BrokerStateChanged(true)
	receiveEvent(t, events)
	f.broker.mu.Lock()
	calls := f.broker.accountCalls
	f.broker.mu.Unlock()
	if calls != 1 {
		t.Errorf("getAccounts calls = %d, want 1", calls)
	}
}

func TestBrokerOfflineIsUIOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if err := f.accounts.LoadAccounts(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.bridge.HandleMenuCommand(ctx, MenuCommand{Command: MenuCommandEnable}); err != nil {
		t.Fatal(err)
	}

	events, cancel := f.bridge.Subscribe()
	defer cancel()
	receiveEvent(t, events)

	f.broker.setState(false, false)
	f.bridge.BrokerStateChanged(false)
	event := receiveEvent(t, events)
	if event.BrokerOnline || event.NMConnected {
		t.Errorf("event after offline = %+v", event)
	}
}

func TestBrokerOnlineResolvesDeviceInfo(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.bridge.Subscribe()
	defer cancel()

	f.bridge.BrokerStateChanged(true)
	receiveEvent(t, events)

	deadline := time.Now().Add(2 * time.Second)
	for f.devices.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if f.devices.count() != 1 {
		t.Fatal("device info not resolved after broker came online")
	}

	// Device info follows the account load: a second online transition
	// reloads neither.
	f.bridge.BrokerStateChanged(true)
	receiveEvent(t, events)
	if f.devices.count() != 1 {
		t.Errorf("device resolutions = %d, want 1", f.devices.count())
	}
}

func TestPolicyReconciliationAppliesToFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]bool{"a.com": true, "b.com": false})
	f.platform.SetFilters([]string{platform.DefaultSSOURL + "/*", "https://b.com/*"})

	events, cancel := f.bridge.Subscribe()
	defer cancel()

	f.bridge.NotifyStateChange(ctx, true)
	event := receiveEvent(t, events)
	if !event.PolicyUpdate.Pending {
		t.Fatalf("policy update = %+v", event.PolicyUpdate)
	}

	filters := f.platform.Filters()
	if !slices.Contains(filters, "https://a.com/*") {
		t.Errorf("mandated filter not granted: %v", filters)
	}
	if slices.Contains(filters, "https://b.com/*") {
		t.Errorf("forbidden filter not revoked: %v", filters)
	}
	if !slices.Contains(filters, platform.DefaultSSOURL+"/*") {
		t.Errorf("login filter dropped: %v", filters)
	}

	// Applied means settled: the next recomputation has nothing to do.
	f.bridge.NotifyStateChange(ctx, true)
	event = receiveEvent(t, events)
	if event.PolicyUpdate.Pending {
		t.Fatalf("still pending after apply: %+v", event.PolicyUpdate)
	}
}

func TestEventCarriesPolicyUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]bool{"a.com": true})
	f.bridge.NotifyStateChange(ctx, true)

	events, cancel := f.bridge.Subscribe()
	defer cancel()
	event := receiveEvent(t, events)
	if !event.PolicyUpdate.Pending {
		t.Fatalf("policy update = %+v", event.PolicyUpdate)
	}
	if len(event.PolicyUpdate.FiltersToAdd) != 1 || event.PolicyUpdate.FiltersToAdd[0] != "https://a.com/*" {
		t.Errorf("filters to add = %v", event.PolicyUpdate.FiltersToAdd)
	}
}
