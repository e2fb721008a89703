// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/entrabridge/entrabridge/broker"
	"github.com/entrabridge/entrabridge/lib/clock"
)

// DefaultSSOURL is the identity provider's login host. All injection
// targets this URL unless managed policy widens the filter set.
const DefaultSSOURL = "https://login.microsoftonline.com"

// Broker is the slice of the broker client the platform layer needs:
// version discovery at setup and cookie acquisition per injection.
type Broker interface {
	GetVersion(ctx context.Context) (broker.Version, error)
	AcquirePrtSsoCookie(ctx context.Context, account map[string]any, ssoURL string) (broker.Cookie, error)
}

// Identity is the slice of an account the platform needs: the opaque
// broker object for cookie acquisition and the username for display.
type Identity interface {
	Username() string
	BrokerObject() map[string]any
}

// HeaderInjection is one header to set on an outgoing request. The
// value is a short-lived secret and must never be persisted.
type HeaderInjection struct {
	Name  string
	Value string
}

// Versions holds the host and broker version strings reported by
// getVersion, empty until Setup succeeds.
type Versions struct {
	Native string
	Broker string
}

// Capabilities describes what the embedding request layer can do.
// Probed once at startup; New selects the variant from it.
type Capabilities struct {
	// BlockingWebRequest means requests can be decorated synchronously
	// before they are sent.
	BlockingWebRequest bool

	// DeclarativeRules means the embedding layer applies a materialized
	// header rule on its own; the platform only keeps the rule fresh.
	DeclarativeRules bool

	// ShortTitles truncates display titles to the username's local
	// part, for hosts with little title space.
	ShortTitles bool
}

// Platform is the request-interception surface the orchestrator drives.
// Implementations are safe for concurrent use.
type Platform interface {
	// Name identifies the variant, for logging.
	Name() string

	// Setup fetches host and broker versions. A version fetch failure
	// is logged and tolerated: the platform works without versions.
	Setup(ctx context.Context, b Broker) error

	// UpdateRequestHandlers reconfigures interception for the given
	// operational state. A nil account with enabled=true disables
	// injection the same way enabled=false does.
	UpdateRequestHandlers(ctx context.Context, enabled bool, account Identity) error

	// SSOURL returns the login URL injections are scoped to.
	SSOURL() string

	// Filters returns the active URL match patterns. SetFilters
	// replaces them wholesale (policy reconciliation output).
	Filters() []string
	SetFilters(filters []string)

	// HostVersions returns the versions cached by Setup.
	HostVersions() Versions

	// DisplayTitle renders a username for the UI surface.
	DisplayTitle(username string) string
}

// Config carries the shared construction parameters for all variants.
type Config struct {
	// SSOURL overrides DefaultSSOURL. Optional.
	SSOURL string

	// ShortTitles enables local-part title truncation.
	ShortTitles bool

	// Logger is the platform's logger. nil means slog.Default().
	Logger *slog.Logger
}

// New selects the platform variant for the probed capabilities.
// A declarative-rule capability wins over blocking interception,
// matching the preference order of the original hosts.
func New(caps Capabilities, config Config, clk clock.Clock) (Platform, error) {
	config.ShortTitles = config.ShortTitles || caps.ShortTitles
	switch {
	case caps.DeclarativeRules:
		return NewDeclarative(config, clk), nil
	case caps.BlockingWebRequest:
		return NewBlocking(config), nil
	default:
		return nil, fmt.Errorf("platform: no request-interception capability available")
	}
}

// base carries the state shared by both variants.
type base struct {
	ssoURL      string
	shortTitles bool
	logger      *slog.Logger

	mu       sync.Mutex
	broker   Broker
	filters  []string
	versions Versions
	enabled  bool
	account  Identity
}

func newBase(config Config) base {
	ssoURL := config.SSOURL
	if ssoURL == "" {
		ssoURL = DefaultSSOURL
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		ssoURL:      ssoURL,
		shortTitles: config.ShortTitles,
		logger:      logger,
		filters:     []string{ssoURL + "/*"},
	}
}

func (b *base) Setup(ctx context.Context, br Broker) error {
	b.mu.Lock()
	b.broker = br
	b.mu.Unlock()

	versions, err := br.GetVersion(ctx)
	if err != nil {
		b.logger.Warn("host version query failed", "error", err)
		return nil
	}
	b.mu.Lock()
	b.versions = Versions{Native: versions.Native, Broker: versions.Broker}
	b.mu.Unlock()
	b.logger.Info("platform ready",
		"native_version", versions.Native,
		"broker_version", versions.Broker)
	return nil
}

func (b *base) SSOURL() string { return b.ssoURL }

func (b *base) Filters() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	filters := make([]string, len(b.filters))
	copy(filters, b.filters)
	return filters
}

func (b *base) SetFilters(filters []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = make([]string, len(filters))
	copy(b.filters, filters)
}

func (b *base) HostVersions() Versions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.versions
}

func (b *base) DisplayTitle(username string) string {
	if b.shortTitles {
		local, _, _ := strings.Cut(username, "@")
		return local
	}
	return username
}

// setHandlerState records the operational inputs and returns whether
// injection should be active.
func (b *base) setHandlerState(enabled bool, account Identity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
	b.account = account
	return enabled && account != nil
}

// injectionTarget snapshots the broker and account for one cookie
// acquisition. ok is false while injection is inactive.
func (b *base) injectionTarget() (br Broker, account Identity, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled || b.account == nil || b.broker == nil {
		return nil, nil, false
	}
	return b.broker, b.account, true
}
