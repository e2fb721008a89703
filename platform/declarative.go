// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"time"

	"github.com/entrabridge/entrabridge/lib/clock"
)

// refreshInterval is how often the declarative variant re-acquires the
// SSO cookie and replaces its rule while injection is active.
const refreshInterval = 30 * time.Minute

// Rule is a materialized header-injection rule. The embedding request
// layer applies it to every request matching URLFilter on its own,
// without calling back into the platform.
type Rule struct {
	URLFilter string
	Header    HeaderInjection
}

// DeclarativePlatform keeps a single header rule fresh: it acquires an
// SSO cookie when injection is enabled and again on a periodic ticker,
// replacing the rule wholesale each time. Disabling clears the rule
// and stops the ticker.
type DeclarativePlatform struct {
	base
	clock clock.Clock

	// stop is non-nil while the refresh loop runs; guarded by base.mu.
	stop chan struct{}
	rule *Rule
}

// NewDeclarative builds the declarative variant.
func NewDeclarative(config Config, clk clock.Clock) *DeclarativePlatform {
	return &DeclarativePlatform{base: newBase(config), clock: clk}
}

func (p *DeclarativePlatform) Name() string { return "declarative" }

// UpdateRequestHandlers materializes or clears the header rule for the
// new operational state.
func (p *DeclarativePlatform) UpdateRequestHandlers(ctx context.Context, enabled bool, account Identity) error {
	if !p.setHandlerState(enabled, account) {
		p.mu.Lock()
		if p.stop != nil {
			close(p.stop)
			p.stop = nil
		}
		p.rule = nil
		p.mu.Unlock()
		p.logger.Info("network rules cleared")
		return nil
	}

	p.refreshRule(ctx)

	p.mu.Lock()
	if p.stop == nil {
		p.stop = make(chan struct{})
		ticker := p.clock.NewTicker(refreshInterval)
		go p.refreshLoop(ticker, p.stop)
	}
	p.mu.Unlock()
	return nil
}

// Rules returns a snapshot of the active rules, empty while injection
// is inactive.
func (p *DeclarativePlatform) Rules() []Rule {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rule == nil {
		return nil
	}
	return []Rule{*p.rule}
}

// refreshRule acquires a fresh cookie and replaces the rule. On broker
// failure the previous rule stays in place until the next refresh.
func (p *DeclarativePlatform) refreshRule(ctx context.Context) {
	br, account, ok := p.injectionTarget()
	if !ok {
		return
	}
	cookie, err := br.AcquirePrtSsoCookie(ctx, account.BrokerObject(), p.ssoURL)
	if err != nil {
		p.logger.Warn("network rule refresh failed", "error", err)
		return
	}
	p.mu.Lock()
	p.rule = &Rule{
		URLFilter: p.ssoURL + "/*",
		Header:    HeaderInjection{Name: cookie.Name, Value: cookie.Content},
	}
	p.mu.Unlock()
	p.logger.Info("network rules updated")
}

func (p *DeclarativePlatform) refreshLoop(ticker *clock.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.refreshRule(context.Background())
		}
	}
}
