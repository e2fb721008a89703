// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Source provides the managed policy value. The bridge reads the
// wellKnownApps mapping from it at startup and again on every change
// notification from the backing store.
type Source interface {
	// WellKnownApps returns the hostname→enabled mapping. The second
	// return value is false when the backing store has no such key —
	// which is not an error, merely "no policy configured".
	WellKnownApps(ctx context.Context) (map[string]bool, bool, error)
}

// Update is the reconciliation result: the actions needed to bring
// the bridge's permission grants in line with managed policy.
type Update struct {
	// Pending is true when any add/remove action is required.
	Pending bool `cbor:"pending" json:"pending"`

	// FiltersToAdd lists URL match patterns policy mandates but the
	// bridge does not hold.
	FiltersToAdd []string `cbor:"filters_to_add" json:"filters_to_add"`

	// FiltersToRemove lists granted patterns policy forbids,
	// including a catch-all grant when one is present.
	FiltersToRemove []string `cbor:"filters_to_remove" json:"filters_to_remove"`

	// HasCatchAll is true when the active filters include a blanket
	// all-hosts grant. Per-host policy cannot be enforced under a
	// blanket grant, so the catch-all always yields: it is scheduled
	// for removal regardless of any per-host enabled flags.
	HasCatchAll bool `cbor:"has_catch_all" json:"has_catch_all"`

	// Apps is the managed mapping the update was computed from. Nil
	// when no policy is configured.
	Apps map[string]bool `cbor:"apps_managed" json:"apps_managed"`
}

// Manager holds the loaded managed policy. Safe for concurrent use.
// The policy is never mutated in place — LoadPolicies replaces it
// wholesale.
type Manager struct {
	source Source
	logger *slog.Logger

	mu   sync.Mutex
	apps map[string]bool
}

// NewManager creates a Manager reading from source.
func NewManager(source Source, logger *slog.Logger) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("policy: Source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{source: source, logger: logger}, nil
}

// LoadPolicies reads the managed mapping. When the backing store has
// no policy key, the previously loaded state (or none) stands —
// callers re-invoke on every change notification, and a notification
// about an unrelated key must not wipe a loaded policy.
func (m *Manager) LoadPolicies(ctx context.Context) error {
	apps, ok, err := m.source.WellKnownApps(ctx)
	if err != nil {
		return fmt.Errorf("policy: loading managed policy: %w", err)
	}
	if !ok {
		m.logger.Debug("no managed policy configured")
		return nil
	}

	copied := make(map[string]bool, len(apps))
	for host, enabled := range apps {
		copied[host] = enabled
	}
	m.mu.Lock()
	m.apps = copied
	m.mu.Unlock()
	m.logger.Info("managed policies loaded", "hosts", len(copied))
	return nil
}

// Apps returns the loaded mapping, or nil when no policy is
// configured.
func (m *Manager) Apps() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.apps == nil {
		return nil
	}
	copied := make(map[string]bool, len(m.apps))
	for host, enabled := range m.apps {
		copied[host] = enabled
	}
	return copied
}

// PolicyUpdate computes the diff between the managed policy and the
// given active filters (URL match patterns already granted).
//
// Rules: a disabled host whose filter is granted → remove that
// concrete filter; an enabled host with no granted filter → add
// "https://<host>/*"; a catch-all grant → flagged and removed. With
// no policy configured, the update only reports whether a catch-all
// exists — no actions are taken on unmanaged deployments.
func (m *Manager) PolicyUpdate(activeFilters []string) Update {
	catchAll := ""
	for _, filter := range activeFilters {
		if matchesFilter(filter, "*") {
			catchAll = filter
			break
		}
	}

	update := Update{
		FiltersToAdd:    []string{},
		FiltersToRemove: []string{},
		HasCatchAll:     catchAll != "",
		Apps:            m.Apps(),
	}
	if update.Apps == nil {
		return update
	}

	if update.HasCatchAll {
		update.FiltersToRemove = append(update.FiltersToRemove, catchAll)
		update.Pending = true
	}
	hosts := make([]string, 0, len(update.Apps))
	for host := range update.Apps {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	for _, host := range hosts {
		enabled := update.Apps[host]
		granted := ""
		for _, filter := range activeFilters {
			if matchesFilter(filter, host) {
				granted = filter
				break
			}
		}
		switch {
		case !enabled && granted != "":
			update.FiltersToRemove = append(update.FiltersToRemove, granted)
			update.Pending = true
		case enabled && granted == "":
			update.FiltersToAdd = append(update.FiltersToAdd, "https://"+host+"/*")
			update.Pending = true
		}
	}
	return update
}

// matchesFilter reports whether a granted URL match pattern covers a
// policy hostname. Scheme wildcards are normalized to https before
// comparing — "*://a.com/*" and "https://a.com/*" are the same grant
// for SSO purposes. The hostname "*" matches a catch-all grant.
func matchesFilter(filter, host string) bool {
	return strings.Replace(filter, "*://", "https://", 1) == "https://"+host+"/*"
}
