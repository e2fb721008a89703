// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// BlockingPlatform decorates requests one at a time: the embedding
// request layer calls DecorateRequest before sending each request and
// applies the returned header. Cookies are acquired fresh per request,
// never cached.
type BlockingPlatform struct {
	base
}

// NewBlocking builds the blocking variant.
func NewBlocking(config Config) *BlockingPlatform {
	return &BlockingPlatform{base: newBase(config)}
}

func (p *BlockingPlatform) Name() string { return "blocking" }

// UpdateRequestHandlers records the operational state. The blocking
// variant holds no materialized rules, so there is nothing further to
// reconfigure.
func (p *BlockingPlatform) UpdateRequestHandlers(ctx context.Context, enabled bool, account Identity) error {
	active := p.setHandlerState(enabled, account)
	p.logger.Info("request handlers updated", "injecting", active)
	return nil
}

// DecorateRequest produces the header to inject into the request for
// rawURL, or ok=false when the request is not an injection target
// (interception inactive, URL outside the active filters, or URL not
// part of the login flow). A broker failure is returned as an error;
// the caller should log it and send the request undecorated.
func (p *BlockingPlatform) DecorateRequest(ctx context.Context, rawURL string) (HeaderInjection, bool, error) {
	br, account, ok := p.injectionTarget()
	if !ok {
		return HeaderInjection{}, false, nil
	}
	if !p.matchesActiveFilter(rawURL) {
		return HeaderInjection{}, false, nil
	}
	// Requests to policy-granted hosts outside the OAuth flow are
	// observed but not decorated.
	if !strings.HasPrefix(rawURL, p.ssoURL) {
		return HeaderInjection{}, false, nil
	}

	cookie, err := br.AcquirePrtSsoCookie(ctx, account.BrokerObject(), rawURL)
	if err != nil {
		return HeaderInjection{}, false, fmt.Errorf("platform: acquiring SSO cookie: %w", err)
	}
	p.logger.Debug("injecting SSO cookie", "url", rawURL)
	return HeaderInjection{Name: cookie.Name, Value: cookie.Content}, true, nil
}

func (p *BlockingPlatform) matchesActiveFilter(rawURL string) bool {
	p.mu.Lock()
	filters := p.filters
	p.mu.Unlock()
	for _, filter := range filters {
		if matchesFilter(filter, rawURL) {
			return true
		}
	}
	return false
}

// matchesFilter reports whether rawURL is covered by a URL match
// pattern of the form <scheme>://<host>/<path>, where any component
// may be the wildcard "*" and the path may end in a "*" suffix.
func matchesFilter(filter, rawURL string) bool {
	scheme, after, ok := strings.Cut(filter, "://")
	if !ok {
		return false
	}
	host, path, _ := strings.Cut(after, "/")

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if scheme != "*" && scheme != parsed.Scheme {
		return false
	}
	if host != "*" && host != parsed.Host {
		return false
	}
	urlPath := parsed.Path
	if urlPath == "" {
		urlPath = "/"
	}
	switch {
	case path == "*" || path == "":
		return true
	case strings.HasSuffix(path, "*"):
		return strings.HasPrefix(urlPath, "/"+strings.TrimSuffix(path, "*"))
	default:
		return urlPath == "/"+path
	}
}
