// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the identity provider's graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com"

// maxResponseBytes bounds response bodies. Avatars are 48x48
// thumbnails; anything above this is not a legitimate response.
const maxResponseBytes = 4 * 1024 * 1024

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL overrides the graph endpoint, for tests. If empty,
	// DefaultBaseURL is used.
	BaseURL string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client calls the identity provider's HTTP API with caller-supplied
// bearer tokens. The client itself holds no credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a graph client.
func NewClient(config ClientConfig) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("graph: invalid BaseURL %q: %w", baseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ProfilePhoto fetches the signed-in user's 48x48 profile photo as
// encoded image bytes.
func (c *Client) ProfilePhoto(ctx context.Context, accessToken string) ([]byte, error) {
	body, err := c.get(ctx, "/v1.0/me/photos/48x48/$value", accessToken)
	if err != nil {
		return nil, fmt.Errorf("graph: fetching profile photo: %w", err)
	}
	return body, nil
}

// Device is the subset of the device record the bridge displays.
type Device struct {
	Name      string `json:"displayName"`
	Compliant bool   `json:"isCompliant"`
}

// DeviceByID fetches a device record by its directory device ID.
func (c *Client) DeviceByID(ctx context.Context, accessToken, deviceID string) (Device, error) {
	path := fmt.Sprintf("/v1.0/devices(deviceId='{%s}')?$select=isCompliant,displayName", url.QueryEscape(deviceID))
	body, err := c.get(ctx, path, accessToken)
	if err != nil {
		return Device{}, fmt.Errorf("graph: fetching device record: %w", err)
	}
	var device Device
	if err := json.Unmarshal(body, &device); err != nil {
		return Device{}, fmt.Errorf("graph: decoding device record: %w", err)
	}
	return device, nil
}

func (c *Client) get(ctx context.Context, path, accessToken string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	request.Header.Set("Accept", "application/json, image/jpeg")
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected %d response from %s", response.StatusCode, path)
	}
	return body, nil
}
