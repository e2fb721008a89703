// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/entrabridge/entrabridge/lib/clock"
)

// managedPoliciesKey is the key administrators set in the managed
// policy document.
const managedPoliciesKey = "wellKnownApps"

// FileSource reads managed policy from a JSONC document distributed
// by configuration management:
//
//	{
//	    // per-application SSO policy
//	    "wellKnownApps": {
//	        "app.example.com": true,
//	        "legacy.example.com": false
//	    }
//	}
//
// Comments are allowed — the file is written by administrators, not
// machines. An absent file or an absent wellKnownApps key means "no
// policy configured".
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a FileSource for the document at path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, logger: logger}
}

// WellKnownApps implements Source.
func (s *FileSource) WellKnownApps(ctx context.Context) (map[string]bool, bool, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("policy: reading %s: %w", s.path, err)
	}

	var document map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(raw), &document); err != nil {
		return nil, false, fmt.Errorf("policy: parsing %s: %w", s.path, err)
	}
	value, ok := document[managedPoliciesKey]
	if !ok {
		return nil, false, nil
	}

	var apps map[string]bool
	if err := json.Unmarshal(value, &apps); err != nil {
		return nil, false, fmt.Errorf("policy: parsing %s in %s: %w", managedPoliciesKey, s.path, err)
	}
	return apps, true, nil
}

// Watch polls the document's modification time on the given interval
// and invokes onChange for every observed change, including creation
// and removal. It blocks until ctx is cancelled. The managed store
// offers no change events, so modification-time polling is the
// notification mechanism here — distinct from RPC completion, which
// is never polled.
func (s *FileSource) Watch(ctx context.Context, clk clock.Clock, interval time.Duration, onChange func()) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	previous, _ := s.modTime()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := s.modTime()
			if err != nil {
				s.logger.Warn("could not stat managed policy file", "path", s.path, "error", err)
				continue
			}
			if current.Equal(previous) {
				continue
			}
			previous = current
			s.logger.Info("managed policy file changed", "path", s.path)
			onChange()
		}
	}
}

// modTime returns the document's modification time, or the zero time
// when the file does not exist.
func (s *FileSource) modTime() (time.Time, error) {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// StaticSource is a Source backed by a fixed mapping, for tests and
// unmanaged deployments.
type StaticSource struct {
	// Apps is returned from WellKnownApps. A nil map means "no
	// policy configured".
	Apps map[string]bool
}

// WellKnownApps implements Source.
func (s *StaticSource) WellKnownApps(ctx context.Context) (map[string]bool, bool, error) {
	if s.Apps == nil {
		return nil, false, nil
	}
	return s.Apps, true, nil
}
