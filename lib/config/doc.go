// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the daemon configuration.
//
// Configuration comes from a single YAML file named by:
//   - the ENTRABRIDGE_CONFIG environment variable, or
//   - the --config flag passed to the command.
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed is ${VAR} and ${VAR:-default} in path
// values, for portability.
package config
