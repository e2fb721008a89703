// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package device resolves the directory record of the machine the
// bridge runs on: display name and compliance flag, shown in the menu
// as a health hint. The device ID is taken from the deviceid claim of
// a silently acquired access token — the token is already validated
// by the identity provider on use, so the claim decode here is
// deliberately unverified.
package device
