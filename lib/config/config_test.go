// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entrabridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
broker:
  command: /usr/libexec/linux-entra-sso
  args: [--interactive-auth]
paths:
  state_file: /var/lib/entrabridge/ssostate
  menu_socket: /run/entrabridge/menu.sock
sso_url: https://login.example.com
policy_poll_interval: 1m
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.Command != "/usr/libexec/linux-entra-sso" {
		t.Errorf("broker command = %q", cfg.Broker.Command)
	}
	if len(cfg.Broker.Args) != 1 || cfg.Broker.Args[0] != "--interactive-auth" {
		t.Errorf("broker args = %v", cfg.Broker.Args)
	}
	if cfg.Paths.StateFile != "/var/lib/entrabridge/ssostate" {
		t.Errorf("state file = %q", cfg.Paths.StateFile)
	}
	if cfg.SSOURL != "https://login.example.com" {
		t.Errorf("sso url = %q", cfg.SSOURL)
	}
	// Unset fields keep their defaults.
	if cfg.Paths.PolicyFile != "/etc/entrabridge/policies.json" {
		t.Errorf("policy file = %q", cfg.Paths.PolicyFile)
	}
	if !cfg.Platform.BlockingWebRequest {
		t.Error("default platform capability lost")
	}
	interval, err := cfg.PolicyInterval()
	if err != nil {
		t.Fatal(err)
	}
	if interval != time.Minute {
		t.Errorf("poll interval = %v", interval)
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	path := writeConfig(t, `
paths:
  menu_socket: ${XDG_RUNTIME_DIR:-/tmp}/entrabridge/menu.sock
  state_file: ${HOME}/.entrabridge/ssostate
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.MenuSocket != "/run/user/1000/entrabridge/menu.sock" {
		t.Errorf("menu socket = %q", cfg.Paths.MenuSocket)
	}
	home := os.Getenv("HOME")
	if cfg.Paths.StateFile != home+"/.entrabridge/ssostate" {
		t.Errorf("state file = %q", cfg.Paths.StateFile)
	}
}

func TestExpansionDefault(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	path := writeConfig(t, `
paths:
  menu_socket: ${XDG_RUNTIME_DIR:-/tmp}/entrabridge/menu.sock
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.MenuSocket != "/tmp/entrabridge/menu.sock" {
		t.Errorf("menu socket = %q", cfg.Paths.MenuSocket)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Broker.Command = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing broker command accepted")
	}

	cfg = Default()
	cfg.Platform.BlockingWebRequest = false
	cfg.Platform.DeclarativeRules = false
	if err := cfg.Validate(); err == nil {
		t.Error("config without any interception capability accepted")
	}

	cfg = Default()
	cfg.PolicyPollInterval = "soon"
	if err := cfg.Validate(); err == nil {
		t.Error("unparsable poll interval accepted")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("ENTRABRIDGE_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without ENTRABRIDGE_CONFIG must fail")
	}

	path := writeConfig(t, "sso_url: https://login.example.com\n")
	t.Setenv("ENTRABRIDGE_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SSOURL != "https://login.example.com" {
		t.Errorf("sso url = %q", cfg.SSOURL)
	}
}
