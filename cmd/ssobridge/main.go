// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

// Ssobridge is the SSO bridge daemon. It spawns the native token
// broker as a subprocess, speaks the native-messaging protocol over
// the broker's stdin/stdout, and maintains the session state machine:
// registered accounts, the active account, token caching, managed
// policy reconciliation, and request-interception configuration.
//
// Menu clients (ssobridge-menu) connect over a Unix socket to observe
// state and toggle SSO on or off.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/entrabridge/entrabridge/account"
	"github.com/entrabridge/entrabridge/bridge"
	"github.com/entrabridge/entrabridge/broker"
	"github.com/entrabridge/entrabridge/device"
	"github.com/entrabridge/entrabridge/graph"
	"github.com/entrabridge/entrabridge/lib/clock"
	"github.com/entrabridge/entrabridge/lib/config"
	"github.com/entrabridge/entrabridge/lib/statefile"
	"github.com/entrabridge/entrabridge/lib/version"
	"github.com/entrabridge/entrabridge/platform"
	"github.com/entrabridge/entrabridge/policy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		debug       bool
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the config file (overrides ENTRABRIDGE_CONFIG)")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version.Full())
		return nil
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	pollInterval, err := cfg.PolicyInterval()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Spawn the native broker and use its pipes as the messaging
	// channel.
	brokerCmd := exec.CommandContext(ctx, cfg.Broker.Command, cfg.Broker.Args...)
	brokerCmd.Stderr = os.Stderr
	stdin, err := brokerCmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening broker stdin: %w", err)
	}
	stdout, err := brokerCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening broker stdout: %w", err)
	}
	if err := brokerCmd.Start(); err != nil {
		return fmt.Errorf("starting broker %s: %w", cfg.Broker.Command, err)
	}
	logger.Info("broker started", "command", cfg.Broker.Command, "pid", brokerCmd.Process.Pid)

	// orchestrator is assigned before Connect starts the read loop, so
	// the callback never observes it nil.
	var orchestrator *bridge.Bridge
	nativeBroker, err := broker.New(broker.Config{
		Transport: &pipePair{reader: stdout, writer: stdin},
		OnStateChange: func(online bool) {
			orchestrator.BrokerStateChanged(online)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	clk := clock.Real()
	store := statefile.New(cfg.Paths.StateFile)

	graphClient, err := graph.NewClient(graph.ClientConfig{Logger: logger})
	if err != nil {
		return err
	}

	accounts, err := account.NewManager(account.ManagerConfig{
		Broker:  nativeBroker,
		Avatars: graphClient,
		Store:   store,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	policySource := policy.NewFileSource(cfg.Paths.PolicyFile, logger)
	policies, err := policy.NewManager(policySource, logger)
	if err != nil {
		return err
	}

	caps := platform.Capabilities{
		BlockingWebRequest: cfg.Platform.BlockingWebRequest,
		DeclarativeRules:   cfg.Platform.DeclarativeRules,
		ShortTitles:        cfg.Platform.ShortTitles,
	}
	plat, err := platform.New(caps, platform.Config{SSOURL: cfg.SSOURL, Logger: logger}, clk)
	if err != nil {
		return err
	}
	logger.Info("platform selected", "variant", plat.Name())

	devices, err := device.NewManager(accounts, graphClient, logger)
	if err != nil {
		return err
	}

	orchestrator, err = bridge.New(bridge.Config{
		Broker:   nativeBroker,
		Accounts: accounts,
		Policies: policies,
		Platform: plat,
		Devices:  devices,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if err := accounts.Restore(); err != nil {
		logger.Error("restoring session state", "error", err)
	}
	if err := policies.LoadPolicies(ctx); err != nil {
		logger.Error("loading managed policy", "error", err)
	}

	nativeBroker.Connect()
	if err := plat.Setup(ctx, nativeBroker); err != nil {
		logger.Error("platform setup", "error", err)
	}
	orchestrator.NotifyStateChange(ctx, false)

	go policySource.Watch(ctx, clk, pollInterval, func() {
		orchestrator.ReloadPolicies(ctx)
	})

	menuServer := bridge.NewMenuServer(cfg.Paths.MenuSocket, orchestrator, logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- menuServer.Serve(ctx) }()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("menu server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := <-serveErr; err != nil {
			logger.Error("menu server shutdown", "error", err)
		}
	}

	nativeBroker.Close()
	if err := brokerCmd.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("broker exited", "error", err)
	}
	return nil
}

// pipePair joins the broker subprocess's stdout and stdin into one
// duplex channel.
type pipePair struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (p *pipePair) Read(buffer []byte) (int, error)  { return p.reader.Read(buffer) }
func (p *pipePair) Write(buffer []byte) (int, error) { return p.writer.Write(buffer) }

func (p *pipePair) Close() error {
	writeErr := p.writer.Close()
	readErr := p.reader.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}
