// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/entrabridge/entrabridge/lib/codec"
)

// eventWriteTimeout bounds one event write to a menu client. A client
// that cannot drain an event within this window is disconnected.
const eventWriteTimeout = 10 * time.Second

// MenuServer serves the menu channel on a Unix socket: a long-lived
// duplex CBOR protocol. Each connected client receives the current
// state on connect and every recomputation after it, and may send
// commands at any time. Multiple concurrent clients are supported.
type MenuServer struct {
	socketPath string
	bridge     *Bridge
	logger     *slog.Logger

	// activeConnections tracks per-client handlers for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewMenuServer creates a server that will listen on socketPath.
func NewMenuServer(socketPath string, bridge *Bridge, logger *slog.Logger) *MenuServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MenuServer{socketPath: socketPath, bridge: bridge, logger: logger}
}

// Serve accepts menu clients until ctx is cancelled, then closes the
// listener and waits for active connections to wind down.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *MenuServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bridge: removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bridge: listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("menu channel listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection runs one menu client: a writer goroutine forwards
// state events, the read loop decodes commands until the client hangs
// up or the server shuts down.
func (s *MenuServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the command read loop on shutdown.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	events, unsubscribe := s.bridge.Subscribe()
	defer unsubscribe()

	go func() {
		encoder := codec.NewEncoder(conn)
		for {
			select {
			case <-connCtx.Done():
				return
			case event := <-events:
				conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
				if err := encoder.Encode(event); err != nil {
					s.logger.Debug("menu client write failed", "error", err)
					cancel()
					return
				}
			}
		}
	}()

	decoder := codec.NewDecoder(conn)
	for {
		var command MenuCommand
		if err := decoder.Decode(&command); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && connCtx.Err() == nil {
				s.logger.Debug("menu client read failed", "error", err)
			}
			return
		}
		if err := s.bridge.HandleMenuCommand(connCtx, command); err != nil {
			s.logger.Warn("menu command rejected", "error", err)
		}
	}
}
