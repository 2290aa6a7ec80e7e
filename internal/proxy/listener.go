// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Server accepts connections on a local listener and, for each one,
// dials a fixed peer address and runs a Connector between the two.
type Server struct {
	ListenAddr string
	PeerAddr   string
	NewConfig  func() Config
	Logger     *slog.Logger
}

// Run listens on s.ListenAddr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listening on %s: %w", s.ListenAddr, err)
	}
	defer ln.Close()
	return s.RunWithListener(ctx, ln)
}

// RunWithListener serves accepted connections from an already-open
// listener, letting callers (tests, or a process supervisor doing
// socket activation) supply the listener themselves.
func (s *Server) RunWithListener(ctx context.Context, ln net.Listener) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("proxy listening", "address", ln.Addr().String(), "peer", s.PeerAddr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		client, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("proxy shutdown complete")
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0

		go s.handle(ctx, client)
	}
}

// handle dials the peer and runs a Connector between client and the
// newly dialed connection, logging (but not propagating) any error
// the dial or the connector returns.
func (s *Server) handle(ctx context.Context, client net.Conn) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var dialer net.Dialer
	origin, err := dialer.DialContext(ctx, "tcp", s.PeerAddr)
	if err != nil {
		logger.Error("dialing peer", "error", err, "peer", s.PeerAddr)
		client.Close()
		return
	}

	cfg := s.NewConfig()
	cfg.Logger = logger

	conn := New(client, origin, cfg)
	if err := conn.Run(ctx); err != nil {
		logger.Warn("connection ended", "error", err,
			"client", client.RemoteAddr(), "peer", s.PeerAddr)
	}
}
