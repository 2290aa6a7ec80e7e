// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Command wanproxy runs one side of a paired WANProxy-XTech dedup
// proxy: -role client accepts real client connections and forwards
// them, deduplicated, to a peer wanproxy; -role server accepts
// connections from that peer and forwards them, reconstituted, to the
// real origin.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/wanproxy-xtech/wanproxy/internal/config"
	"github.com/wanproxy-xtech/wanproxy/internal/logging"
	"github.com/wanproxy-xtech/wanproxy/internal/proxy"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache/coss"
)

func main() {
	configPath := flag.String("config", "/etc/wanproxy/wanproxy.yaml", "path to proxy config file")
	roleFlag := flag.String("role", "", "override config.role (client or server)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *roleFlag != "" {
		cfg.Role = config.ProxyRole(*roleFlag)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, string(cfg.Role))
	defer logCloser.Close()

	registry := cache.NewRegistry()
	var localCache cache.Lookuper
	var localCacheID string

	if cfg.Codec.Type == config.CodecXCodec {
		localCache, localCacheID, err = openLocalCache(cfg)
		if err != nil {
			logger.Error("opening local cache", "error", err)
			os.Exit(1)
		}
		registry.Add(uuid.MustParse(localCacheID), localCache)
	}

	resolver := proxy.NewCacheResolver(registry, cossDirOf(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				reload(*configPath, logger)
				continue
			}
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return
		}
	}()

	srv := &proxy.Server{
		ListenAddr: cfg.Listen.Address,
		PeerAddr:   cfg.Peer.Address,
		Logger:     logger,
		NewConfig: func() proxy.Config {
			return connectorConfig(cfg, localCache, localCacheID, resolver)
		},
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("proxy error", "error", err)
		os.Exit(1)
	}
}

// openLocalCache opens this instance's own dictionary: COSS on disk
// under cache.directory when cache.type is coss, otherwise an in-memory cache scoped to
// this process's lifetime, identified by a freshly generated UUID.
func openLocalCache(cfg *config.ProxyConfig) (cache.Lookuper, string, error) {
	if cfg.Cache.Type != config.CacheCOSS {
		return cache.NewMemory(), uuid.New().String(), nil
	}

	id, err := cache.LoadOrCreateLocalID(cfg.Cache.Directory)
	if err != nil {
		return nil, "", fmt.Errorf("resolving local cache identity: %w", err)
	}
	c, err := coss.Open(cfg.Cache.Directory, id, cfg.Cache.NominalSizeMB)
	if err != nil {
		return nil, "", fmt.Errorf("opening local coss cache: %w", err)
	}
	return c, id.String(), nil
}

func cossDirOf(cfg *config.ProxyConfig) string {
	if cfg.Cache.Type == config.CacheCOSS {
		return cfg.Cache.Directory
	}
	return ""
}

// connectorConfig translates the loaded ProxyConfig into the
// proxy.Config a Connector needs for one connection.
func connectorConfig(cfg *config.ProxyConfig, localCache cache.Lookuper, localCacheID string, resolver *proxy.CacheResolver) proxy.Config {
	role := proxy.RoleClient
	if cfg.Role == config.RoleServer {
		role = proxy.RoleServer
	}

	codec := proxy.CodecNone
	if cfg.Codec.Type == config.CodecXCodec {
		codec = proxy.CodecXCodec
	}

	deflateLevel := -1
	if cfg.Compressor.Enabled {
		deflateLevel = cfg.Compressor.Level
	}

	magic := byte(cfg.Codec.Magic)
	if magic == 0 {
		magic = xcodec.DefaultMagic
	}

	return proxy.Config{
		Role:             role,
		Codec:            codec,
		LocalCacheID:     localCacheID,
		LocalNominalSize: uint64(cfg.Cache.NominalSizeMB) * 1024 * 1024,
		LocalCache:       localCache,
		Resolver:         resolver,
		Magic:            magic,
		DeflateLevel:     deflateLevel,
		ByteCounts:       cfg.ByteCounts.Enabled,
		HTTPHint:         cfg.ByteCounts.HTTPHint,
		SSH:              cfg.SSH.Enabled,
	}
}

// reload re-reads and validates the config file on SIGHUP. Listener
// and peer addresses, and cache identity, are only applied to new
// connections at process start; reload only confirms the file is
// still well-formed and logs the outcome, matching §6's signal
// contract without tearing down connections already in flight.
func reload(configPath string, logger *slog.Logger) {
	if _, err := config.Load(configPath); err != nil {
		logger.Warn("config reload failed, keeping running configuration", "error", err)
		return
	}
	logger.Info("config file re-read and validated")
}
