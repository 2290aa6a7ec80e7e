// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wanproxy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadMinimalClientConfig(t *testing.T) {
	path := writeConfig(t, `
role: client
listen:
  address: "127.0.0.1:7099"
peer:
  address: "proxy.example.net:7099"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Role != RoleClient {
		t.Errorf("role = %q, want client", cfg.Role)
	}
	if cfg.Codec.Type != CodecXCodec {
		t.Errorf("codec.type default = %q, want xcodec", cfg.Codec.Type)
	}
	if cfg.Cache.Type != CacheMemory {
		t.Errorf("cache.type default = %q, want memory", cfg.Cache.Type)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level default = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format default = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadCOSSCacheRequiresDirectory(t *testing.T) {
	path := writeConfig(t, `
role: server
listen:
  address: "127.0.0.1:7100"
peer:
  address: "origin.example.net:80"
codec:
  type: xcodec
cache:
  type: coss
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for coss cache with no directory, got nil")
	}
}

func TestLoadCOSSCacheConfig(t *testing.T) {
	path := writeConfig(t, `
role: server
listen:
  address: "127.0.0.1:7100"
peer:
  address: "origin.example.net:80"
cache:
  type: coss
  directory: /var/lib/wanproxy/cache
  nominal_size_mb: 512
compressor:
  enabled: true
ssh:
  enabled: true
byte_counts:
  enabled: true
  http_hint: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Directory != "/var/lib/wanproxy/cache" {
		t.Errorf("cache.directory = %q", cfg.Cache.Directory)
	}
	if cfg.Cache.NominalSizeMB != 512 {
		t.Errorf("cache.nominal_size_mb = %d, want 512", cfg.Cache.NominalSizeMB)
	}
	if cfg.Compressor.Level != 6 {
		t.Errorf("compressor.level default = %d, want 6", cfg.Compressor.Level)
	}
	if !cfg.SSH.Enabled {
		t.Error("ssh.enabled = false, want true")
	}
	if !cfg.ByteCounts.HTTPHint {
		t.Error("byte_counts.http_hint = false, want true")
	}
}

func TestLoadMissingRole(t *testing.T) {
	path := writeConfig(t, `
listen:
  address: "127.0.0.1:7099"
peer:
  address: "proxy.example.net:7099"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for missing role, got nil")
	}
}

func TestLoadInvalidRole(t *testing.T) {
	path := writeConfig(t, `
role: middleman
listen:
  address: "127.0.0.1:7099"
peer:
  address: "proxy.example.net:7099"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for invalid role, got nil")
	}
}

func TestLoadInvalidCompressorLevel(t *testing.T) {
	path := writeConfig(t, `
role: client
listen:
  address: "127.0.0.1:7099"
peer:
  address: "proxy.example.net:7099"
compressor:
  enabled: true
  level: 99
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for out-of-range compressor level, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("Load: expected error for missing file, got nil")
	}
}
