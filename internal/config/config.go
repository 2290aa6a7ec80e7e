// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for a
// wanproxy instance.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProxyConfig is the full configuration for one wanproxy process: one
// listener, one fixed peer, and the codec/cache/compressor/ssh options
// applied to every connection it proxies.
type ProxyConfig struct {
	Role ProxyRole `yaml:"role"`

	Listen ListenInfo `yaml:"listen"`
	Peer   PeerInfo   `yaml:"peer"`
	TLS    TLSInfo    `yaml:"tls"`

	Codec      CodecInfo      `yaml:"codec"`
	Cache      CacheInfo      `yaml:"cache"`
	Compressor CompressorInfo `yaml:"compressor"`
	SSH        SSHInfo        `yaml:"ssh"`
	ByteCounts ByteCountsInfo `yaml:"byte_counts"`

	Logging LoggingInfo `yaml:"logging"`
}

// ProxyRole selects which side of a paired-proxy deployment this
// instance plays.
type ProxyRole string

const (
	RoleClient ProxyRole = "client"
	RoleServer ProxyRole = "server"
)

// ListenInfo is the local address this instance accepts connections
// on, from real clients if Role is client, or from the paired peer
// proxy if Role is server.
type ListenInfo struct {
	Address string `yaml:"address"`
}

// PeerInfo is the fixed remote address this instance dials for every
// accepted connection: the peer proxy if Role is client, or the real
// origin if Role is server.
type PeerInfo struct {
	Address string `yaml:"address"`
}

// TLSInfo holds the mTLS material wrapping the listen and peer
// sockets. Empty means plain TCP.
type TLSInfo struct {
	CACert     string `yaml:"ca_cert"`
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	SkipVerify bool   `yaml:"skip_verify"`
}

// Enabled reports whether any TLS material was configured.
func (t TLSInfo) Enabled() bool {
	return t.Cert != "" || t.Key != "" || t.CACert != ""
}

// CodecInfo selects and tunes the XCodec dedup stage.
type CodecInfo struct {
	Type  CodecType `yaml:"type"`  // none|xcodec
	Magic int       `yaml:"magic"` // 0 = xcodec.DefaultMagic
}

type CodecType string

const (
	CodecNone   CodecType = "none"
	CodecXCodec CodecType = "xcodec"
)

// CacheInfo selects and sizes the dictionary backing the XCodec stage.
type CacheInfo struct {
	Type CacheType `yaml:"type"` // memory|coss

	// Directory holds the COSS <uuid>.wpc file and the UUID sidecar
	// file. Required when Type is coss.
	Directory string `yaml:"directory"`

	// NominalSizeMB is the approximate COSS file size; it is rounded
	// up to a whole number of stripes. Ignored for Memory.
	NominalSizeMB int `yaml:"nominal_size_mb"`
}

type CacheType string

const (
	CacheMemory CacheType = "memory"
	CacheCOSS   CacheType = "coss"
)

// CompressorInfo enables the deflate/inflate stage wrapping XCodec.
type CompressorInfo struct {
	Enabled bool `yaml:"enabled"`
	Level   int  `yaml:"level"` // 0-9; 0 (or unset) is replaced by the default 6
}

// SSHInfo enables the SSH-style transport encryption stage.
type SSHInfo struct {
	Enabled bool `yaml:"enabled"`
}

// ByteCountsInfo enables per-connection byte counting filters.
type ByteCountsInfo struct {
	Enabled  bool `yaml:"enabled"`
	HTTPHint bool `yaml:"http_hint"`
}

// LoggingInfo mirrors the teacher's logging config block.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads and validates a ProxyConfig from path.
func Load(path string) (*ProxyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proxy config: %w", err)
	}

	var cfg ProxyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing proxy config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating proxy config: %w", err)
	}

	return &cfg, nil
}

func (c *ProxyConfig) validate() error {
	switch c.Role {
	case RoleClient, RoleServer:
	case "":
		return fmt.Errorf("role is required (client or server)")
	default:
		return fmt.Errorf("role must be client or server, got %q", c.Role)
	}

	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.Peer.Address == "" {
		return fmt.Errorf("peer.address is required")
	}

	if c.Codec.Type == "" {
		c.Codec.Type = CodecXCodec
	}
	switch c.Codec.Type {
	case CodecNone, CodecXCodec:
	default:
		return fmt.Errorf("codec.type must be none or xcodec, got %q", c.Codec.Type)
	}
	if c.Codec.Magic < 0 || c.Codec.Magic > 0xff {
		return fmt.Errorf("codec.magic must be a byte value, got %d", c.Codec.Magic)
	}

	if c.Codec.Type == CodecXCodec {
		if c.Cache.Type == "" {
			c.Cache.Type = CacheMemory
		}
		switch c.Cache.Type {
		case CacheMemory:
		case CacheCOSS:
			if c.Cache.Directory == "" {
				return fmt.Errorf("cache.directory is required when cache.type is coss")
			}
			if c.Cache.NominalSizeMB < 0 {
				return fmt.Errorf("cache.nominal_size_mb must be >= 0, got %d", c.Cache.NominalSizeMB)
			}
		default:
			return fmt.Errorf("cache.type must be memory or coss, got %q", c.Cache.Type)
		}
	}

	if c.Compressor.Enabled {
		if c.Compressor.Level == 0 {
			c.Compressor.Level = 6
		}
		if c.Compressor.Level < 0 || c.Compressor.Level > 9 {
			return fmt.Errorf("compressor.level must be between 0 and 9, got %d", c.Compressor.Level)
		}
	}

	if c.TLS.Enabled() {
		if c.TLS.Cert == "" || c.TLS.Key == "" {
			return fmt.Errorf("tls.cert and tls.key are both required when TLS material is configured")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)

	return nil
}
