// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package proxy implements the per-connection connector: it pairs a
// client socket with an origin (or peer-proxy) socket, builds the
// request and response filter chains between them, pumps bytes, and
// coordinates half-close.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/wanproxy-xtech/wanproxy/internal/filter"
	"github.com/wanproxy-xtech/wanproxy/internal/pipe"
	"github.com/wanproxy-xtech/wanproxy/internal/reactor"
	"github.com/wanproxy-xtech/wanproxy/internal/sshfilter"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache"
	"github.com/wanproxy-xtech/wanproxy/internal/zlibfilter"
)

// Role selects which side of a paired proxy setup a Connector plays:
// it decides which end of the SSH key exchange is run and which chain
// (request or response) heads toward the peer proxy and so carries
// the encode, deflate and encrypt stages.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Codec selects whether the XCodec dedup stage runs in a chain.
type Codec int

const (
	CodecNone Codec = iota
	CodecXCodec
)

// Config holds everything a Connector needs to wire a connection's
// chains, already resolved from the loaded configuration: an open
// local cache, a peer-cache resolver, and the feature toggles.
type Config struct {
	Role Role
	Codec Codec

	LocalCacheID     string
	LocalNominalSize uint64
	LocalCache       cache.Lookuper
	Resolver         pipe.CacheResolver
	Magic            byte

	DeflateLevel int // < 0 disables the zlib stage
	ByteCounts   bool
	HTTPHint     bool
	SSH          bool

	Logger *slog.Logger
}

// ByteCounters aggregates the counters a Connector reports when
// byte-counting is enabled, one pair per direction.
type ByteCounters struct {
	RequestBytesIn, RequestBytesOut   int64
	ResponseBytesIn, ResponseBytesOut int64
	RequestBodyBytes, ResponseBodyBytes int64
}

// Connector owns one client<->origin connection pair and the two
// filter chains between them.
type Connector struct {
	client net.Conn
	origin net.Conn
	cfg    Config

	Counters ByteCounters
}

// New creates a Connector for an already-accepted client connection
// and an already-established origin connection.
func New(client, origin net.Conn, cfg Config) *Connector {
	return &Connector{client: client, origin: origin, cfg: cfg}
}

// Run builds both chains and pumps bytes until both directions report
// EOS and their chains have flushed, or ctx is cancelled. It closes
// both connections before returning.
func (c *Connector) Run(ctx context.Context) error {
	defer c.client.Close()
	defer c.origin.Close()

	logger := c.cfg.Logger
	if logger != nil {
		logger = logger.With("client", c.client.RemoteAddr(), "origin", c.origin.RemoteAddr())
	}

	var sshSession *sshfilter.Session
	if c.cfg.SSH {
		role := sshfilter.RoleClient
		if c.cfg.Role == RoleServer {
			role = sshfilter.RoleServer
		}
		var err error
		sshSession, err = sshfilter.NewSession(role)
		if err != nil {
			return fmt.Errorf("proxy: building ssh session: %w", err)
		}
	}

	var pipeSession *pipe.Session
	if c.cfg.Codec == CodecXCodec {
		// Both chains share one Session: its wire is rebound by the
		// Encode stage of the chain heading toward the peer proxy (the
		// request chain for RoleClient, the response chain for
		// RoleServer), and its output by the Decode stage of the other.
		pipeSession = pipe.NewSession(io.Discard, io.Discard, c.cfg.LocalCacheID, c.cfg.LocalNominalSize, c.cfg.LocalCache, c.cfg.Resolver, xcodecMagicOrDefault(c.cfg.Magic), logger)
	}

	requestChain := c.buildChain(buildOpts{
		sink:        c.origin,
		isRequest:   true,
		sshSession:  sshSession,
		pipeSession: pipeSession,
		logger:      logger,
		bytesIn:     &c.Counters.RequestBytesIn,
		bytesOut:    &c.Counters.RequestBytesOut,
		bodyBytes:   &c.Counters.RequestBodyBytes,
	})
	responseChain := c.buildChain(buildOpts{
		sink:        c.client,
		isRequest:   false,
		sshSession:  sshSession,
		pipeSession: pipeSession,
		logger:      logger,
		bytesIn:     &c.Counters.ResponseBytesIn,
		bytesOut:    &c.Counters.ResponseBytesOut,
		bodyBytes:   &c.Counters.ResponseBodyBytes,
	})

	// dispatcher/ioService stand in for spec's per-process event system:
	// both directions' read completions run as callbacks on the single
	// dispatcher goroutine (serializing access to the shared pipeSession
	// the way the original's single-threaded event loop did for free),
	// while the blocking reads themselves run on ioService's worker
	// goroutines. pipeSession sends its HELLO lazily, on whichever
	// direction's callback first calls Encode or SendEOS, so there is
	// no separate handshake step to sequence here: it simply falls out
	// of normal pumping, correctly ordered ahead of that same
	// direction's first FRAME.
	dispatcher := reactor.NewDispatcher(logger)
	ioService := reactor.NewIOService(dispatcher)
	go dispatcher.Run(ctx, nil)

	reqAction := reactor.NewAction()
	respAction := reactor.NewAction()

	errs := make(chan error, 2)
	pump(ctx, ioService, reqAction, c.client, requestChain, errs)
	pump(ctx, ioService, respAction, c.origin, responseChain, errs)

	// ctx cancellation can only be noticed once a pending blocking read
	// returns, so close both connections on cancellation to force that:
	// closeOnCancel exits on its own once both directions have reported
	// completion, so it never outlives this Run call.
	closeOnCancel := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			reqAction.Cancel()
			respAction.Cancel()
			c.client.Close()
			c.origin.Close()
		case <-closeOnCancel:
		}
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	close(closeOnCancel)
	return firstErr
}

// pump drives one direction's chain through the reactor: each
// completed read is consumed by chain and immediately followed by the
// next read, until EOS, an error, or ctx cancellation, at which point
// chain is flushed and exactly one result is sent to done.
func pump(ctx context.Context, ioService *reactor.IOService, action *reactor.Action, src net.Conn, chain *filter.Chain, done chan<- error) {
	buf := make([]byte, 32*1024)
	var step func()
	step = func() {
		ioService.Read(action, src, buf, func(ev reactor.Event) {
			switch ev.Type {
			case reactor.EventDone:
				if cerr := chain.Consume(ev.Buf, 0); cerr != nil {
					_ = chain.Flush(0)
					done <- fmt.Errorf("proxy: chain consume: %w", cerr)
					return
				}
				step()
			case reactor.EventEOS:
				done <- chain.Flush(0)
			case reactor.EventError:
				_ = chain.Flush(0)
				if ctx.Err() != nil {
					done <- ctx.Err()
					return
				}
				done <- fmt.Errorf("proxy: reading: %w", ev.Err)
			}
		})
	}
	step()
}

// buildOpts controls which optional stages buildChain wires in for
// one direction.
type buildOpts struct {
	sink net.Conn

	// isRequest is true for the client->origin chain and false for
	// the origin->client chain. Combined with cfg.Role this tells
	// buildChain which end of the pair the WAN link actually sits on:
	// a RoleClient connector's origin conn faces the WAN (so its
	// request chain encodes toward it), while a RoleServer
	// connector's client conn faces the WAN instead (so its request
	// chain, reading from the WAN, decodes).
	isRequest bool

	sshSession *sshfilter.Session

	pipeSession *pipe.Session

	logger *slog.Logger

	bytesIn, bytesOut, bodyBytes *int64
}

// buildChain assembles one direction's filter chain. The leg whose
// sink faces the WAN link runs: byte count -> XCodec encode -> byte
// count -> optional deflate -> optional SSH encrypt -> sink. The
// other leg, recovering bytes off the WAN link, runs optional SSH
// decrypt -> optional inflate -> byte count -> XCodec decode -> byte
// count -> sink. Deflate only ever runs toward the WAN leg and
// inflate only ever runs off it — mirroring both into both chains
// would feed plain application bytes to flate.NewReader and
// re-compress already-recovered plaintext on the other leg. Only one
// XCodec stage runs per chain, sharing the connector's single
// pipe.Session, and SSH only wraps the two ends nearest the WAN link
// (see the proxy package's design notes on why this departs from
// mirroring both XCodec stages into both chains).
func (c *Connector) buildChain(o buildOpts) *filter.Chain {
	towardWAN := o.isRequest == (c.cfg.Role == RoleClient)

	var stages []filter.Filter

	if !towardWAN && o.sshSession != nil {
		stages = append(stages, sshfilter.NewDecrypt(o.sshSession))
	}

	if c.cfg.DeflateLevel >= 0 && !towardWAN {
		stages = append(stages, zlibfilter.NewInflate())
	}

	if c.cfg.ByteCounts {
		count := filter.NewCount(o.bytesIn)
		if c.cfg.HTTPHint {
			count = filter.NewCountWithHTTPHint(o.bytesIn, o.bodyBytes)
		}
		stages = append(stages, count)
	}

	if o.pipeSession != nil {
		if towardWAN {
			stages = append(stages, filter.NewEncode(o.pipeSession))
		} else {
			stages = append(stages, filter.NewDecode(o.pipeSession))
		}
	}

	if c.cfg.ByteCounts {
		stages = append(stages, filter.NewCount(o.bytesOut))
	}

	if c.cfg.DeflateLevel >= 0 && towardWAN {
		def, err := zlibfilter.NewDeflate(c.cfg.DeflateLevel)
		if err == nil {
			stages = append(stages, def)
		}
	}

	if towardWAN && o.sshSession != nil {
		stages = append(stages, sshfilter.NewEncrypt(o.sshSession, o.logger))
	}

	stages = append(stages, filter.NewSink(o.sink))
	return filter.NewChain(stages...)
}

// xcodecMagicOrDefault returns magic, or the XCodec package default
// when the configured value is zero.
func xcodecMagicOrDefault(magic byte) byte {
	if magic == 0 {
		return xcodec.DefaultMagic
	}
	return magic
}
