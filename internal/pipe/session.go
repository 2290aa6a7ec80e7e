// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package pipe

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wanproxy-xtech/wanproxy/internal/rollhash"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec"
	"github.com/wanproxy-xtech/wanproxy/internal/xcodec/cache"
)

// frameBuffer accumulates opcode-stream bytes written by an Encoder
// until Session drains them into FRAME records.
type frameBuffer struct {
	buf []byte
}

func (b *frameBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// CacheResolver resolves the cache identified by a peer's HELLO,
// analogous to the original's find_cache/add_cache: returns the
// existing cache for id if the registry already knows it, or creates
// and registers a new one sized to nominalSize.
type CacheResolver interface {
	Find(id string) (cache.Lookuper, error)
	Create(id string, nominalSize uint64) (cache.Lookuper, error)
}

// Session is one direction-pair's worth of pipe framing state: it
// turns application bytes into FRAME records bound for a peer proxy
// (via an Encoder over the local cache) and turns FRAME records
// received from that peer back into application bytes (via a Decoder
// over the peer's cache, resolved from its HELLO). It enforces the
// HELLO/ASK/LEARN/EOS sequencing rules.
type Session struct {
	// mu serializes every method below. internal/proxy's Connector
	// routes both directions' read completions through one
	// reactor.Dispatcher goroutine, so in practice a Session is never
	// entered concurrently; the mutex is still held because nothing in
	// this package can see that caller-side guarantee, and a Session
	// constructed directly (as the tests do, over bytes.Buffer wires)
	// has no dispatcher enforcing it at all.
	mu sync.Mutex

	wire   io.Writer // writes pipe records to the peer proxy
	output io.Writer // receives bytes recovered by Decoder
	logger *slog.Logger

	resolver CacheResolver
	magic    byte

	localCacheID     string
	localNominalSize uint64
	localCache       cache.Lookuper

	encoder *xcodec.Encoder
	encBuf  *frameBuffer

	decoder    *xcodec.Decoder
	peerCache  cache.Lookuper
	peerHello  *Hello
	helloSent  bool
	helloRecvd bool

	// asked tracks hashes we have sent ASK for and are still waiting
	// on a LEARN for: an ASK must only be sent for a hash previously
	// observed as missing.
	asked map[uint64]bool

	eosSent     bool
	eosRecv     bool
	eosAckSent  bool
	eosAckRecv  bool
}

// NewSession creates a Session. localCache is this side's own
// dictionary, announced to the peer via HELLO; magic is the XCodec
// escape byte.
func NewSession(wire, output io.Writer, localCacheID string, localNominalSize uint64, localCache cache.Lookuper, resolver CacheResolver, magic byte, logger *slog.Logger) *Session {
	s := &Session{
		wire:             wire,
		output:           output,
		logger:           logger,
		resolver:         resolver,
		magic:            magic,
		localCacheID:     localCacheID,
		localNominalSize: localNominalSize,
		localCache:       localCache,
		asked:            make(map[uint64]bool),
	}
	s.encBuf = &frameBuffer{}
	s.encoder = xcodec.NewEncoder(s.encBuf, xcodecCache{localCache}, magic)
	return s
}

// RebindWire replaces the writer records are sent to, letting a
// caller splice a Session into a larger pipeline (e.g. a filter chain)
// after construction.
func (s *Session) RebindWire(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wire = w
}

// RebindOutput replaces the writer recovered plaintext bytes are sent
// to.
func (s *Session) RebindOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = w
	if s.decoder != nil {
		s.decoder = xcodec.NewDecoder(w, xcodecCache{s.peerCache}, s.magic)
	}
}

// xcodecCache adapts a cache.Lookuper (the registry's narrower view,
// used to dodge an import cycle) back to the xcodec.Cache interface
// the Encoder/Decoder expect. The method sets are identical; this
// exists only to make the conversion explicit at the call site.
type xcodecCache struct {
	cache.Lookuper
}

// SendHello emits this side's HELLO record. Calling it explicitly is
// optional: Encode and SendEOS send HELLO lazily on first use if it
// hasn't gone out yet, tying "send HELLO" to the same goroutine and
// program order as the first FRAME/EOS that goroutine emits, rather
// than requiring a separate call synchronized against pumps that may
// already be running (relevant once encode and decode run on
// independent goroutines, see the Session doc comment). A second
// explicit call is still rejected with ErrDuplicateHello.
func (s *Session) SendHello() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.helloSent {
		return ErrDuplicateHello
	}
	return s.ensureHelloSentLocked()
}

func (s *Session) ensureHelloSentLocked() error {
	if s.helloSent {
		return nil
	}
	if err := WriteHello(s.wire, s.localCacheID, s.localNominalSize); err != nil {
		return fmt.Errorf("pipe: sending HELLO: %w", err)
	}
	s.helloSent = true
	return nil
}

// HandleRecord dispatches one decoded record (as returned by
// ReadRecord). It may write ASK, LEARN or EOS_ACK records to the wire
// as a side effect.
func (s *Session) HandleRecord(op Opcode, rec interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleRecordLocked(op, rec)
}

func (s *Session) handleRecordLocked(op Opcode, rec interface{}) error {
	if op != OpHello && !s.helloRecvd {
		return ErrNoHello
	}
	switch op {
	case OpHello:
		return s.handleHello(rec.(*Hello))
	case OpFrame:
		return s.handleFrame(rec.(*Frame))
	case OpAsk:
		return s.handleAsk(rec.(*Ask))
	case OpLearn:
		return s.handleLearn(rec.(*Learn))
	case OpEOS:
		return s.handleEOS()
	case OpEOSAck:
		return s.handleEOSAck()
	default:
		return fmt.Errorf("%w: %#x", ErrUnknownOpcode, byte(op))
	}
}

func (s *Session) handleHello(h *Hello) error {
	if s.helloRecvd {
		return ErrDuplicateHello
	}
	peerCache, err := s.resolver.Find(h.CacheID)
	if err != nil {
		peerCache, err = s.resolver.Create(h.CacheID, h.NominalSize)
		if err != nil {
			return fmt.Errorf("pipe: resolving peer cache %s: %w", h.CacheID, err)
		}
	}
	s.peerHello = h
	s.peerCache = peerCache
	s.decoder = xcodec.NewDecoder(s.output, xcodecCache{peerCache}, s.magic)
	s.helloRecvd = true
	if s.logger != nil {
		s.logger.Info("pipe HELLO received", "cache_id", h.CacheID, "nominal_size", h.NominalSize)
	}
	return nil
}

func (s *Session) handleFrame(f *Frame) error {
	if _, err := s.decoder.Write(f.Payload); err != nil {
		return fmt.Errorf("pipe: decoding FRAME: %w", err)
	}
	return s.askForPending()
}

// askForPending sends ASK for every hash the decoder is newly blocked
// on: incoming FRAME bytes accumulate in the decoder until every
// blocking hash is resolved.
func (s *Session) askForPending() error {
	for _, h := range s.decoder.PendingHashes() {
		if s.asked[h] {
			continue
		}
		if err := WriteAsk(s.wire, h); err != nil {
			return fmt.Errorf("pipe: sending ASK for %016x: %w", h, err)
		}
		s.asked[h] = true
	}
	return nil
}

func (s *Session) handleAsk(a *Ask) error {
	segment, ok := s.localCache.Lookup(a.Hash)
	if !ok {
		return fmt.Errorf("%w: %016x", ErrUnknownAsk, a.Hash)
	}
	if err := WriteLearn(s.wire, segment); err != nil {
		return fmt.Errorf("pipe: sending LEARN for %016x: %w", a.Hash, err)
	}
	return nil
}

func (s *Session) handleLearn(l *Learn) error {
	hash := rollhash.MixBytes(l.Segment[:])
	if !s.asked[hash] && s.logger != nil {
		s.logger.Info("pipe: unsolicited LEARN", "hash", fmt.Sprintf("%016x", hash))
	}
	delete(s.asked, hash)
	if err := s.decoder.Learn(hash, l.Segment[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrLearnCollision, err)
	}
	if err := s.askForPending(); err != nil {
		return err
	}
	return s.maybeAckEOS()
}

func (s *Session) handleEOS() error {
	s.eosRecv = true
	return s.maybeAckEOS()
}

// maybeAckEOS emits EOS_ACK once the frame buffer is drained and no
// ASK remains outstanding.
func (s *Session) maybeAckEOS() error {
	if !s.eosRecv || s.eosAckSent {
		return nil
	}
	if s.decoder != nil && s.decoder.Pending() {
		return nil
	}
	if len(s.asked) > 0 {
		return nil
	}
	if err := WriteEOSAck(s.wire); err != nil {
		return fmt.Errorf("pipe: sending EOS_ACK: %w", err)
	}
	s.eosAckSent = true
	return nil
}

func (s *Session) handleEOSAck() error {
	s.eosAckRecv = true
	return nil
}

// Closed reports whether both directions have exchanged EOS_ACK and
// the chain may fully close.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eosAckSent && s.eosAckRecv
}

// Encode feeds application bytes through the local Encoder and
// flushes any resulting opcode bytes to the peer as FRAME records.
func (s *Session) Encode(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHelloSentLocked(); err != nil {
		return err
	}
	if _, err := s.encoder.Write(p); err != nil {
		return fmt.Errorf("pipe: encoding: %w", err)
	}
	return s.flushFrames()
}

// Flush declares any candidate held by the Encoder and flushes all
// remaining opcode bytes to the peer.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	if err := s.encoder.Flush(); err != nil {
		return fmt.Errorf("pipe: flushing encoder: %w", err)
	}
	return s.flushFrames()
}

func (s *Session) flushFrames() error {
	for len(s.encBuf.buf) > 0 {
		n := len(s.encBuf.buf)
		if n > MaxFrameLength {
			n = MaxFrameLength
		}
		if err := WriteFrame(s.wire, s.encBuf.buf[:n]); err != nil {
			return fmt.Errorf("pipe: writing FRAME: %w", err)
		}
		s.encBuf.buf = s.encBuf.buf[n:]
	}
	return nil
}

// SendEOS flushes the encoder and emits the half-close initiation
// record.
func (s *Session) SendEOS() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHelloSentLocked(); err != nil {
		return err
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := WriteEOS(s.wire); err != nil {
		return fmt.Errorf("pipe: sending EOS: %w", err)
	}
	s.eosSent = true
	return nil
}
