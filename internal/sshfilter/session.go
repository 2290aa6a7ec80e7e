// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package sshfilter implements the optional encrypted-transport stage
// of a connection's filter chain: an X25519 key exchange establishes
// a shared secret, from which HKDF derives a distinct ChaCha20-Poly1305
// key per direction. Encrypt and Decrypt sit at the outer
// edge of a chain (nearest the socket) and share a Session the way the
// decrypt side of the original filter pair shared the encrypt side's
// negotiated session state.
package sshfilter

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"
)

// Role distinguishes the two ends of the key exchange so each side
// derives the same pair of directional keys in the same order.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// pubKeySize is the wire size of an X25519 public key.
const pubKeySize = 32

// rekeyInterval is the minimum spacing between two reports from
// shouldRekey that a rekey is due. Keys are never renegotiated: Encrypt
// only logs the report.
const rekeyInterval = 30 * time.Second

// Session holds one connection's SSH-style transport crypto state: an
// ephemeral X25519 keypair, the derived send/receive AEAD ciphers, and
// a rate limiter pacing rekey reports.
type Session struct {
	role Role

	priv [pubKeySize]byte
	pub  [pubKeySize]byte

	send       chacha20poly1305.AEAD
	recv       chacha20poly1305.AEAD
	negotiated bool

	rekeyLimiter *rate.Limiter
	bytesSinceRekey uint64
}

// NewSession generates a fresh ephemeral keypair for one end of the
// connection.
func NewSession(role Role) (*Session, error) {
	s := &Session{role: role, rekeyLimiter: rate.NewLimiter(rate.Every(rekeyInterval), 1)}
	if _, err := io.ReadFull(rand.Reader, s.priv[:]); err != nil {
		return nil, fmt.Errorf("sshfilter: generating private key: %w", err)
	}
	curve25519.ScalarBaseMult(&s.pub, &s.priv)
	return s, nil
}

// LocalPublicKey returns the bytes to send to the peer as this
// session's half of the key exchange.
func (s *Session) LocalPublicKey() []byte {
	return s.pub[:]
}

// Negotiate computes the shared secret from the peer's public key and
// derives this connection's two directional AEAD ciphers. Both sides
// derive the same pair of keys in the same client-to-server /
// server-to-client order regardless of which side calls Negotiate
// first.
func (s *Session) Negotiate(peerPub []byte) error {
	if len(peerPub) != pubKeySize {
		return fmt.Errorf("sshfilter: peer public key is %d bytes, want %d", len(peerPub), pubKeySize)
	}
	shared, err := curve25519.X25519(s.priv[:], peerPub)
	if err != nil {
		return fmt.Errorf("sshfilter: computing shared secret: %w", err)
	}

	clientToServer, err := deriveKey(shared, "wanproxy ssh filter client-to-server")
	if err != nil {
		return err
	}
	serverToClient, err := deriveKey(shared, "wanproxy ssh filter server-to-client")
	if err != nil {
		return err
	}

	sendKey, recvKey := clientToServer, serverToClient
	if s.role == RoleServer {
		sendKey, recvKey = serverToClient, clientToServer
	}

	s.send, err = chacha20poly1305.New(sendKey)
	if err != nil {
		return fmt.Errorf("sshfilter: building send cipher: %w", err)
	}
	s.recv, err = chacha20poly1305.New(recvKey)
	if err != nil {
		return fmt.Errorf("sshfilter: building recv cipher: %w", err)
	}
	s.negotiated = true
	return nil
}

// deriveKey expands the shared secret into a ChaCha20-Poly1305 key
// bound to info, so the client-to-server and server-to-client ciphers
// never collide even though they share one ECDH secret.
func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("sshfilter: deriving %s key: %w", info, err)
	}
	return key, nil
}

// Negotiated reports whether Negotiate has completed successfully.
func (s *Session) Negotiated() bool {
	return s.negotiated
}

// shouldRekey reports whether enough data has flowed on the send
// direction for a rekey to be due, at most once per rekeyInterval.
func (s *Session) shouldRekey(justWrote int) bool {
	s.bytesSinceRekey += uint64(justWrote)
	const rekeyAfterBytes = 1 << 30 // 1 GiB per direction between rekeys
	if s.bytesSinceRekey < rekeyAfterBytes {
		return false
	}
	if !s.rekeyLimiter.Allow() {
		return false
	}
	s.bytesSinceRekey = 0
	return true
}
