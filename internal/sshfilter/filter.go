// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package sshfilter

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/wanproxy-xtech/wanproxy/internal/filter"
)

// nonceSize is the ChaCha20-Poly1305 nonce size used for every frame.
// A fresh random nonce per frame avoids having to keep a counter in
// sync across the two filters sharing a Session.
const nonceSize = 12

// Encrypt is the outermost stage of a chain nearest the socket: it
// seals consumed bytes into length-prefixed AEAD frames once the key
// exchange (run by the paired Decrypt filter, sharing the same
// Session) has completed, buffering plaintext until then.
type Encrypt struct {
	filter.Base
	session  *Session
	logger   *slog.Logger
	sentPub  bool
	pending  []byte
}

// NewEncrypt creates an Encrypt filter over session.
func NewEncrypt(session *Session, logger *slog.Logger) *Encrypt {
	return &Encrypt{session: session, logger: logger}
}

// Consume implements filter.Filter.
func (e *Encrypt) Consume(buf []byte, flags int) error {
	if !e.sentPub {
		if err := e.Produce(e.session.LocalPublicKey(), 0); err != nil {
			return fmt.Errorf("sshfilter: sending public key: %w", err)
		}
		e.sentPub = true
	}
	e.pending = append(e.pending, buf...)
	if !e.session.Negotiated() {
		return nil
	}
	return e.drain()
}

func (e *Encrypt) drain() error {
	if len(e.pending) == 0 {
		return nil
	}
	frame, err := e.seal(e.pending)
	if err != nil {
		return err
	}
	e.pending = nil
	if err := e.Produce(frame, 0); err != nil {
		return err
	}
	if e.session.shouldRekey(len(frame)) && e.logger != nil {
		e.logger.Info("sshfilter: rekey interval reached", "bytes", len(frame))
	}
	return nil
}

// seal builds one wire frame: a 4-byte big-endian length, the random
// nonce, and the sealed ciphertext (which includes the Poly1305 tag).
func (e *Encrypt) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sshfilter: generating nonce: %w", err)
	}
	ciphertext := e.session.send.Seal(nil, nonce, plaintext, nil)

	frame := make([]byte, 4+nonceSize+len(ciphertext))
	binary.BigEndian.PutUint32(frame[:4], uint32(nonceSize+len(ciphertext)))
	copy(frame[4:4+nonceSize], nonce)
	copy(frame[4+nonceSize:], ciphertext)
	return frame, nil
}

// Flush implements filter.Filter: any plaintext still pending because
// negotiation never completed is a connection-ending error, since it
// can never be sealed.
func (e *Encrypt) Flush(flags int) error {
	if len(e.pending) > 0 && !e.session.Negotiated() {
		return fmt.Errorf("sshfilter: flush with %d bytes pending and key exchange incomplete", len(e.pending))
	}
	if err := e.drain(); err != nil {
		return err
	}
	return e.Base.Flush(flags)
}

// Decrypt is the innermost-facing stage nearest the socket on the
// receive path: it reads the peer's public key once, negotiates the
// shared Session, then opens each AEAD frame and produces the
// recovered plaintext downstream.
type Decrypt struct {
	filter.Base
	session    *Session
	buf        []byte
	identified bool
}

// NewDecrypt creates a Decrypt filter over session.
func NewDecrypt(session *Session) *Decrypt {
	return &Decrypt{session: session}
}

// Consume implements filter.Filter.
func (d *Decrypt) Consume(buf []byte, flags int) error {
	d.buf = append(d.buf, buf...)

	if !d.identified {
		if len(d.buf) < pubKeySize {
			return nil
		}
		peerPub := d.buf[:pubKeySize]
		if err := d.session.Negotiate(peerPub); err != nil {
			return fmt.Errorf("sshfilter: %w", err)
		}
		d.buf = d.buf[pubKeySize:]
		d.identified = true
	}

	for {
		if len(d.buf) < 4 {
			return nil
		}
		frameLen := binary.BigEndian.Uint32(d.buf[:4])
		if uint64(len(d.buf)) < 4+uint64(frameLen) {
			return nil
		}
		if frameLen < nonceSize {
			return fmt.Errorf("sshfilter: frame length %d shorter than nonce", frameLen)
		}
		nonce := d.buf[4 : 4+nonceSize]
		ciphertext := d.buf[4+nonceSize : 4+frameLen]

		plaintext, err := d.session.recv.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return fmt.Errorf("sshfilter: opening frame: %w", err)
		}
		d.buf = d.buf[4+frameLen:]

		if err := d.Produce(plaintext, flags); err != nil {
			return err
		}
	}
}

// Flush implements filter.Filter.
func (d *Decrypt) Flush(flags int) error {
	if len(d.buf) > 0 {
		return fmt.Errorf("sshfilter: flush with %d undecoded bytes remaining", len(d.buf))
	}
	return d.Base.Flush(flags)
}
