// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package sshfilter

import (
	"bytes"
	"testing"

	"github.com/wanproxy-xtech/wanproxy/internal/filter"
)

type recorder struct {
	filter.Base
	got []byte
}

func (r *recorder) Consume(buf []byte, flags int) error {
	r.got = append(r.got, buf...)
	return nil
}

// bridge forwards everything it consumes into another Encrypt/Decrypt
// pair's Consume, standing in for the socket between two peers.
type bridge struct {
	filter.Base
	peer filter.Filter
}

func (b *bridge) Consume(buf []byte, flags int) error {
	return b.peer.Consume(buf, flags)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	clientSession, err := NewSession(RoleClient)
	if err != nil {
		t.Fatalf("NewSession(client): %v", err)
	}
	serverSession, err := NewSession(RoleServer)
	if err != nil {
		t.Fatalf("NewSession(server): %v", err)
	}
	// Encrypt seals nothing until its Session has negotiated; in a
	// connector the client's own Decrypt does that from the server's
	// key, and this test has no such Decrypt, so negotiate directly.
	if err := clientSession.Negotiate(serverSession.LocalPublicKey()); err != nil {
		t.Fatalf("Negotiate(client): %v", err)
	}

	serverTail := &recorder{}
	serverDecrypt := NewDecrypt(serverSession)
	serverDecrypt.Chain(serverTail)

	clientEncrypt := NewEncrypt(clientSession, nil)
	clientEncrypt.Chain(&bridge{peer: serverDecrypt})

	data := []byte("plaintext flowing client to server")
	if err := clientEncrypt.Consume(data, 0); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := clientEncrypt.Flush(0); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if !bytes.Equal(serverTail.got, data) {
		t.Fatalf("server decoded %q, want %q", serverTail.got, data)
	}
}

func TestDecryptRejectsTamperedFrame(t *testing.T) {
	clientSession, err := NewSession(RoleClient)
	if err != nil {
		t.Fatalf("NewSession(client): %v", err)
	}
	serverSession, err := NewSession(RoleServer)
	if err != nil {
		t.Fatalf("NewSession(server): %v", err)
	}
	// Without a negotiated client Session, Encrypt would emit only its
	// public key and no frame to tamper with.
	if err := clientSession.Negotiate(serverSession.LocalPublicKey()); err != nil {
		t.Fatalf("Negotiate(client): %v", err)
	}

	var wire bytes.Buffer
	wireFilter := &sinkToBuffer{buf: &wire}
	clientEncrypt := NewEncrypt(clientSession, nil)
	clientEncrypt.Chain(wireFilter)

	if err := clientEncrypt.Consume([]byte("hello"), 0); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	tampered := wire.Bytes()
	tampered[len(tampered)-1] ^= 0xff

	tail := &recorder{}
	serverDecrypt := NewDecrypt(serverSession)
	serverDecrypt.Chain(tail)

	if err := serverDecrypt.Consume(tampered, 0); err == nil {
		t.Fatalf("Consume of tampered frame returned nil error")
	}
}

type sinkToBuffer struct {
	filter.Base
	buf *bytes.Buffer
}

func (s *sinkToBuffer) Consume(buf []byte, flags int) error {
	s.buf.Write(buf)
	return nil
}
