// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package reactor

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestReadDeliversEvent(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, nil)

	io := NewIOService(d)
	action := NewAction()
	src := bytes.NewReader([]byte("hello"))
	buf := make([]byte, 16)

	done := make(chan Event, 1)
	io.Read(action, src, buf, func(ev Event) { done <- ev })

	select {
	case ev := <-done:
		if ev.Type != EventDone || string(ev.Buf) != "hello" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

func TestReadEOS(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, nil)

	io := NewIOService(d)
	action := NewAction()
	src := bytes.NewReader(nil)
	buf := make([]byte, 16)

	done := make(chan Event, 1)
	io.Read(action, src, buf, func(ev Event) { done <- ev })

	select {
	case ev := <-done:
		if ev.Type != EventEOS {
			t.Fatalf("want EventEOS, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOS")
	}
}

func TestCancelSuppressesCallback(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, nil)

	io := NewIOService(d)
	action := NewAction()

	called := make(chan struct{}, 1)
	blockUntil := make(chan struct{})
	io.Do(action, func() error {
		<-blockUntil
		return nil
	}, func(ev Event) { called <- struct{}{} })

	action.Cancel()
	close(blockUntil)

	select {
	case <-called:
		t.Fatal("callback ran for a cancelled action")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWaitFires(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, nil)

	io := NewIOService(d)
	action := NewAction()

	fired := make(chan struct{}, 1)
	io.Wait(action, 10*time.Millisecond, func(ev Event) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Wait to fire")
	}
}

func TestReloadAndStop(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx, func() { reloaded <- struct{}{} })
		close(stopped)
	}()

	d.Reload()
	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("Reload did not invoke onReload")
	}

	d.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not end Run")
	}
}
