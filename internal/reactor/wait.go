// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package reactor

import "time"

// Wait schedules cb to fire on the dispatcher goroutine after delay,
// with an EventDone event: the reactor's equivalent of a timed-wait
// Action. Cancel on action before it fires prevents delivery.
func (s *IOService) Wait(action *Action, delay time.Duration, cb Callback) {
	gen := action.rearm()
	time.AfterFunc(delay, func() {
		if action.cancelledAt(gen) {
			s.dispatcher.post(message{op: -1, action: action})
			return
		}
		s.dispatcher.post(message{op: 0, action: action, callback: cb, event: Event{Type: EventDone}})
	})
}
