// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import "sync"

// monitor is a sync.Mutex+sync.Cond pair, the idiomatic Go analogue of the
// "struct cond" (xlock/xunlock/xwait/xsignal/xbroadcast) monitor idiom used
// throughout original_source/src/lbunzip2.c for the three pipeline queues.
// It additionally tracks how many times a caller actually blocked, mirroring
// the condition-variable counters lbunzip2 prints under -v (see
// SPEC_FULL.md §C.1).
type monitor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	waits int64
}

func (m *monitor) init() { m.cond = sync.NewCond(&m.mu) }

func (m *monitor) lock()   { m.mu.Lock() }
func (m *monitor) unlock() { m.mu.Unlock() }

// waitLocked blocks on the condition variable; caller must hold the lock.
func (m *monitor) waitLocked() {
	m.waits++
	m.cond.Wait()
}

func (m *monitor) signal()       { m.cond.Signal() }
func (m *monitor) broadcast()    { m.mu.Lock(); m.cond.Broadcast(); m.mu.Unlock() }
func (m *monitor) signalLocked() { m.cond.Signal() }

// broadcastLocked broadcasts while already holding the lock.
func (m *monitor) broadcastLocked() { m.cond.Broadcast() }

// waitCount reports how many times this monitor's waiter(s) actually
// blocked.
func (m *monitor) waitCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waits
}
