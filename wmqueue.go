// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

// subBlockID is spec's DecompressedSubBlock identity triple: the origin
// chunk, the block index within that chunk's scan session, and the
// sub-block index within that block's decode.
type subBlockID struct {
	chunk uint64
	block uint64
	sub   uint64
}

func (a subBlockID) eq(b subBlockID) bool {
	return a.chunk == b.chunk && a.block == b.block && a.sub == b.sub
}

func (a subBlockID) less(b subBlockID) bool {
	if a.chunk != b.chunk {
		return a.chunk < b.chunk
	}
	if a.block != b.block {
		return a.block < b.block
	}
	return a.sub < b.sub
}

// decompressedSubBlock is one piece of fully decoded output, at most
// maxSubBlockBytes long, queued to the Muxer. It corresponds to spec's
// DecompressedSubBlock entity and lbunzip2.c's struct w2m_blk.
type decompressedSubBlock struct {
	id          subBlockID
	lastInBlock bool // last_decompr: final sub-block produced by its block
	lastInChunk bool // only meaningful when lastInBlock: copied from the owning compressedBlock

	data []byte

	// blockCRC is this compressedBlock's own declared CRC (zero for a
	// stream-open marker, which carries no decoded payload); valid
	// whenever lastInBlock is set, it is what the Muxer folds into its
	// running per-stream CRC.
	blockCRC uint32

	// compressedSize is the originating compressedBlock's raw byte span
	// (len(b.data)); zero for a marker. Only meaningful when lastInBlock
	// && opensBS100k == 0. Used purely for Progress reporting.
	compressedSize int

	// Only meaningful when lastInBlock:
	opensBS100k int    // > 0 iff this block opens a (possibly terminal, bs100k=10) stream
	streamCRC   uint32 // expected CRC of the stream being closed, valid whenever opensBS100k > 0

	next *decompressedSubBlock // intrusive singly linked list, mirrors w2m_blk->next
}

// terminalBS100k is the sentinel lbunzip2 uses on the muxer's closing
// marker to mean "no further stream will ever begin" (spec.md §9's "not a
// valid bzip2 file" and ordinary end-of-input share this marker; any value
// above the valid 1..9 range works, lbunzip2 uses 10).
const terminalBS100k = 10

// wmQueue is the WM queue (Workers -> Muxer): an intrusive linked list of
// completed sub-blocks (head), the identity triple the Muxer currently
// needs next, the count of still-running workers, and a credit counter of
// chunks fully released back toward the MS queue. Mirrors lbunzip2.c's
// struct w2m_q.
type wmQueue struct {
	mon monitor

	head    *decompressedSubBlock
	needed  subBlockID
	working int
	numRel  int
	err     error
}

func newWMQueue(numWorkers int) *wmQueue {
	q := &wmQueue{working: numWorkers}
	q.mon.init()
	return q
}

// publish pushes a completed sub-block onto head. It signals iff the
// Muxer could be blocked purely on this sub-block's arrival: numRel==0 (no
// pending chunk-release credits of its own to wake it) and sb is precisely
// the triple the Muxer is waiting on.
func (q *wmQueue) publish(sb *decompressedSubBlock) {
	q.mon.lock()
	sb.next = q.head
	q.head = sb
	wake := q.numRel == 0 && sb.id.eq(q.needed)
	if wake {
		q.mon.signalLocked()
	}
	q.mon.unlock()
}

// releaseChunk decrements c's refcount and, if this was the last
// reference, credits the WM queue's release counter by one, mirroring
// lbunzip2.c's work_release.
func releaseChunk(c *inputChunk, wm *wmQueue) {
	if c.release() {
		wm.mon.lock()
		wasZero := wm.numRel == 0
		wm.numRel++
		if wasZero {
			wm.mon.signalLocked()
		}
		wm.mon.unlock()
	}
}

// workerExit is called once by each worker as it terminates; it wakes the
// Muxer when the last worker exits with nothing left pending.
func (q *wmQueue) workerExit() {
	q.mon.lock()
	q.working--
	if q.working == 0 && q.numRel == 0 && q.head == nil {
		q.mon.signalLocked()
	}
	q.mon.unlock()
}

// drain waits for, then detaches, everything currently available: the
// linked list of newly published sub-blocks and the accumulated release
// credit. It reports the still-running worker count observed at the time
// of the detach. Mirrors the core of lbunzip2.c's mux() loop body.
func (q *wmQueue) drain() (head *decompressedSubBlock, numRel, working int) {
	q.mon.lock()
	for {
		head = q.head
		working = q.working
		numRel = q.numRel
		if head != nil || working == 0 || numRel > 0 || q.err != nil {
			break
		}
		q.mon.waitLocked()
	}
	q.head = nil
	q.numRel = 0
	q.mon.unlock()
	return head, numRel, working
}

// setNeeded publishes the next-needed triple for publish()'s wake check.
func (q *wmQueue) setNeeded(id subBlockID) {
	q.mon.lock()
	q.needed = id
	q.mon.unlock()
}

// fail records the first fatal decode error (e.g. a block checksum
// mismatch) so the Muxer can surface it once draining finishes.
func (q *wmQueue) fail(err error) {
	q.mon.lock()
	if q.err == nil {
		q.err = err
	}
	q.mon.broadcastLocked()
	q.mon.unlock()
}

func (q *wmQueue) getErr() error {
	q.mon.lock()
	defer q.mon.unlock()
	return q.err
}
