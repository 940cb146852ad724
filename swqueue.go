// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import "container/heap"

// blockID is the identity triple spec assigns a CompressedBlock, minus the
// last-block flag (kept alongside on compressedBlock itself): the input
// chunk a scan session is attributed to, plus that session's local,
// monotonically increasing block index.
type blockID struct {
	chunk uint64
	idx   uint64
}

func (a blockID) less(b blockID) bool {
	if a.chunk != b.chunk {
		return a.chunk < b.chunk
	}
	return a.idx < b.idx
}

// compressedBlock is a located-but-not-yet-decoded bzip2 block: the scanner
// has found both its start (a block magic) and its end (the next block or
// end-of-stream magic), possibly straddling into a second inputChunk to do
// so. It corresponds to spec's CompressedBlock entity and lbunzip2.c's
// struct w2w_blk.
type compressedBlock struct {
	id          blockID
	lastInChunk bool // last_bzip2_flag: last block this scan session produces

	data     []byte // raw bytes spanning [start of this block's magic, start of next); empty for a marker
	startBit int    // bit offset within data[0] where the 48-bit magic begins

	// bs100k is > 0 iff this is a marker rather than a real, decodable
	// block: it carries no Huffman-coded payload, only bookkeeping for
	// the Muxer. It is either the very first marker of the whole input
	// (opening the first stream, streamCRC meaningless/zero), an EOS
	// trailer immediately followed by a new header (opening that stream,
	// streamCRC the CRC the just-closed stream must match), or
	// terminalBS100k (10) on the sentinel marking genuine end of input
	// with no further stream, streamCRC the final stream's expected CRC.
	bs100k    int
	streamCRC uint32
}

// blockPQ is a container/heap priority queue of *compressedBlock ordered by
// id, mirroring the heap idiom already used by the teacher's parallel.go
// blockHeap, repurposed here for the SW queue's deco_q.
type blockPQ []*compressedBlock

func (q blockPQ) Len() int            { return len(q) }
func (q blockPQ) Less(i, j int) bool  { return q[i].id.less(q[j].id) }
func (q blockPQ) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *blockPQ) Push(x interface{}) { *q = append(*q, x.(*compressedBlock)) }
func (q *blockPQ) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// swQueue is the SW queue shared between the Splitter and the Worker pool:
// the chunk chain frontier (nextScan), the decode work priority queue
// (decoQ), and the scanning-session counter used to detect genuine
// end-of-input. It mirrors lbunzip2.c's struct sw2w_q exactly, including
// its minimal-broadcast wake discipline (see the comment blocks on each
// method below and the proof in original_source/src/lbunzip2.c).
type swQueue struct {
	mon monitor

	nextScan *inputChunk
	eof      bool
	decoQ    blockPQ
	scanning int
	err      error
}

func newSWQueue(numWorkers int) *swQueue {
	q := &swQueue{scanning: numWorkers}
	q.mon.init()
	return q
}

// fail records the first fatal scanning error (a structurally invalid
// stream) and forces every worker toward a prompt, orderly exit by
// treating it as genuine end of input.
func (q *swQueue) fail(err error) {
	q.mon.lock()
	if q.err == nil {
		q.err = err
	}
	q.eof = true
	q.mon.broadcastLocked()
	q.mon.unlock()
}

func (q *swQueue) getErr() error {
	q.mon.lock()
	defer q.mon.unlock()
	return q.err
}

// publishChunk links a newly split chunk onto the end of the chain and,
// if no chunk is currently offered for a fresh scan (nextScan == nil),
// offers this one. isEOF marks the chunk as the last one the splitter will
// ever produce. Broadcasting only happens on the nextScan transition: an
// eof-alone transition while nextScan is already non-nil cannot wake any
// genuinely blocked worker, since such a worker would already have been
// handed a chunk to chase via its own `next` pointer.
func (q *swQueue) publishChunk(tail, c *inputChunk, isEOF bool) {
	q.mon.lock()
	if tail != nil {
		tail.next = c
	}
	broadcast := false
	if q.nextScan == nil {
		q.nextScan = c
		if q.decoQ.Len() == 0 {
			broadcast = true
		}
	}
	q.eof = q.eof || isEOF
	q.mon.unlock()
	if broadcast {
		q.mon.broadcast()
	}
}

// publishBlock pushes a located block into decoQ (lbunzip2.c's
// work_oflush). Decompression enjoys absolute priority over scanning, so
// any worker blocked because both decoQ and nextScan were empty must be
// woken whenever this push makes decoQ non-empty.
func (q *swQueue) publishBlock(b *compressedBlock) {
	q.mon.lock()
	broadcast := q.decoQ.Len() == 0 && q.nextScan == nil
	heap.Push(&q.decoQ, b)
	q.mon.unlock()
	if broadcast {
		q.mon.broadcast()
	}
}

// workGetFirst returns the next unit of work for an idle worker: either a
// compressedBlock to decode, or an inputChunk to scan from scratch. It
// returns (nil, nil) at genuine end of input, with no further work
// forthcoming from any worker. Exactly mirrors lbunzip2.c's
// work_get_first.
func (q *swQueue) workGetFirst() (*compressedBlock, *inputChunk) {
	q.mon.lock()
	defer q.mon.unlock()

	q.scanning--
	loop := false
	for {
		if q.decoQ.Len() > 0 {
			b := heap.Pop(&q.decoQ).(*compressedBlock)
			return b, nil
		}
		if q.nextScan != nil {
			c := q.nextScan
			q.scanning++
			return nil, c
		}
		if q.eof && q.scanning == 0 {
			if !loop {
				q.mon.broadcastLocked()
			}
			return nil, nil
		}
		q.mon.waitLocked()
		loop = true
	}
}

// detachScan is called by the worker immediately after claiming chunk c
// via workGetFirst, moving the chain frontier past it so a different idle
// worker can independently begin scanning c.next.
func (q *swQueue) detachScan(c *inputChunk) {
	q.mon.lock()
	q.nextScan = c.next
	q.mon.unlock()
}

// workGetSecond is called mid-scan, when locating a block's end requires
// straddling past the current chunk's content. It acquires the successor
// chunk (waiting for the splitter if necessary), servicing any queued
// decode work that shows up in the meantime exactly as workGetFirst does
// (decode keeps absolute priority). It does not release cur: the scan
// session releases every chunk it holds in scanState.releaseAll. Mirrors
// lbunzip2.c's work_get_second, except decode dispatch while waiting is
// handled by returning the block to the caller for it to run outside the
// lock (scanState.ensure loops on this).
func (q *swQueue) workGetSecond(cur *inputChunk) (*compressedBlock, *inputChunk) {
	q.mon.lock()
	defer q.mon.unlock()

	for {
		if q.decoQ.Len() > 0 {
			b := heap.Pop(&q.decoQ).(*compressedBlock)
			return b, nil
		}
		if q.nextScan != nil || q.eof {
			next := cur.next
			return nil, next
		}
		q.mon.waitLocked()
	}
}

