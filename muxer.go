// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import (
	"container/heap"
	"fmt"
	"io"
)

// reordPQ is the Muxer's private reordering buffer: a container/heap
// priority queue of *decompressedSubBlock ordered by triple id, mirroring
// lbunzip2.c's mux()'s own local AVL-ish structure and the sibling
// blockPQ/blockHeap heaps already used elsewhere in this package.
type reordPQ []*decompressedSubBlock

func (q reordPQ) Len() int            { return len(q) }
func (q reordPQ) Less(i, j int) bool  { return q[i].id.less(q[j].id) }
func (q reordPQ) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *reordPQ) Push(x interface{}) { *q = append(*q, x.(*decompressedSubBlock)) }
func (q *reordPQ) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// muxer is the single consumer draining the WM queue: it reorders
// sub-blocks by triple id, folds and validates per-stream CRCs, writes
// bytes to output in order, refunds chunk credits to the MS queue, and
// reports progress. It corresponds to spec's Muxer (§4.7) and
// lbunzip2.c's mux().
type muxer struct {
	wm  *wmQueue
	ms  *slotQueue
	out io.Writer

	progressCh chan<- Progress

	reord  reordPQ
	needed subBlockID

	crc      uint32
	bs100k   int
	sawValid bool

	written int64
	block   uint64
}

// newMuxer returns a muxer ready to run, its next-needed triple
// initialized to (1, 0, 0) as spec.md §4.7 requires.
func newMuxer(wm *wmQueue, ms *slotQueue, out io.Writer, progressCh chan<- Progress) *muxer {
	m := &muxer{
		wm:         wm,
		ms:         ms,
		out:        out,
		progressCh: progressCh,
		needed:     subBlockID{chunk: 1, block: 0, sub: 0},
	}
	wm.setNeeded(m.needed)
	return m
}

// run drains the WM queue until every worker has exited and reord is
// empty, writing decompressed bytes to out strictly in triple order.
// Mirrors the loop body of lbunzip2.c's mux().
func (m *muxer) run() error {
	for {
		head, numRel, working := m.wm.drain()

		m.ms.release(numRel)

		for b := head; b != nil; b = b.next {
			heap.Push(&m.reord, b)
		}

		if err := m.drainReady(); err != nil {
			return err
		}

		m.wm.setNeeded(m.needed)

		if working == 0 && m.reord.Len() == 0 {
			break
		}
		if err := m.wm.getErr(); err != nil {
			return err
		}
	}
	if err := m.wm.getErr(); err != nil {
		return err
	}
	if !m.sawValid {
		return fmt.Errorf("not a valid bzip2 file")
	}
	return nil
}

// drainReady writes out every sub-block at the front of reord whose id
// is exactly needed, advancing needed after each, per spec.md §4.7
// step 5.
func (m *muxer) drainReady() error {
	for m.reord.Len() > 0 && m.reord[0].id.eq(m.needed) {
		sb := heap.Pop(&m.reord).(*decompressedSubBlock)

		if sb.opensBS100k > 0 {
			if m.bs100k > 0 && m.crc != sb.streamCRC {
				return fmt.Errorf("mismatched stream CRCs: calculated=0x%08x != stored=0x%08x", m.crc, sb.streamCRC)
			}
			m.crc = 0
			m.bs100k = sb.opensBS100k
			if m.bs100k <= 9 {
				m.sawValid = true
			}
		}

		if sb.lastInBlock && sb.opensBS100k == 0 {
			m.crc = updateStreamCRC(m.crc, sb.blockCRC)
		}

		if len(sb.data) > 0 {
			if _, err := m.out.Write(sb.data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			m.written += int64(len(sb.data))
		}

		if sb.lastInBlock && sb.opensBS100k == 0 {
			m.block++
			if m.progressCh != nil {
				m.progressCh <- Progress{
					Block:      m.block,
					CRC:        sb.blockCRC,
					Compressed: sb.compressedSize,
					Size:       int(m.written),
				}
			}
		}

		if sb.lastInBlock && sb.lastInChunk {
			m.needed = subBlockID{chunk: sb.id.chunk + 1, block: 0, sub: 0}
		} else if sb.lastInBlock {
			m.needed = subBlockID{chunk: sb.id.chunk, block: sb.id.block + 1, sub: 0}
		} else {
			m.needed = subBlockID{chunk: sb.id.chunk, block: sb.id.block, sub: sb.id.sub + 1}
		}
	}
	return nil
}
