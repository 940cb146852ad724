// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import "sync/atomic"

// countedWorker runs runWorker while keeping numDecompressionGoRoutines
// (the same counter the teacher's Decompressor.worker goroutines
// maintained) accurate, so callers sampling
// GetNumDecompressionGoRoutines mid-Read still observe this pipeline's
// concurrency.
func countedWorker(sw *swQueue, wm *wmQueue) {
	atomic.AddInt64(&numDecompressionGoRoutines, 1)
	runWorker(sw, wm)
	atomic.AddInt64(&numDecompressionGoRoutines, -1)
}

// runWorker is the body of one pipeline worker goroutine: it repeatedly
// asks the SW queue for the next unit of work (a compressedBlock to
// decode, absolute priority, or an inputChunk to scan from scratch)
// until genuine end of input, then reports its own exit to the WM
// queue. It mirrors lbunzip2.c's work().
func runWorker(sw *swQueue, wm *wmQueue) {
	decode := func(b *compressedBlock) { processDecode(b, wm) }
	for {
		b, c := sw.workGetFirst()
		if b == nil && c == nil {
			wm.workerExit()
			return
		}
		if b != nil {
			decode(b)
			continue
		}
		sw.detachScan(c)
		scanWorker(c, sw, wm, decode)
	}
}

// processDecode runs one compressedBlock through the codec and
// publishes every resulting sub-block to the WM queue, releasing the
// block's own data (it is a private copy, not chunk-backed, so there is
// nothing further to release here beyond what scan.go already tracks).
func processDecode(b *compressedBlock, wm *wmQueue) {
	subs, err := decodeBlock(b)
	if err != nil {
		wm.fail(err)
		return
	}
	for _, sb := range subs {
		wm.publish(sb)
	}
}
