// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import (
	"context"
	"io"
	"log"
	"runtime"
)

// slotsPerWorker sets the MS queue's default capacity relative to worker
// count, matching spec's "default ~ num_worker x 3, implementation
// defined" (§4.8).
const slotsPerWorker = 3

// pipeline wires one Splitter, N Worker goroutines and one Muxer
// together over the SW/WM/MS queues and exposes the decompressed result
// as an io.Reader via an io.Pipe, mirroring how the teacher's
// Decompressor exposes dc.prd. It corresponds to spec's overall
// Splitter -> [SW] -> Worker pool -> [WM] -> Muxer -> output topology
// (§2).
type pipeline struct {
	prd *io.PipeReader
}

// PipelineStats reports how many times each of the three condvar queues
// actually blocked a waiter, the Go analogue of lbunzip2.c's print_cctrs
// condition-variable counters (see SPEC_FULL.md §C.1).
type PipelineStats struct {
	SWWaits int64
	WMWaits int64
	MSWaits int64
}

// newPipeline starts the whole pipeline against in, writing decompressed
// bytes to an internal pipe readable via Read. Unlike lbunzip2's own
// OS-thread model, ctx cancellation is wired in: canceling ctx fails the
// SW/WM queues exactly as a fatal scanning/decoding error would,
// unblocking every worker's wait promptly (they observe eof/err and
// exit, same path as genuine end of input) and the Muxer's drain
// (it observes the WM queue's err and returns it). This keeps
// NewReader's cancellation contract from the teacher's channel-based
// Decompressor without needing a select on every condvar wait.
func newPipeline(ctx context.Context, in io.Reader, o decompressorOpts) *pipeline {
	concurrency := o.concurrency
	if concurrency < 1 {
		concurrency = runtime.GOMAXPROCS(-1)
	}

	sw := newSWQueue(concurrency)
	wm := newWMQueue(concurrency)
	ms := newSlotQueue(concurrency * slotsPerWorker)

	pr, pw := io.Pipe()
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			sw.fail(ctx.Err())
			wm.fail(ctx.Err())
		case <-done:
		}
	}()

	sp := newSplitter(in, defaultChunkBytes, sw, ms)
	go sp.run()

	for i := 0; i < concurrency; i++ {
		go countedWorker(sw, wm)
	}

	mux := newMuxer(wm, ms, pw, o.progressCh)
	go func() {
		err := mux.run()
		// A fatal scanning/read error (sw.fail) is the true root cause
		// even when it left the Muxer concluding nothing more mundane,
		// like "not a valid bzip2 file" (no block ever decoded) or a
		// clean EOF; prefer it whenever present.
		if swErr := sw.getErr(); swErr != nil {
			err = swErr
		}
		if o.verbose {
			stats := PipelineStats{
				SWWaits: sw.mon.waitCount(),
				WMWaits: wm.mon.waitCount(),
				MSWaits: ms.mon.waitCount(),
			}
			log.Printf("pipeline stats: sw waits %d, wm waits %d, ms waits %d",
				stats.SWWaits, stats.WMWaits, stats.MSWaits)
		}
		pw.CloseWithError(err)
		close(done)
	}()

	return &pipeline{prd: pr}
}

// Read implements io.Reader on the decompressed stream.
func (p *pipeline) Read(buf []byte) (int, error) {
	return p.prd.Read(buf)
}
