// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import (
	"fmt"
	"io"
)

// splitter reads the input in fixed-size chunks, handing each off to the
// SW queue as soon as it is filled, throttled by the MS queue's slot
// credits so at most a bounded number of chunks are ever in flight at
// once. It corresponds to spec's Splitter (§4.3-4.4) and lbunzip2.c's
// split().
type splitter struct {
	in         io.Reader
	chunkBytes int
	sw         *swQueue
	ms         *slotQueue
}

func newSplitter(in io.Reader, chunkBytes int, sw *swQueue, ms *slotQueue) *splitter {
	return &splitter{in: in, chunkBytes: chunkBytes, sw: sw, ms: ms}
}

// run reads the entire input, publishing one inputChunk per chunkBytes
// (the final chunk may be shorter) until EOF, then marks the chain as
// complete. A read error is reported as a fatal error on the SW queue so
// every worker exits promptly rather than blocking forever.
func (s *splitter) run() {
	var tail *inputChunk
	var id uint64

	for {
		s.ms.acquire()

		id++
		c := &inputChunk{id: id, data: make([]byte, s.chunkBytes), refcount: 1}

		n, err := io.ReadFull(s.in, c.data)
		c.loaded = n
		eof := false
		switch {
		case err == io.EOF:
			// Nothing at all was read for this chunk: it contributes no
			// bytes of its own, but it is still published so a scan
			// session can observe genuine end of input via its
			// (empty) presence on the chain.
			eof = true
		case err == io.ErrUnexpectedEOF:
			eof = true
		case err != nil:
			s.sw.fail(fmt.Errorf("read input: %w", err))
			return
		}

		s.sw.publishChunk(tail, c, eof)
		tail = c

		if eof {
			return
		}
	}
}
