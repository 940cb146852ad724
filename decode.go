// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import (
	"fmt"
	"io"

	ibzip2 "github.com/cosnicolaou/pbzip2/internal/bzip2"
)

// maxSubBlockBytes bounds the size of each decompressedSubBlock, mirroring
// spec's MX_DECOMPR = 1MiB per emitted sub-block.
const maxSubBlockBytes = 1 << 20

// maxBlockSizeBytes sizes the BlockReader's BWT working buffer using the
// largest bzip2 block size a header can ever declare (level 9, 900KB). A
// fresh worker scanning mid-stream has no reliable way to learn the
// enclosing stream's actual declared level without either racing on
// shared mutable state or re-scanning arbitrarily far backward (see
// DESIGN.md's "Additional simplifications settled while wiring
// scan/decode/mux together"); internal/bzip2 only ever uses
// blockSize as an upper bound on the working buffer, so over-allocating
// it for every block is always safe, merely not maximally memory-tight.
const maxBlockSizeBytes = 9 * 100 * 1000

// decodeBlock realizes spec's opaque retrieve/work/emit contract (§6.2) for
// one already-located compressedBlock: retrieve is the scanning step
// already performed by scan.go; work+emit are collapsed into one
// synchronous pass of the teacher's existing Huffman/BWT block decoder,
// producing output in ≤1MiB slices (see DESIGN.md's "Simplifying
// adaptations").
func decodeBlock(b *compressedBlock) ([]*decompressedSubBlock, error) {
	if b.bs100k > 0 {
		// A stream-open marker (including the final end-of-input
		// sentinel, terminalBS100k) carries no Huffman-coded payload to
		// decode; it is pure bookkeeping for the Muxer's CRC fold and
		// stream-open tracking.
		return []*decompressedSubBlock{{
			id:          subBlockID{chunk: b.id.chunk, block: b.id.idx, sub: 0},
			lastInBlock: true,
			lastInChunk: b.lastInChunk,
			opensBS100k: b.bs100k,
			streamCRC:   b.streamCRC,
		}}, nil
	}

	br := ibzip2.NewBlockReader(maxBlockSizeBytes, b.data, b.startBit+48).(*ibzip2.BlockReader)

	var subs []*decompressedSubBlock
	var sub uint64
	for {
		buf := make([]byte, maxSubBlockBytes)
		n, err := br.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode block (chunk %d, idx %d): %w", b.id.chunk, b.id.idx, err)
		}
		subs = append(subs, &decompressedSubBlock{
			id:   subBlockID{chunk: b.id.chunk, block: b.id.idx, sub: sub},
			data: buf[:n],
		})
		sub++
	}
	last := &decompressedSubBlock{
		id:             subBlockID{chunk: b.id.chunk, block: b.id.idx, sub: sub},
		lastInBlock:    true,
		lastInChunk:    b.lastInChunk,
		blockCRC:       br.BlockCRC(),
		compressedSize: len(b.data),
		opensBS100k:    b.bs100k,
		streamCRC:      b.streamCRC,
	}
	subs = append(subs, last)
	return subs, nil
}
