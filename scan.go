// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import (
	"encoding/binary"
	"fmt"

	"github.com/cosnicolaou/pbzip2/internal/bitstream"
)

// scanLookahead bounds how far ahead a scan session looks for the next
// block magic, mirroring Scanner's own lookahead window: the largest
// possible compressed block (level 9) plus slack for the per-block
// Huffman/BWT preamble.
const scanLookahead = 9*100*1000 + 30*1024

// scanState is one worker's in-progress scanning session: the chunked,
// concurrent analogue of Scanner's sequential bufio-backed state. It
// reuses Scanner's own lower-level helpers (parseHeader, handleSkippedEOS,
// FindTrailingMagicAndCRC, the block-magic lookup tables) since those are
// pure functions of the bytes in view and apply identically whether the
// bytes arrived from one contiguous io.Reader or several inputChunks
// stitched together here.
type scanState struct {
	sw     *swQueue
	wm     *wmQueue
	decode func(*compressedBlock)

	origin *inputChunk
	cur    *inputChunk
	held   []*inputChunk

	buf           []byte // unconsumed bytes; buf[0] begins the in-progress block
	originLeft    int    // bytes of buf still attributable to origin
	foreignPrefix bool   // true until this session's first owned landmark is found
	prevBitOffset int
	blockIdx      uint64
}

// scanWorker runs one complete scan session starting at origin, the
// inputChunk just claimed via swQueue.workGetFirst/detachScan. It
// publishes every compressedBlock it locates to sw, straddling into
// further chunks via sw.workGetSecond exactly as lbunzip2.c's
// work_get_second does, handing any decode work returned while waiting
// to decode (which keeps absolute priority over scanning) before
// resuming. The session ends, and this call returns, once it has
// produced the one block whose boundary required bytes beyond origin
// (lastInChunk), or once genuine end of input is reached.
func scanWorker(origin *inputChunk, sw *swQueue, wm *wmQueue, decode func(*compressedBlock)) {
	s := &scanState{
		sw: sw, wm: wm, decode: decode,
		origin: origin, cur: origin,
		foreignPrefix: origin.id != 1,
		originLeft:    origin.loaded,
	}
	s.held = append(s.held, origin)
	s.buf = append(s.buf, origin.data[:origin.loaded]...)

	if origin.id == 1 {
		if err := s.readFileHeader(); err != nil {
			sw.fail(err)
			s.releaseAll()
			return
		}
	}

	for s.step() {
	}
	s.releaseAll()
}

// readFileHeader validates and consumes the 4-byte 'BZh?' header that
// must open the very first chunk of the whole input, and publishes the
// marker that tells the Muxer the first stream has opened. Its error
// wording mirrors Scanner.scanHeader's (failed-to-read vs too-small vs
// parseHeader's own wrong-magic/version/blocksize messages), even
// though the underlying read here is a bulk chunk read rather than a
// single 4-byte Read.
func (s *scanState) readFileHeader() error {
	if !s.ensure(4) {
		if len(s.buf) == 0 {
			return fmt.Errorf("failed to read stream header: EOF")
		}
		return fmt.Errorf("stream header is too small: %v", len(s.buf))
	}
	sz, err := parseHeader(s.buf[:4])
	if err != nil {
		return err
	}
	s.discard(4)
	s.emitMarker(sz/(100*1000), 0, false)
	return nil
}

// ensure grows buf until it holds at least n bytes, pulling further
// chunks via the SW queue as needed. It reports false only once genuine
// end of input is confirmed (no further chunk, and the splitter is
// done) with fewer than n bytes ever available.
func (s *scanState) ensure(n int) bool {
	for len(s.buf) < n {
		b, next := s.sw.workGetSecond(s.cur)
		if b != nil {
			s.decode(b)
			continue
		}
		if next == nil {
			return len(s.buf) >= n
		}
		s.cur = next
		s.touch(next)
		s.buf = append(s.buf, next.data[:next.loaded]...)
	}
	return true
}

func (s *scanState) touch(c *inputChunk) {
	if c != s.origin {
		c.addRef(1)
	}
	s.held = append(s.held, c)
}

func (s *scanState) releaseAll() {
	for _, c := range s.held {
		releaseChunk(c, s.wm)
	}
}

// discard drops n consumed bytes from the front of buf and keeps
// originLeft in step.
func (s *scanState) discard(n int) {
	s.buf = s.buf[n:]
	s.originLeft -= n
	if s.originLeft < 0 {
		s.originLeft = 0
	}
}

// step locates and publishes (or, for a fresh session's own foreign
// first landmark, silently skips past) the next block boundary. It
// returns false once this session has concluded.
func (s *scanState) step() bool {
	haveFull := s.ensure(scanLookahead)

	// Once foreignPrefix has been resolved, buf[0] always begins this
	// session's current, already-located block magic: the first block
	// right after readFileHeader, or whatever boundary the previous
	// step() discarded down to. Searching from buf[0] unmodified would
	// have bitstream.Scan immediately re-match that same magic instead
	// of advancing to the next one, so the search starts just past it.
	skip := 0
	if !s.foreignPrefix {
		skip = len(blockMagic)
		if skip > len(s.buf) {
			skip = len(s.buf)
		}
	}

	byteOffset, bitOffset := bitstream.Scan(pretestBlockMagicLookup, firstBlockMagicLookup, secondBlockMagicLookup, s.buf[skip:])
	if byteOffset != -1 {
		byteOffset += skip
	}
	if byteOffset == -1 {
		if haveFull {
			s.sw.fail(fmt.Errorf("failed to find next block within expected max buffer size of %v", scanLookahead))
			return false
		}
		return s.finishAtEOF()
	}

	consumed := byteOffset + len(blockMagic)
	lastInChunk := consumed > s.originLeft

	if s.foreignPrefix {
		s.foreignPrefix = false
		// This landmark closes a block or stream that belongs to an
		// earlier session; it is never emitted here. The discarded
		// prefix itself is not examined; only the landmark's bit offset
		// is kept as the start of this session's first block.
		s.prevBitOffset = bitOffset
		s.discard(byteOffset)
		return !lastInChunk
	}

	if bitOffset == 0 {
		if newSize, prevCRC, skipConsumed, trailerOffset, ok := handleSkippedEOS(s.buf[:byteOffset], byteOffset); ok {
			szBits := ((byteOffset - skipConsumed) * 8) + trailerOffset - s.prevBitOffset
			szBytes := szBits / 8
			if szBits%8 != 0 {
				szBytes++
			}
			if s.prevBitOffset > 0 {
				szBytes++
			}
			if szBytes > 0 {
				s.publish(szBytes, s.prevBitOffset, false)
			}
			s.prevBitOffset = bitOffset
			s.discard(byteOffset)
			s.emitMarker(newSize/(100*1000), prevCRC, lastInChunk)
			return !lastInChunk
		}
	}

	sz := byteOffset
	if bitOffset > 0 {
		sz++
	}
	s.publish(sz, s.prevBitOffset, lastInChunk)
	s.prevBitOffset = bitOffset
	s.discard(byteOffset)
	return !lastInChunk
}

// finishAtEOF runs once true end of input has been confirmed (no
// further chunk, and buf is short of scanLookahead bytes): it locates
// the final EOS trailer by searching backward exactly as Scanner's
// handleEOF does, and publishes the terminal marker (bs100k ==
// terminalBS100k) that tells the Muxer no further stream will ever
// open. A session that
// never located even a foreign landmark of its own (s.foreignPrefix
// still true) contributes nothing: its chunk held only already-consumed
// trailer bytes or genuine trailing garbage, matching the "short
// trailing chunk with no bzip2 data of its own is valid" resolution in
// SPEC_FULL.md.
func (s *scanState) finishAtEOF() bool {
	if s.foreignPrefix {
		return false
	}
	s.buf, _ = trimTrailingEmptyFiles(s.buf)
	trailer, trailerSize, trailerOffset := bitstream.FindTrailingMagicAndCRC(s.buf, eosMagic[:])
	if trailerSize != 10 {
		s.sw.fail(fmt.Errorf("failed to find trailer"))
		return false
	}
	szBytes := len(s.buf) - trailerSize
	szBits := szBytes * 8
	if trailerOffset > 0 {
		szBits += -8 + trailerOffset
	}
	if s.prevBitOffset > 0 {
		szBits -= s.prevBitOffset
	}
	_ = szBits // informational; not currently surfaced on compressedBlock
	crc := binary.BigEndian.Uint32(trailer)
	if szBytes > 0 {
		s.publish(szBytes, s.prevBitOffset, false)
	}
	s.emitMarker(terminalBS100k, crc, true)
	return false
}

// publish copies out an ordinary, decodable block's data and pushes it
// to the SW queue.
func (s *scanState) publish(sz, startBit int, lastInChunk bool) {
	data := make([]byte, sz)
	copy(data, s.buf[:sz])
	s.sw.publishBlock(&compressedBlock{
		id:          blockID{chunk: s.origin.id, idx: s.blockIdx},
		lastInChunk: lastInChunk,
		data:        data,
		startBit:    startBit,
	})
	s.blockIdx++
}

// emitMarker pushes a no-payload bookkeeping entry: bs100k names the
// stream that opens here (or terminalBS100k for genuine end of input)
// and streamCRC is the just-closed stream's expected CRC (0, trivially
// satisfied, the first time any stream opens).
func (s *scanState) emitMarker(bs100k int, streamCRC uint32, lastInChunk bool) {
	s.sw.publishBlock(&compressedBlock{
		id:          blockID{chunk: s.origin.id, idx: s.blockIdx},
		lastInChunk: lastInChunk,
		bs100k:      bs100k,
		streamCRC:   streamCRC,
	})
	s.blockIdx++
}
