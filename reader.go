// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pbzip2

import (
	"context"
	"io"
)

type readerOpts struct {
	decOpts []DecompressorOption
}

// ReaderOption represents an option to NewReader.
type ReaderOption func(o *readerOpts)

// ScannerOptions is accepted for backwards compatibility but has no
// effect: NewReader no longer drives the sequential Scanner (the
// Splitter/Worker-pool/Muxer pipeline in splitter.go/worker.go/muxer.go
// does its own chunked scanning, see scan.go). Scanner itself remains
// available, unchanged, for callers that want standalone sequential
// block enumeration.
func ScannerOptions(opts ...ScannerOption) ReaderOption {
	return func(o *readerOpts) {}
}

// DecompressionOptions passes a DecompressorOption controlling the
// concurrent pipeline created by NewReader (worker count, verbosity,
// progress updates).
func DecompressionOptions(opts ...DecompressorOption) ReaderOption {
	return func(o *readerOpts) {
		o.decOpts = append(o.decOpts, opts...)
	}
}

// NewReader returns an io.Reader that decompresses bzip2 data (including
// multi-stream "cat"-concatenated bzip2 files) using the package's
// concurrent Splitter/Worker-pool/Muxer pipeline.
func NewReader(ctx context.Context, rd io.Reader, opts ...ReaderOption) io.Reader {
	rdOpts := &readerOpts{}
	for _, fn := range opts {
		fn(rdOpts)
	}
	var o decompressorOpts
	for _, fn := range rdOpts.decOpts {
		fn(&o)
	}
	return newPipeline(ctx, rd, o)
}
