// Copyright 2015 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package entry holds the types that flow between internal/planner and
// internal/zipwriter: the assembled, fully-sized result of compressing one
// input entry, and the future that lets the planner hand work to a pool of
// workers while the Writer consumes results in submission order.
package entry

import "io"

// ZIP method codes, per APPNOTE 6.3.x (zstd is method 93, registered by
// PKWARE as of APPNOTE 6.3.8).
const (
	MethodStore   = 0
	MethodDeflate = 8
	MethodZstd    = 93
)

// Splice describes a precompressed byte range to copy verbatim from a
// source archive, bypassing the compressor pool entirely. Reader must
// already be positioned at the start of the range (callers with a
// random-access source wrap it in io.NewSectionReader), matching the
// contract of the source-archive abstraction's OpenRange method.
type Splice struct {
	Reader io.Reader
	Length int64
}

// Assembled is one fully-compressed, fully-sized entry, ready for the
// Writer to serialize. Every field is final: no further CRC or size
// computation happens once an Assembled reaches the Writer, because the
// engine never emits data descriptors (the local header must carry final
// values up front).
type Assembled struct {
	Name             string
	Method           uint16
	CRC32            uint32
	UncompressedSize uint64
	CompressedSize   uint64
	ModTime          int64 // seconds since the Unix epoch
	ATime, CTime     *int64
	Mode             uint32 // unix permission/type bits; 0 if not meaningful
	IsDir            bool
	SymlinkTarget    string // non-empty marks this entry as a symlink

	// Chunks holds the ordered payload fragments to write verbatim after
	// the local header (for Store, the literal source bytes; for Deflate,
	// the concatenated raw deflate fragments; for Zstd, the single zstd
	// frame in Chunks[0]). Empty for Splice entries.
	Chunks [][]byte

	// Splice is non-nil for entries imported from another archive without
	// recompression.
	Splice *Splice

	// Release is called by the Writer once the payload has been fully
	// flushed to the output file -- it closes any open input file handle
	// and returns this entry's open-file and in-flight-byte budget.
	Release func()
}

// Future lets the planner return immediately from a submission call while
// compression continues in the background; the Writer blocks on Wait in
// submission order.
type Future struct {
	ch chan result
}

type result struct {
	assembled *Assembled
	err       error
}

// NewFuture returns a Future with room for exactly one result.
func NewFuture() *Future {
	return &Future{ch: make(chan result, 1)}
}

// Resolve completes the future. It must be called exactly once.
func (f *Future) Resolve(a *Assembled, err error) {
	f.ch <- result{assembled: a, err: err}
}

// Wait blocks until the future is resolved and returns its result.
func (f *Future) Wait() (*Assembled, error) {
	r := <-f.ch
	return r.assembled, r.err
}
