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

// Package splice implements the precompressed-entry byte copy (§4.8): a
// bounded-buffer transfer from a byte range of a source archive directly
// into the output, bypassing the compressor pool entirely. This is a
// portable copy, not a zero-copy syscall (sendfile/splice(2)) -- the
// source may be any io.Reader, including an in-memory byte slice, so a
// single portable path is used rather than special-casing *os.File.
package splice

import (
	"io"

	"github.com/fastzip/fastzip/internal/compressor"
)

// bufferSize bounds how much of a spliced entry's payload is held in
// memory at once -- reusing the DEFLATE window size constant already in
// scope rather than inventing a second tunable.
const bufferSize = compressor.WindowSize

// Copy transfers up to n bytes from src to dst, returning the number of
// bytes written and the first error encountered. src is expected to
// already be positioned at the start of the range to copy (per §6.2,
// the source-archive abstraction's OpenRange returns exactly csize bytes
// with no local-header bytes); callers with a random-access source wrap
// it in io.NewSectionReader before calling Copy.
func Copy(dst io.Writer, src io.Reader, n int64) (int64, error) {
	buf := make([]byte, bufferSize)
	return io.CopyBuffer(dst, io.LimitReader(src, n), buf)
}
