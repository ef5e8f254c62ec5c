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

// Package compressor implements the stateless chunk-compression workers
// consumed by internal/planner's pool: DeflatePool.CompressChunk
// for DEFLATE (raw, concatenable streams) and ZstdEntry for zstd (a single
// complete frame per entry, never chunked -- see the engine design for
// why zstd bypasses chunk fan-out). Both report errors as plain Go errors;
// the planner wraps them as CompressorError.
package compressor

import (
	"bytes"
	"io"
	"sync"

	"compress/flate"

	"github.com/klauspost/compress/zstd"
)

// WindowSize is the DEFLATE compression window (32KiB); when compressing a
// chunk after the first, the caller passes the trailing WindowSize bytes
// of the previous chunk's uncompressed input as dict so the concatenated
// stream decompresses correctly despite the compressor having been reset
// between chunks.
const WindowSize = 32 * 1024

// DeflatePool compresses chunks with a fixed compression level, reusing
// *flate.Writer values through a sync.Pool for the common (no-dictionary)
// case. A writer constructed with a dictionary cannot have its dictionary
// changed by Reset, so dictionary chunks always allocate a fresh writer.
type DeflatePool struct {
	level int
	pool  sync.Pool
}

// NewDeflatePool returns a DeflatePool compressing at the given
// compress/flate level.
func NewDeflatePool(level int) *DeflatePool {
	return &DeflatePool{level: level}
}

// CompressChunk compresses all of r as one fragment of a larger raw
// deflate stream. When dict is non-empty the fragment is compressed with
// that dictionary (the preceding WindowSize uncompressed bytes); when
// final is true the fragment ends with deflate's final-block marker
// (Z_FINISH), otherwise it ends with an empty stored block aligning to a
// byte boundary (Z_SYNC_FLUSH), so that concatenating every chunk's output
// in order yields one valid raw deflate stream.
func (p *DeflatePool) CompressChunk(r io.Reader, dict []byte, final bool) ([]byte, error) {
	buf := new(bytes.Buffer)

	var fw *flate.Writer
	var err error
	if len(dict) > 0 {
		fw, err = flate.NewWriterDict(buf, p.level, dict)
		if err != nil {
			return nil, err
		}
	} else if pooled, ok := p.pool.Get().(*flate.Writer); ok {
		pooled.Reset(buf)
		fw = pooled
		defer p.pool.Put(fw)
	} else {
		fw, err = flate.NewWriter(buf, p.level)
		if err != nil {
			return nil, err
		}
		defer p.pool.Put(fw)
	}

	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if final {
		if err := fw.Close(); err != nil {
			return nil, err
		}
	} else {
		if err := fw.Flush(); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// ZstdEntry compresses all of r into a single complete zstd frame at the
// given level. zstd frames don't support the sync-flush concatenation
// trick DEFLATE uses, so an entry choosing zstd is always compressed by a
// single worker, whole, rather than fanned out across chunks.
func ZstdEntry(r io.Reader, level int) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
