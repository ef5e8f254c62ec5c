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

package fastzip

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/fastzip/fastzip/internal/chooser"
	"github.com/fastzip/fastzip/internal/tracing"
)

// Default budget/chunking values, per §6.4.
const (
	DefaultOpenFileBudget   = 16
	DefaultByteBudget       = 64 * 1024 * 1024
	DefaultDeflateChunkSize = 256 * 1024
	DefaultZstdChunkSize    = 1024 * 1024
)

// Options configures an Archive opened with Open. The zero value is not
// directly usable for Threads/OpenFileBudget/ByteBudget/DeflateChunkSize/
// ZstdChunkSize/Chooser/Logger -- Open fills in defaults for any field
// left at its zero value.
type Options struct {
	// Threads bounds the compressor worker pool. Zero defaults to the
	// host CPU count.
	Threads int
	// OpenFileBudget bounds concurrently open input files. Zero defaults
	// to DefaultOpenFileBudget.
	OpenFileBudget int
	// ByteBudget bounds total in-flight uncompressed source bytes; the
	// compressed output held for each entry is not counted against it.
	// Zero defaults to DefaultByteBudget. Negative means unlimited.
	ByteBudget int64
	// Chooser selects a compression method per entry. The zero value
	// defaults to chooser.Default().
	Chooser chooser.Chooser
	// DeflateChunkSize is the chunk size used to fan DEFLATE entries out
	// across workers. Zero defaults to DefaultDeflateChunkSize.
	DeflateChunkSize int
	// ZstdChunkSize is retained for forward compatibility; the current
	// zstd path never chunks (§4.4). Zero defaults to
	// DefaultZstdChunkSize.
	ZstdChunkSize int
	// Logger receives structured diagnostics (duplicate-name skips,
	// per-entry errors). Nil defaults to slog.Default().
	Logger *slog.Logger
	// Tracer receives named span events. Nil defaults to a Logger-backed
	// tracing.Slog.
	Tracer tracing.Tracer
	// QueueDepth bounds how many submitted-but-unassembled entries may
	// queue ahead of the Writer. Zero defaults to 1000.
	QueueDepth int
}

func (o *Options) setDefaults() error {
	if o.Threads < 0 {
		return fmt.Errorf("%w: Threads must be >= 0", ErrInconsistent)
	}
	if o.Threads == 0 {
		o.Threads = runtime.NumCPU()
	}
	if o.OpenFileBudget < 0 {
		return fmt.Errorf("%w: OpenFileBudget must be >= 0", ErrInconsistent)
	}
	if o.OpenFileBudget == 0 {
		o.OpenFileBudget = DefaultOpenFileBudget
	}
	if o.ByteBudget == 0 {
		o.ByteBudget = DefaultByteBudget
	}
	if o.DeflateChunkSize < 0 {
		return fmt.Errorf("%w: DeflateChunkSize must be >= 0", ErrInconsistent)
	}
	if o.DeflateChunkSize == 0 {
		o.DeflateChunkSize = DefaultDeflateChunkSize
	}
	if o.ZstdChunkSize < 0 {
		return fmt.Errorf("%w: ZstdChunkSize must be >= 0", ErrInconsistent)
	}
	if o.ZstdChunkSize == 0 {
		o.ZstdChunkSize = DefaultZstdChunkSize
	}
	// A Chooser with no rules and a zero-value Default is indistinguishable
	// from an unset Options.Chooser (the zero Decision happens to equal
	// chooser.Store); both fall back to the built-in rule table.
	if o.Chooser.Default == (chooser.Decision{}) && o.Chooser.Rules == nil {
		o.Chooser = chooser.Default()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = tracing.NewSlog(o.Logger)
	}
	if o.QueueDepth < 0 {
		return fmt.Errorf("%w: QueueDepth must be >= 0", ErrInconsistent)
	}
	return nil
}
