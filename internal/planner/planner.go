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

// Package planner implements the per-entry chunk partition/dispatch/
// assembly stage: for one input entry it decides a compression method
// (via internal/chooser), fans the payload out across internal/compressor
// workers bounded by internal/ratelimit budgets, folds the per-chunk
// CRC-32 values with internal/crc32combine, and hands internal/zipwriter a
// fully-sized internal/entry.Assembled -- never a partially-sized one,
// since the engine never emits ZIP data descriptors.
package planner

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fastzip/fastzip/internal/chooser"
	"github.com/fastzip/fastzip/internal/compressor"
	"github.com/fastzip/fastzip/internal/crc32combine"
	"github.com/fastzip/fastzip/internal/entry"
	"github.com/fastzip/fastzip/internal/ratelimit"
	"github.com/fastzip/fastzip/internal/tracing"
	"github.com/fastzip/fastzip/internal/zerr"
)

// sniffSize is how much of a FilePath/Blob entry is handed to the Chooser
// as its sample.
const sniffSize = 16 * 1024

// Kind discriminates the shape of a Job's payload, so Plan can switch on
// a field rather than type-assert an interface.
type Kind int

const (
	KindFile Kind = iota
	KindBlob
	KindDir
	KindSymlink
	KindSplice
)

// Job is one input entry submitted to the planner. Exactly the fields
// relevant to Kind are read; the rest are ignored.
type Job struct {
	Kind Kind
	Name string

	ModTime      int64
	ATime, CTime *int64
	Mode         uint32

	Path string // KindFile

	Data []byte // KindBlob

	SymlinkTarget string // KindSymlink

	Splice       *entry.Splice // KindSplice
	SpliceMethod uint16
	SpliceCRC32  uint32
	SpliceUSize  uint64
	SpliceCSize  uint64
}

// Config holds the per-archive tunables that affect chunking. Per-entry
// compression level comes from the Chooser's Decision, not from Config.
type Config struct {
	DeflateChunkSize int64
	// ZstdChunkSize is retained for forward compatibility with a future
	// chunked zstd path; the current Zstd path never chunks (§4.4), so
	// this field is currently unused.
	ZstdChunkSize int64
}

// Planner turns Jobs into entry.Futures. One Planner is shared by every
// call to Plan for a given archive, so its deflate pools (keyed by level)
// are reused across entries.
type Planner struct {
	Chooser chooser.Chooser
	Budgets *ratelimit.Budgets
	Config  Config
	Tracer  tracing.Tracer

	mu    sync.Mutex
	pools map[int]*compressor.DeflatePool
}

// New builds a Planner. A nil tracer is replaced with tracing.Noop.
func New(ch chooser.Chooser, budgets *ratelimit.Budgets, cfg Config, tracer tracing.Tracer) *Planner {
	if tracer == nil {
		tracer = tracing.Noop{}
	}
	return &Planner{
		Chooser: ch,
		Budgets: budgets,
		Config:  cfg,
		Tracer:  tracer,
		pools:   make(map[int]*compressor.DeflatePool),
	}
}

func (p *Planner) deflatePool(level int) *compressor.DeflatePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok := p.pools[level]; ok {
		return pool
	}
	pool := compressor.NewDeflatePool(level)
	p.pools[level] = pool
	return pool
}

// validateName enforces the archive-name invariants checkable without any
// I/O: non-empty, forward slashes only, no leading/trailing spaces, no
// NUL, no byte-order mark, no ".." path component.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", zerr.ErrBadName)
	}
	if strings.Trim(name, " ") != name {
		return fmt.Errorf("%w: %q has leading/trailing spaces", zerr.ErrBadName, name)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a NUL byte", zerr.ErrBadName, name)
	}
	if strings.ContainsRune(name, '\\') {
		return fmt.Errorf("%w: %q uses a backslash separator", zerr.ErrBadName, name)
	}
	if strings.Contains(name, "\ufeff") {
		return fmt.Errorf("%w: %q contains a byte-order mark", zerr.ErrBadName, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q has a %q path component", zerr.ErrBadName, name, "..")
		}
	}
	return nil
}

func resolved(a *entry.Assembled) *entry.Future {
	f := entry.NewFuture()
	f.Resolve(a, nil)
	return f
}

func failed(err error) (*entry.Future, error) {
	return nil, err
}

// Plan submits one Job. Submission-time errors (BadName, and open/stat
// failures for FilePath entries, which the spec treats as immediately
// observable SourceIO) are returned synchronously; everything else
// completes asynchronously through the returned Future.
func (p *Planner) Plan(job Job) (*entry.Future, error) {
	if err := validateName(job.Name); err != nil {
		return failed(err)
	}

	switch job.Kind {
	case KindDir:
		return resolved(&entry.Assembled{
			Name:    job.Name,
			Method:  entry.MethodStore,
			ModTime: job.ModTime,
			ATime:   job.ATime,
			CTime:   job.CTime,
			Mode:    job.Mode,
			IsDir:   true,
			Release: func() {},
		}), nil

	case KindSymlink:
		target := []byte(job.SymlinkTarget)
		return resolved(&entry.Assembled{
			Name:             job.Name,
			Method:           entry.MethodStore,
			CRC32:            crc32.ChecksumIEEE(target),
			UncompressedSize: uint64(len(target)),
			CompressedSize:   uint64(len(target)),
			ModTime:          job.ModTime,
			ATime:            job.ATime,
			CTime:            job.CTime,
			Mode:             job.Mode,
			SymlinkTarget:    job.SymlinkTarget,
			Chunks:           [][]byte{target},
			Release:          func() {},
		}), nil

	case KindSplice:
		if job.Splice == nil {
			return failed(fmt.Errorf("%w: splice job missing source range", zerr.ErrInconsistent))
		}
		return resolved(&entry.Assembled{
			Name:             job.Name,
			Method:           job.SpliceMethod,
			CRC32:            job.SpliceCRC32,
			UncompressedSize: job.SpliceUSize,
			CompressedSize:   job.SpliceCSize,
			ModTime:          job.ModTime,
			ATime:            job.ATime,
			CTime:            job.CTime,
			Mode:             job.Mode,
			Splice:           job.Splice,
			Release:          func() {},
		}), nil

	case KindFile:
		return p.planFile(job)

	case KindBlob:
		return p.planBlob(job)

	default:
		return failed(fmt.Errorf("%w: unknown job kind %d", zerr.ErrInconsistent, job.Kind))
	}
}

func (p *Planner) planFile(job Job) (*entry.Future, error) {
	p.Budgets.OpenFiles.Acquire()
	f, err := os.Open(job.Path)
	if err != nil {
		p.Budgets.OpenFiles.Release()
		return failed(fmt.Errorf("%w: open %s: %v", zerr.ErrSourceIO, job.Path, err))
	}

	fail := func(err error) (*entry.Future, error) {
		p.Budgets.OpenFiles.Release()
		f.Close()
		return failed(err)
	}

	st, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("%w: stat %s: %v", zerr.ErrSourceIO, job.Path, err))
	}
	size := st.Size()

	sample, err := sniff(f, size)
	if err != nil {
		return fail(fmt.Errorf("%w: sniff %s: %v", zerr.ErrSourceIO, job.Path, err))
	}

	release := func() {
		p.Budgets.OpenFiles.Release()
		f.Close()
	}

	future := entry.NewFuture()
	go p.assemble(future, job, f, size, sample, release)
	return future, nil
}

func (p *Planner) planBlob(job Job) (*entry.Future, error) {
	r := bytes.NewReader(job.Data)
	size := int64(len(job.Data))
	sample := job.Data
	if int64(len(sample)) > sniffSize {
		sample = sample[:sniffSize]
	}

	future := entry.NewFuture()
	go p.assemble(future, job, r, size, sample, func() {})
	return future, nil
}

func sniff(r io.ReaderAt, size int64) ([]byte, error) {
	n := int64(sniffSize)
	if size < n {
		n = size
	}
	if n == 0 {
		return nil, nil
	}
	return readRange(r, 0, n)
}

// readRange reads exactly length bytes at offset. A short read -- the
// source shrank after its size was recorded -- is an error, never a
// silently truncated buffer.
func readRange(r io.ReaderAt, offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.ReadAt(buf, offset)
	if int64(n) < length {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// assemble runs on a dedicated goroutine per entry: it drives compression
// to completion (blocking on worker/byte budgets as it goes) and resolves
// future exactly once. release is called once the entry's bytes are no
// longer needed by the Writer's caller.
func (p *Planner) assemble(future *entry.Future, job Job, r io.ReaderAt, size int64, sample []byte, release func()) {
	end := p.Tracer.Start("planner.assemble")
	defer end()

	// Every chunk-dispatching path below acquires exactly one InFlight
	// byte per uncompressed source byte (span.length for Store/Deflate's
	// per-chunk acquires, size for Zstd's single acquire), so regardless
	// of method the total to release once this entry is fully flushed is
	// always size. This is the per-entry (not spec-literal per-chunk)
	// release granularity the no-data-descriptor design forces: see
	// DESIGN.md.
	releaseAll := func() {
		p.Budgets.InFlight.Release(size)
		release()
	}

	a, err := p.compressEntry(job, r, size, sample)
	if err != nil {
		releaseAll()
		future.Resolve(nil, err)
		return
	}
	a.Release = releaseAll
	future.Resolve(a, nil)
}

func (p *Planner) compressEntry(job Job, r io.ReaderAt, size int64, sample []byte) (*entry.Assembled, error) {
	base := entry.Assembled{
		Name:    job.Name,
		ModTime: job.ModTime,
		ATime:   job.ATime,
		CTime:   job.CTime,
		Mode:    job.Mode,
	}

	if size == 0 {
		base.Method = entry.MethodStore
		base.CRC32 = 0
		base.UncompressedSize = 0
		base.CompressedSize = 0
		return &base, nil
	}

	decision := p.Chooser.Choose(job.Name, size, sample)

	switch decision.Method {
	case chooser.MethodStore:
		return p.compressStore(base, r, size)
	case chooser.MethodDeflate:
		return p.compressDeflate(base, r, size, decision.Level)
	case chooser.MethodZstd:
		return p.compressZstd(base, r, size, decision.Level)
	default:
		return nil, fmt.Errorf("%w: unknown chooser method %d", zerr.ErrInconsistent, decision.Method)
	}
}

type chunkSpan struct {
	offset, length int64
}

func splitChunks(size, chunkSize int64) []chunkSpan {
	if chunkSize <= 0 {
		chunkSize = size
	}
	var spans []chunkSpan
	for off := int64(0); off < size; off += chunkSize {
		l := chunkSize
		if off+l > size {
			l = size - off
		}
		spans = append(spans, chunkSpan{offset: off, length: l})
	}
	return spans
}

// readChunk reads one chunk's raw bytes wholesale: the planner needs them
// in memory anyway, both to compute this chunk's CRC-32 and (for DEFLATE)
// to derive the dictionary for the following chunk directly from source
// bytes rather than from a prior chunk's compressed output -- which is
// exactly what lets every chunk compress in parallel despite the
// sync-flush dictionary chaining.
func readChunk(r io.ReaderAt, span chunkSpan) ([]byte, error) {
	return readRange(r, span.offset, span.length)
}

func dictFor(r io.ReaderAt, span chunkSpan) ([]byte, error) {
	if span.offset == 0 {
		return nil, nil
	}
	start := span.offset - compressor.WindowSize
	if start < 0 {
		start = 0
	}
	return readChunk(r, chunkSpan{offset: start, length: span.offset - start})
}

// compressStore computes the CRC-32 of the whole payload by combining
// per-chunk CRCs computed in parallel, without compressing anything. The
// "compressed" chunks are the raw source bytes.
func (p *Planner) compressStore(base entry.Assembled, r io.ReaderAt, size int64) (*entry.Assembled, error) {
	spans := splitChunks(size, p.Config.DeflateChunkSize)
	chunks := make([][]byte, len(spans))
	parts := make([]crc32combine.Part, len(spans))

	if err := p.forEachChunk(spans, func(i int, span chunkSpan) error {
		p.Budgets.InFlight.Acquire(span.length)
		buf, err := readChunk(r, span)
		if err != nil {
			return fmt.Errorf("%w: %v", zerr.ErrSourceIO, err)
		}
		chunks[i] = buf
		parts[i] = crc32combine.Part{CRC32: crc32.ChecksumIEEE(buf), Len: span.length}
		return nil
	}); err != nil {
		return nil, err
	}

	base.Method = entry.MethodStore
	base.CRC32 = crc32combine.CombineAll(parts)
	base.UncompressedSize = uint64(size)
	base.CompressedSize = uint64(size)
	base.Chunks = chunks
	return &base, nil
}

// compressDeflate fans the payload out across parallel chunk workers,
// each compressing a raw deflate fragment of the shared pooled/dict
// writer, then combines CRCs and applies the downgrade-to-store check.
func (p *Planner) compressDeflate(base entry.Assembled, r io.ReaderAt, size int64, level int) (*entry.Assembled, error) {
	pool := p.deflatePool(level)
	spans := splitChunks(size, p.Config.DeflateChunkSize)
	last := len(spans) - 1

	compressed := make([][]byte, len(spans))
	raw := make([][]byte, len(spans))
	parts := make([]crc32combine.Part, len(spans))

	if err := p.forEachChunk(spans, func(i int, span chunkSpan) error {
		p.Budgets.InFlight.Acquire(span.length)

		buf, err := readChunk(r, span)
		if err != nil {
			return fmt.Errorf("%w: %v", zerr.ErrSourceIO, err)
		}
		raw[i] = buf
		parts[i] = crc32combine.Part{CRC32: crc32.ChecksumIEEE(buf), Len: span.length}

		dict, err := dictFor(r, span)
		if err != nil {
			return fmt.Errorf("%w: %v", zerr.ErrSourceIO, err)
		}

		out, err := pool.CompressChunk(bytes.NewReader(buf), dict, i == last)
		if err != nil {
			return fmt.Errorf("%w: %v", zerr.ErrCompressorError, err)
		}
		compressed[i] = out
		return nil
	}); err != nil {
		return nil, err
	}

	crc := crc32combine.CombineAll(parts)
	var csize int64
	for _, c := range compressed {
		csize += int64(len(c))
	}

	if chooser.ShouldDowngrade(uint64(csize), uint64(size)) {
		base.Method = entry.MethodStore
		base.CRC32 = crc
		base.UncompressedSize = uint64(size)
		base.CompressedSize = uint64(size)
		base.Chunks = raw
		return &base, nil
	}

	base.Method = entry.MethodDeflate
	base.CRC32 = crc
	base.UncompressedSize = uint64(size)
	base.CompressedSize = uint64(csize)
	base.Chunks = compressed
	return &base, nil
}

// compressZstd compresses the whole entry as a single zstd frame on one
// worker -- zstd frames don't support the sync-flush concatenation trick
// DEFLATE uses, so the entry bypasses chunk fan-out entirely (§4.4). The
// whole payload is still read into memory up front, symmetric with the
// DEFLATE path, so a downgrade-to-store decision can reuse the same bytes
// without a second read of the source.
func (p *Planner) compressZstd(base entry.Assembled, r io.ReaderAt, size int64, level int) (*entry.Assembled, error) {
	p.Budgets.Workers.Acquire()
	defer p.Budgets.Workers.Release()
	p.Budgets.InFlight.Acquire(size)

	raw, err := readRange(r, 0, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zerr.ErrSourceIO, err)
	}
	crc := crc32.ChecksumIEEE(raw)

	out, err := compressor.ZstdEntry(bytes.NewReader(raw), level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zerr.ErrCompressorError, err)
	}

	if chooser.ShouldDowngrade(uint64(len(out)), uint64(size)) {
		base.Method = entry.MethodStore
		base.CRC32 = crc
		base.UncompressedSize = uint64(size)
		base.CompressedSize = uint64(size)
		base.Chunks = [][]byte{raw}
		return &base, nil
	}

	base.Method = entry.MethodZstd
	base.CRC32 = crc
	base.UncompressedSize = uint64(size)
	base.CompressedSize = uint64(len(out))
	base.Chunks = [][]byte{out}
	return &base, nil
}

// forEachChunk dispatches one goroutine per chunk, each acquiring a
// worker-pool slot before running fn and releasing it as soon as fn
// returns -- the in-flight byte budget fn acquires internally is released
// later, in bulk, by the entry's Release callback once the Writer has
// flushed the whole assembled entry (see DESIGN.md: the no-data-descriptor
// requirement forces whole-entry assembly before the Writer ever sees an
// entry, so per-chunk release as the spec literally describes it would
// free nothing earlier in practice). The first error from any chunk is
// returned; forEachChunk still waits for every goroutine to finish.
func (p *Planner) forEachChunk(spans []chunkSpan, fn func(i int, span chunkSpan) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(spans))

	for i, span := range spans {
		p.Budgets.Workers.Acquire()
		wg.Add(1)
		go func(i int, span chunkSpan) {
			defer wg.Done()
			defer p.Budgets.Workers.Release()
			errs[i] = fn(i, span)
		}(i, span)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
