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

// Package fastzip builds ZIP archives by compressing entries in parallel
// across a worker pool while a single goroutine serializes them to disk in
// submission order, never emitting a data descriptor.
package fastzip

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fastzip/fastzip/internal/entry"
	"github.com/fastzip/fastzip/internal/planner"
	"github.com/fastzip/fastzip/internal/ratelimit"
	"github.com/fastzip/fastzip/internal/zipwriter"
)

// Archive is an in-progress output archive. Write and WritePrecompressed
// may be called concurrently from multiple goroutines; Close waits for
// every previously-submitted entry to finish before finalizing the
// central directory.
type Archive struct {
	planner *planner.Planner
	writer  *zipwriter.Writer
	budgets *ratelimit.Budgets

	// inFlight tracks Write/WritePrecompressed calls that have not yet
	// finished submitting their future to the Writer, so Close can drain
	// them before closing the Writer's submission channel.
	inFlight sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Open creates path and returns an Archive ready to accept entries. Open
// fails if path already exists (§4.6: the Writer never overwrites or
// appends to an existing file).
func Open(path string, opts Options) (*Archive, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	budgets := ratelimit.New(opts.Threads, opts.OpenFileBudget, opts.ByteBudget)
	cfg := planner.Config{
		DeflateChunkSize: int64(opts.DeflateChunkSize),
		ZstdChunkSize:    int64(opts.ZstdChunkSize),
	}
	p := planner.New(opts.Chooser, budgets, cfg, opts.Tracer)

	w, err := zipwriter.New(path, opts.QueueDepth, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Archive{planner: p, writer: w, budgets: budgets}, nil
}

// Write submits one file, blob, directory, or symlink entry. It returns
// once the entry has been handed to a compression worker, not once it has
// been written to disk -- actual completion is ordered and waited on by
// Close.
func (a *Archive) Write(in WriteInput) error {
	a.inFlight.Add(1)
	defer a.inFlight.Done()

	job := planner.Job{
		Name:  in.ArchivePath,
		ATime: in.ATime,
		CTime: in.CTime,
		Mode:  in.Mode,
	}
	if in.SyntheticMTime != nil {
		job.ModTime = *in.SyntheticMTime
	}

	switch {
	case in.SymlinkTarget != "":
		job.Kind = planner.KindSymlink
		job.SymlinkTarget = in.SymlinkTarget
	case in.Dir:
		job.Kind = planner.KindDir
	case in.FilePath != "":
		job.Kind = planner.KindFile
		job.Path = in.FilePath
		if in.SyntheticMTime == nil {
			fi, err := os.Stat(in.FilePath)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSourceIO, err)
			}
			job.ModTime = fi.ModTime().Unix()
		}
	default:
		job.Kind = planner.KindBlob
		job.Data = in.Blob
	}

	f, err := a.planner.Plan(job)
	if err != nil {
		return err
	}
	return a.writer.Submit(f)
}

// WritePrecompressed submits an entry whose compressed bytes are copied
// verbatim from another archive (§4.8), bypassing the compressor pool.
// CRC32, CompressedSize, and UncompressedSize are trusted from the
// caller and never re-derived from the payload.
func (a *Archive) WritePrecompressed(in PrecompressedInput) error {
	sr := io.NewSectionReader(in.Source, in.SourceOffset, int64(in.CompressedSize))
	return a.submitSplice(in.ArchivePath, in.Method, in.CRC32, in.UncompressedSize,
		in.CompressedSize, in.Mode, in.ATime, in.CTime, in.SyntheticMTime, sr)
}

// SpliceFrom copies every entry of src into the archive verbatim, without
// recompression, reading each entry's compressed range through its own
// OpenRange rather than through WritePrecompressed's io.ReaderAt-based
// entry point (§6.2's interface yields an already-positioned io.Reader,
// not a random-access handle).
func (a *Archive) SpliceFrom(src SourceArchive) error {
	entries, err := src.Entries()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceIO, err)
	}
	for _, e := range entries {
		r, err := e.OpenRange()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceIO, err)
		}
		mtime := e.ModTime()
		if err := a.submitSplice(e.Name(), e.Method(), e.CRC32(), e.UncompressedSize(),
			e.CompressedSize(), e.Mode(), nil, nil, &mtime, r); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) submitSplice(name string, method uint16, crc32 uint32, usize, csize uint64,
	mode uint32, atime, ctime, mtime *int64, r io.Reader) error {
	a.inFlight.Add(1)
	defer a.inFlight.Done()

	job := planner.Job{
		Kind:  planner.KindSplice,
		Name:  name,
		ATime: atime,
		CTime: ctime,
		Mode:  mode,
		Splice: &entry.Splice{
			Reader: r,
			Length: int64(csize),
		},
		SpliceMethod: method,
		SpliceCRC32:  crc32,
		SpliceUSize:  usize,
		SpliceCSize:  csize,
	}
	if mtime != nil {
		job.ModTime = *mtime
	}

	f, err := a.planner.Plan(job)
	if err != nil {
		return err
	}
	return a.writer.Submit(f)
}

// Close waits for every submitted entry to finish compressing, writes the
// central directory and EOCD, and closes the output file. It returns the
// first archive-fatal error encountered, if any; per-entry failures are
// logged and skipped rather than surfaced here.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		drained := make(chan struct{})
		var g errgroup.Group
		g.Go(func() error {
			a.inFlight.Wait()
			close(drained)
			return nil
		})
		g.Go(func() error {
			<-drained
			return a.writer.Close()
		})
		a.closeErr = g.Wait()
	})
	return a.closeErr
}

// Abort stops the Writer, removes the partially-written output file, and
// releases all budgets. Use it when an external error means the archive
// should not be completed.
func (a *Archive) Abort() error {
	return a.writer.Abort()
}
