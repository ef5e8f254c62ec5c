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

// Package zipwriter implements the single-consumer Writer (§4.6): it pulls
// assembled entries in submission order from a bounded ordered queue,
// serializes local file headers and payloads through internal/zipfmt,
// accumulates central-directory records, and on close emits the central
// directory plus (when any field overflows 32 bits) the ZIP64 EOCD record
// and locator. The output file descriptor is owned exclusively by the
// Writer for its whole lifetime; nothing else ever writes to it.
package zipwriter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fastzip/fastzip/internal/entry"
	"github.com/fastzip/fastzip/internal/splice"
	"github.com/fastzip/fastzip/internal/zerr"
	"github.com/fastzip/fastzip/internal/zipfmt"
)

const uint32max = 0xffffffff

// maxEntries is the boundary at which the archive-level entry count forces
// the ZIP64 EOCD record: exactly 0xFFFF entries still fits the ordinary
// EOCD's 16-bit count field (0xFFFF is also its ZIP64 sentinel, but a
// conforming reader disambiguates using the ZIP64 locator's presence), so
// promotion only triggers once the count actually exceeds it.
const maxEntries = 0x10000

// state names the Writer's lifecycle per §4.6's state machine:
// Open -> WritingEntry -> Open -> ... -> Closing -> Closed.
type state int

const (
	stateOpen state = iota
	stateWritingEntry
	stateClosing
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "Open"
	case stateWritingEntry:
		return "WritingEntry"
	case stateClosing:
		return "Closing"
	case stateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var allowedTransitions = map[state][]state{
	stateOpen:         {stateWritingEntry, stateClosing},
	stateWritingEntry: {stateOpen},
	stateClosing:      {stateClosed},
	stateClosed:       {},
}

// cdRecord is the in-memory form of one central directory entry,
// accumulated as the Writer consumes assembled entries (§3 "CD record").
type cdRecord struct {
	name               string
	method             uint16
	modDate, modTime   uint16
	mtime              int64
	atime, ctime       *int64
	crc32              uint32
	csize, usize       uint64
	localHeaderOffset  uint64
	externalAttributes uint32
}

// Writer is the single consumer of assembled entries for one output
// archive.
type Writer struct {
	path string
	f    *os.File

	logger *slog.Logger

	offset int64

	futures chan *entry.Future
	abort   chan struct{}

	// done is closed by the consumer goroutine once the output file is
	// finalized (or removed); err holds the first archive-fatal error and
	// is only read after done. This lets Close and Abort both wait without
	// consuming a one-shot result out from under each other.
	done      chan struct{}
	err       error
	abortOnce sync.Once
	closeOnce sync.Once

	stateMu sync.Mutex
	state   state

	seen      map[string]bool
	cdRecords []cdRecord
}

// New opens path exclusive-create (a pre-existing file is an error, per
// §6.4) and starts the consumer goroutine. queueDepth bounds how many
// submitted-but-not-yet-assembled entries may queue ahead of the Writer;
// matching the teacher's 1000-deep writeOps channel, a non-positive value
// defaults to 1000.
func New(path string, queueDepth int, logger *slog.Logger) (*Writer, error) {
	if queueDepth <= 0 {
		queueDepth = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", zerr.ErrOutputIO, path, err)
	}
	w := &Writer{
		path:    path,
		f:       f,
		logger:  logger,
		futures: make(chan *entry.Future, queueDepth),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
		seen:    make(map[string]bool),
		state:   stateOpen,
	}
	go w.run()
	return w, nil
}

// State reports the Writer's current lifecycle state.
func (w *Writer) State() state {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

func (w *Writer) setState(next state) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	for _, ok := range allowedTransitions[w.state] {
		if ok == next {
			w.state = next
			return
		}
	}
	panic(fmt.Sprintf("zipwriter: invalid transition %s -> %s", w.state, next))
}

// Submit enqueues a planner future for consumption in order. It blocks
// once the queue is full, and returns an error once the archive has been
// aborted.
func (w *Writer) Submit(f *entry.Future) error {
	select {
	case <-w.abort:
		return fmt.Errorf("%w: archive aborted", zerr.ErrOutputIO)
	default:
	}
	select {
	case <-w.abort:
		return fmt.Errorf("%w: archive aborted", zerr.ErrOutputIO)
	case w.futures <- f:
		return nil
	}
}

// Close stops accepting new submissions, waits for the queue to drain,
// writes the central directory and EOCD, and returns the first
// archive-fatal error observed (nil on success).
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.futures) })
	<-w.done
	return w.err
}

// Abort stops the consumer as soon as it next checks for it (entries
// already mid-assembly are not awaited), discards whatever has been
// written, and removes the output file. Abort after a failed Close is
// fine; the file is already gone and Abort returns immediately.
func (w *Writer) Abort() error {
	w.abortOnce.Do(func() { close(w.abort) })
	<-w.done
	return nil
}

func isArchiveFatal(err error) bool {
	return errors.Is(err, zerr.ErrOutputIO) || errors.Is(err, zerr.ErrInconsistent)
}

func (w *Writer) run() {
	var fatal error
	aborted := false

loop:
	for {
		select {
		case <-w.abort:
			aborted = true
			break loop
		default:
		}

		select {
		case <-w.abort:
			aborted = true
			break loop
		case future, ok := <-w.futures:
			if !ok {
				break loop
			}
			w.setState(stateWritingEntry)
			a, err := future.Wait()
			if err != nil {
				if isArchiveFatal(err) {
					fatal = err
					w.setState(stateOpen)
					break loop
				}
				// SourceIO / CompressorError: per-entry fatal, per §7 --
				// omit the entry and keep draining the rest of the
				// archive.
				w.logger.Warn("entry omitted", "error", err)
				w.setState(stateOpen)
				continue
			}
			if werr := w.writeEntry(a); werr != nil {
				if a.Release != nil {
					a.Release()
				}
				fatal = werr
				w.setState(stateOpen)
				break loop
			}
			if a.Release != nil {
				a.Release()
			}
			w.setState(stateOpen)
		}
	}

	if !aborted && fatal == nil {
		if err := w.writeCentralDirectoryAndEOCD(); err != nil {
			fatal = err
		}
	}

	if !aborted && fatal != nil {
		// Entries still queued behind the fatal one finish compressing on
		// their own; their output is discarded but their file-handle and
		// byte budgets must still come back (§5 failure propagation). The
		// channel is closed by the pending Close call.
		go func() {
			for future := range w.futures {
				if a, err := future.Wait(); err == nil && a.Release != nil {
					a.Release()
				}
			}
		}()
	}
	if aborted {
		// Entries already queued at abort time are discarded unwritten, but
		// their budgets and input files are still returned once they finish
		// assembling.
		go func() {
			for len(w.futures) > 0 {
				if a, err := (<-w.futures).Wait(); err == nil && a.Release != nil {
					a.Release()
				}
			}
		}()
	}

	w.setState(stateClosing)
	w.f.Close()
	if aborted || fatal != nil {
		os.Remove(w.path)
	}
	w.setState(stateClosed)
	w.err = fatal
	close(w.done)
}

func (w *Writer) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := w.f.Write(p)
	w.offset += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", zerr.ErrOutputIO, err)
	}
	return nil
}

// writeEntry serializes one assembled entry's local header and payload,
// then appends its central-directory record. Duplicate names are skipped
// without advancing the central directory, per §4.6 step 1.
func (w *Writer) writeEntry(a *entry.Assembled) error {
	if w.seen[a.Name] {
		w.logger.Warn("duplicate name skipped", "name", a.Name, "error", fmt.Errorf("%w: %s", zerr.ErrDuplicateName, a.Name))
		return nil
	}
	w.seen[a.Name] = true

	localOffset := uint64(w.offset)
	modDate, modTime := zipfmt.DOSDateTime(a.ModTime)

	method := a.Method
	if a.IsDir {
		method = entry.MethodStore
	}

	localZip64 := a.UncompressedSize >= uint32max || a.CompressedSize >= uint32max
	extras := buildExtras(localZip64, zipfmt.Zip64Fields{
		USize: a.UncompressedSize, UseUSize: a.UncompressedSize >= uint32max,
		CSize: a.CompressedSize, UseCSize: a.CompressedSize >= uint32max,
	}, a.ModTime, a.ATime, a.CTime)

	lh := zipfmt.LocalHeader{
		VersionNeeded:    zipfmt.VersionNeeded(localZip64),
		Flags:            gpFlags(a.Name),
		Method:           method,
		ModDate:          modDate,
		ModTime:          modTime,
		CRC32:            a.CRC32,
		CompressedSize:   a.CompressedSize,
		UncompressedSize: a.UncompressedSize,
		Name:             a.Name,
		Extra:            extras,
	}
	if err := w.write(lh.Encode()); err != nil {
		return err
	}

	if err := w.writePayload(a); err != nil {
		return err
	}

	w.cdRecords = append(w.cdRecords, cdRecord{
		name:               a.Name,
		method:             method,
		modDate:            modDate,
		modTime:            modTime,
		mtime:              a.ModTime,
		atime:              a.ATime,
		ctime:              a.CTime,
		crc32:              a.CRC32,
		csize:              a.CompressedSize,
		usize:              a.UncompressedSize,
		localHeaderOffset:  localOffset,
		externalAttributes: externalAttributes(a),
	})
	return nil
}

func (w *Writer) writePayload(a *entry.Assembled) error {
	if a.Splice != nil {
		n, err := splice.Copy(w.f, a.Splice.Reader, a.Splice.Length)
		w.offset += n
		if err != nil {
			return fmt.Errorf("%w: %v", zerr.ErrOutputIO, err)
		}
		if n != a.Splice.Length {
			return fmt.Errorf("%w: splice source for %s yielded %d bytes, declared %d",
				zerr.ErrInconsistent, a.Name, n, a.Splice.Length)
		}
		return nil
	}
	for _, chunk := range a.Chunks {
		if err := w.write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// externalAttributes encodes the UNIX mode (including file-type bits) in
// the high 16 bits, and sets the legacy MS-DOS directory bit for
// directories so older extractors that don't look at the UNIX bits still
// recognize them.
func externalAttributes(a *entry.Assembled) uint32 {
	attrs := a.Mode << 16
	if a.IsDir {
		attrs |= 0x10
	}
	return attrs
}

func gpFlags(name string) uint16 {
	var flags uint16
	if zipfmt.GPFlagUTF8(name) {
		flags |= 1 << 11
	}
	return flags
}

func buildExtras(zip64 bool, fields zipfmt.Zip64Fields, mtime int64, atime, ctime *int64) []byte {
	var extras []zipfmt.Extra
	if zip64 {
		extras = append(extras, zipfmt.Zip64Extra(fields))
	}
	extras = append(extras, zipfmt.UnixTimeExtra(mtime, atime, ctime))
	return zipfmt.EncodeExtras(extras)
}

// writeCentralDirectoryAndEOCD runs once, after the queue has drained
// cleanly: it serializes every accumulated CD record in submission order,
// then the EOCD, preceded by the ZIP64 EOCD record and locator if the
// archive as a whole needs them (§4.6 close algorithm).
func (w *Writer) writeCentralDirectoryAndEOCD() error {
	cdStart := uint64(w.offset)

	for _, r := range w.cdRecords {
		recordZip64 := r.usize >= uint32max || r.csize >= uint32max || r.localHeaderOffset >= uint32max
		extras := buildExtras(recordZip64, zipfmt.Zip64Fields{
			USize: r.usize, UseUSize: r.usize >= uint32max,
			CSize: r.csize, UseCSize: r.csize >= uint32max,
			Offset: r.localHeaderOffset, UseOffset: r.localHeaderOffset >= uint32max,
		}, r.mtime, r.atime, r.ctime)

		cd := zipfmt.CentralDirectoryHeader{
			VersionNeeded:      zipfmt.VersionNeeded(recordZip64),
			Method:             r.method,
			ModDate:            r.modDate,
			ModTime:            r.modTime,
			CRC32:              r.crc32,
			CompressedSize:     r.csize,
			UncompressedSize:   r.usize,
			LocalHeaderOffset:  r.localHeaderOffset,
			ExternalAttributes: r.externalAttributes,
			Name:               r.name,
			Extra:              extras,
		}
		if err := w.write(cd.Encode()); err != nil {
			return err
		}
	}

	cdSize := uint64(w.offset) - cdStart
	entries := uint64(len(w.cdRecords))

	archiveZip64 := entries >= maxEntries || cdStart >= uint32max || cdSize >= uint32max
	if archiveZip64 {
		zip64RecordOffset := uint64(w.offset)
		rec := zipfmt.Zip64EOCDRecord{Entries: entries, Size: cdSize, DirectoryOffset: cdStart}
		if err := w.write(rec.Encode()); err != nil {
			return err
		}
		if err := w.write(zipfmt.Zip64EOCDLocator(zip64RecordOffset)); err != nil {
			return err
		}
	}

	eocd := zipfmt.EOCD{Entries: entries, Size: cdSize, DirectoryOffset: cdStart}
	return w.write(eocd.Encode())
}
