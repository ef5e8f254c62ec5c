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

// Package zerr defines the engine's error-kind sentinels (spec §7), shared
// by internal/planner and internal/zipwriter, and
// re-exported from the root package so callers can use errors.Is against
// the same values this module's public API documents.
package zerr

import "errors"

var (
	// ErrBadName marks a submission-time rejection: the archive name
	// fails one of the name invariants. The entry is never enqueued.
	ErrBadName = errors.New("fastzip: bad archive name")

	// ErrDuplicateName marks a name collision resolved by the Writer: the
	// first entry with a given name wins, later ones are skipped with a
	// diagnostic.
	ErrDuplicateName = errors.New("fastzip: duplicate archive name")

	// ErrSourceIO marks a read/open failure on an input entry. Per-entry
	// fatal: the entry is omitted from the central directory.
	ErrSourceIO = errors.New("fastzip: source read error")

	// ErrCompressorError marks a worker compression failure. Per-entry
	// fatal.
	ErrCompressorError = errors.New("fastzip: compressor error")

	// ErrOutputIO marks a write failure on the output archive.
	// Archive-fatal: the output file is removed.
	ErrOutputIO = errors.New("fastzip: output write error")

	// ErrInconsistent marks an internal invariant violation (e.g. a chunk
	// count mismatch). Archive-fatal.
	ErrInconsistent = errors.New("fastzip: internal invariant violation")
)
