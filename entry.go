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

import "io"

// WriteInput describes one entry submitted through Archive.Write. Exactly
// one of FilePath, Blob, Dir, or SymlinkTarget should be set; if more than
// one is set, SymlinkTarget wins, then Dir, then FilePath, then Blob.
type WriteInput struct {
	// ArchivePath is the name the entry gets inside the archive.
	ArchivePath string

	// FilePath is an absolute path to a file on disk.
	FilePath string
	// Blob is an in-memory payload.
	Blob []byte
	// Dir marks this entry as a directory (no payload).
	Dir bool
	// SymlinkTarget, if non-empty, marks this entry as a symlink whose
	// payload is the target path.
	SymlinkTarget string

	// SyntheticMTime overrides the entry's modification time (seconds
	// since the Unix epoch). For FilePath entries with this unset, the
	// file's own mtime is used.
	SyntheticMTime *int64
	// ATime, CTime, when non-nil, are carried in the UNIX extended
	// timestamp extra field alongside mtime (§9 Open Question: allowed,
	// not required).
	ATime, CTime *int64
	// Mode is the UNIX mode (including file-type bits) recorded in the
	// central directory's external attributes.
	Mode uint32
}

// PrecompressedInput describes one entry spliced in from another archive
// without recompression (§4.8). CRC32 is trusted from the caller and
// never recomputed.
type PrecompressedInput struct {
	ArchivePath string
	Method      uint16

	// Source yields the compressed byte range; SourceOffset/CompressedSize
	// select exactly that range (no local-header bytes).
	Source         io.ReaderAt
	SourceOffset   int64
	CompressedSize uint64

	UncompressedSize uint64
	CRC32            uint32

	SyntheticMTime *int64
	ATime, CTime   *int64
	Mode           uint32
}

// SourceArchive is the consumed abstraction (§6.2) over an existing
// archive's entries, for splicing without parsing central directories
// directly. The core never implements this interface itself; it is
// satisfied by an external archive-reading collaborator.
type SourceArchive interface {
	Entries() ([]PrecompressedEntry, error)
}

// PrecompressedEntry is one entry of a SourceArchive (§6.2). OpenRange
// must return exactly CompressedSize() bytes of the stored/compressed
// stream, with no local-header bytes.
type PrecompressedEntry interface {
	Name() string
	Method() uint16
	CRC32() uint32
	CompressedSize() uint64
	UncompressedSize() uint64
	ModTime() int64
	Mode() uint32
	OpenRange() (io.Reader, error)
}
