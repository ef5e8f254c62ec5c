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
	"archive/zip"
	"bytes"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fastzip/fastzip/internal/chooser"
)

func openArchive(t *testing.T, ch chooser.Chooser) (*Archive, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.zip")
	a, err := Open(path, Options{Chooser: ch})
	if err != nil {
		t.Fatal(err)
	}
	return a, path
}

func readBack(t *testing.T, path string) *zip.ReadCloser {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("reading produced archive: %v", err)
	}
	return r
}

func TestArchiveWriteBlobRoundTrips(t *testing.T) {
	a, path := openArchive(t, chooser.Chooser{Default: chooser.Store})

	data := []byte("hello, world!")
	if err := a.Write(WriteInput{ArchivePath: "hello.txt", Blob: data, Mode: 0644}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r := readBack(t, path)
	defer r.Close()
	if len(r.File) != 1 {
		t.Fatalf("len(r.File) = %d, want 1", len(r.File))
	}
	f := r.File[0]
	if f.Name != "hello.txt" {
		t.Errorf("Name = %q", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("content = %q, want %q", got, data)
	}
}

func TestArchiveWriteFilePath(t *testing.T) {
	a, path := openArchive(t, chooser.Default())

	src := filepath.Join(t.TempDir(), "src.bin")
	data := bytes.Repeat([]byte("abc123"), 2000)
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Write(WriteInput{ArchivePath: "payload.bin", FilePath: src, Mode: 0644}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r := readBack(t, path)
	defer r.Close()
	rc, err := r.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round-tripped file content mismatch")
	}
}

func TestArchiveDuplicateNameSkipsSecond(t *testing.T) {
	a, path := openArchive(t, chooser.Chooser{Default: chooser.Store})

	if err := a.Write(WriteInput{ArchivePath: "a.txt", Blob: []byte("first")}); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(WriteInput{ArchivePath: "a.txt", Blob: []byte("second")}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r := readBack(t, path)
	defer r.Close()
	if len(r.File) != 1 {
		t.Fatalf("len(r.File) = %d, want 1 (duplicate should be skipped)", len(r.File))
	}
}

func TestArchiveDirectoryAndSymlink(t *testing.T) {
	a, path := openArchive(t, chooser.Chooser{Default: chooser.Store})

	if err := a.Write(WriteInput{ArchivePath: "pkg/", Dir: true, Mode: 0700}); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(WriteInput{ArchivePath: "pkg/link", SymlinkTarget: "../target", Mode: 0700}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r := readBack(t, path)
	defer r.Close()
	if len(r.File) != 2 {
		t.Fatalf("len(r.File) = %d, want 2", len(r.File))
	}
	var sawDir, sawLink bool
	for _, f := range r.File {
		switch f.Name {
		case "pkg/":
			sawDir = true
		case "pkg/link":
			sawLink = true
			rc, err := f.Open()
			if err != nil {
				t.Fatal(err)
			}
			got, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "../target" {
				t.Errorf("symlink payload = %q", got)
			}
		}
	}
	if !sawDir || !sawLink {
		t.Errorf("sawDir=%v sawLink=%v", sawDir, sawLink)
	}
}

func TestArchiveWritePrecompressedSplicesVerbatim(t *testing.T) {
	// Build a tiny source archive with one stored entry, then splice its
	// compressed range into a brand new archive without recompression.
	srcPath := filepath.Join(t.TempDir(), "src.zip")
	srcData := []byte("precompressed payload, copied verbatim")
	func() {
		f, err := os.Create(srcPath)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		zw := zip.NewWriter(f)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: "orig.bin", Method: zip.Store})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(srcData); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	zr, err := zip.OpenReader(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	zf := zr.File[0]

	srcFile, err := os.Open(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	defer srcFile.Close()

	offset, err := zf.DataOffset()
	if err != nil {
		t.Fatal(err)
	}

	a, outPath := openArchive(t, chooser.Chooser{Default: chooser.Store})
	if err := a.WritePrecompressed(PrecompressedInput{
		ArchivePath:      "spliced.bin",
		Method:           zf.Method,
		Source:           srcFile,
		SourceOffset:     offset,
		CompressedSize:   zf.CompressedSize64,
		UncompressedSize: zf.UncompressedSize64,
		CRC32:            zf.CRC32,
		Mode:             0644,
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r := readBack(t, outPath)
	defer r.Close()
	rc, err := r.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, srcData) {
		t.Errorf("spliced content = %q, want %q", got, srcData)
	}
}

// fakeSourceArchive adapts a handful of in-memory byte slices to the
// SourceArchive/PrecompressedEntry interfaces, standing in for a real
// archive reader in tests.
type fakeSourceArchive struct {
	entries []fakeSourceEntry
}

type fakeSourceEntry struct {
	name string
	data []byte
}

func (f *fakeSourceArchive) Entries() ([]PrecompressedEntry, error) {
	out := make([]PrecompressedEntry, len(f.entries))
	for i, e := range f.entries {
		out[i] = fakeEntry{e}
	}
	return out, nil
}

type fakeEntry struct {
	fakeSourceEntry
}

func (e fakeEntry) Name() string             { return e.name }
func (e fakeEntry) Method() uint16           { return 0 }
func (e fakeEntry) CRC32() uint32            { return crc32.ChecksumIEEE(e.data) }
func (e fakeEntry) CompressedSize() uint64   { return uint64(len(e.data)) }
func (e fakeEntry) UncompressedSize() uint64 { return uint64(len(e.data)) }
func (e fakeEntry) ModTime() int64           { return 0 }
func (e fakeEntry) Mode() uint32             { return 0644 }
func (e fakeEntry) OpenRange() (io.Reader, error) {
	return bytes.NewReader(e.data), nil
}

func TestArchiveSpliceFromCopiesEveryEntry(t *testing.T) {
	a, path := openArchive(t, chooser.Chooser{Default: chooser.Store})

	src := &fakeSourceArchive{entries: []fakeSourceEntry{
		{name: "one.bin", data: []byte("first entry")},
		{name: "two.bin", data: []byte("second entry")},
	}}
	if err := a.SpliceFrom(src); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	r := readBack(t, path)
	defer r.Close()
	if len(r.File) != 2 {
		t.Fatalf("len(r.File) = %d, want 2", len(r.File))
	}
	for i, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		want := src.entries[i].data
		if !bytes.Equal(got, want) {
			t.Errorf("entry %d content = %q, want %q", i, got, want)
		}
	}
}

func TestArchiveAbortRemovesOutputFile(t *testing.T) {
	a, path := openArchive(t, chooser.Chooser{Default: chooser.Store})
	if err := a.Write(WriteInput{ArchivePath: "a.txt", Blob: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if err := a.Abort(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("output file still exists after Abort: err=%v", err)
	}
}

func TestWellKnownCRC32(t *testing.T) {
	// "hello" is a canonical fixture; pin the IEEE CRC-32 value the engine
	// relies on (computed here with hash/crc32 directly).
	got := crc32.ChecksumIEEE([]byte("hello"))
	if got != 0x3610a686 {
		t.Errorf("CRC32(%q) = %#x, want 0x3610a686", "hello", got)
	}
}
