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

package planner

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fastzip/fastzip/internal/chooser"
	"github.com/fastzip/fastzip/internal/entry"
	"github.com/fastzip/fastzip/internal/ratelimit"
	"github.com/fastzip/fastzip/internal/zerr"
)

func newPlanner(t *testing.T, ch chooser.Chooser) *Planner {
	t.Helper()
	budgets := ratelimit.New(4, 4, 0)
	cfg := Config{DeflateChunkSize: 64 * 1024, ZstdChunkSize: 256 * 1024}
	return New(ch, budgets, cfg, nil)
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func wait(t *testing.T, f *entry.Future) *entry.Assembled {
	t.Helper()
	a, err := f.Wait()
	if err != nil {
		t.Fatalf("future resolved with error: %v", err)
	}
	return a
}

func TestPlanZeroLengthAlwaysStores(t *testing.T) {
	p := newPlanner(t, chooser.Default())
	path := writeTempFile(t, nil)

	f, err := p.Plan(Job{Kind: KindFile, Name: "empty.bin", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	defer a.Release()

	if a.Method != entry.MethodStore || a.CRC32 != 0 || a.UncompressedSize != 0 || a.CompressedSize != 0 {
		t.Errorf("zero length entry = %+v, want Store/0/0/0", a)
	}
}

func TestPlanBlobStoreCRCMatchesWholePayload(t *testing.T) {
	data := []byte("hello, world! this is stored verbatim.")
	ch := chooser.Chooser{Default: chooser.Store}
	p := newPlanner(t, ch)

	f, err := p.Plan(Job{Kind: KindBlob, Name: "blob.txt", Data: data})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	defer a.Release()

	want := crcOf(data)
	if a.CRC32 != want {
		t.Errorf("CRC32 = %#x, want %#x", a.CRC32, want)
	}
	if a.Method != entry.MethodStore || a.CompressedSize != uint64(len(data)) {
		t.Errorf("a = %+v", a)
	}
	var got []byte
	for _, c := range a.Chunks {
		got = append(got, c...)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("chunks concatenated = %q, want %q", got, data)
	}
}

func TestPlanDeflateRoundTripsAcrossChunkBoundary(t *testing.T) {
	data := make([]byte, 3*64*1024+1000)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	// Keep only the low nibble of each random byte: the payload stays
	// unpredictable but compresses to roughly half, so the downgrade-to-store
	// rule does not apply (fully random bytes always downgrade).
	for i := range data {
		data[i] &= 0x0f
	}
	ch := chooser.Chooser{Default: chooser.Deflate(6)}
	p := newPlanner(t, ch)
	path := writeTempFile(t, data)

	f, err := p.Plan(Job{Kind: KindFile, Name: "big.bin", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	defer a.Release()

	if a.Method != entry.MethodDeflate {
		t.Fatalf("method = %v, want Deflate (4-bit-entropy data compresses, so no downgrade)", a.Method)
	}
	if a.CRC32 != crcOf(data) {
		t.Errorf("CRC32 mismatch: got %#x want %#x", a.CRC32, crcOf(data))
	}

	var concatenated []byte
	for _, c := range a.Chunks {
		concatenated = append(concatenated, c...)
	}
	fr := flate.NewReader(bytes.NewReader(concatenated))
	defer fr.Close()
	got, err := io.ReadAll(fr)
	if err != nil {
		t.Fatalf("decompress concatenated chunks: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round-tripped bytes differ from source")
	}
}

func TestPlanDeflateDowngradesIncompressibleData(t *testing.T) {
	data := make([]byte, 8192)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	ch := chooser.Chooser{Default: chooser.Deflate(9)}
	p := newPlanner(t, ch)
	path := writeTempFile(t, data)

	f, err := p.Plan(Job{Kind: KindFile, Name: "rand.bin", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	defer a.Release()

	if a.Method != entry.MethodStore {
		t.Fatalf("random incompressible data should downgrade to Store, got %v (csize may have beaten usize by luck)", a.Method)
	}
	if a.CompressedSize != a.UncompressedSize {
		t.Errorf("downgraded entry: csize %d != usize %d", a.CompressedSize, a.UncompressedSize)
	}
}

func TestPlanZstdSingleFrame(t *testing.T) {
	data := bytes.Repeat([]byte("compress me please "), 5000)
	ch := chooser.Chooser{Default: chooser.Zstd(3)}
	p := newPlanner(t, ch)

	f, err := p.Plan(Job{Kind: KindBlob, Name: "z.bin", Data: data})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	defer a.Release()

	if a.Method != entry.MethodZstd {
		t.Fatalf("method = %v, want Zstd", a.Method)
	}
	if len(a.Chunks) != 1 {
		t.Fatalf("zstd entry should produce exactly one frame, got %d chunks", len(a.Chunks))
	}
	if a.CRC32 != crcOf(data) {
		t.Errorf("CRC32 mismatch")
	}
}

func TestPlanDirectory(t *testing.T) {
	p := newPlanner(t, chooser.Default())
	f, err := p.Plan(Job{Kind: KindDir, Name: "pkg/"})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	if !a.IsDir || a.UncompressedSize != 0 {
		t.Errorf("directory entry = %+v", a)
	}
}

func TestPlanSymlink(t *testing.T) {
	p := newPlanner(t, chooser.Default())
	f, err := p.Plan(Job{Kind: KindSymlink, Name: "link", SymlinkTarget: "target/path"})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	if a.SymlinkTarget != "target/path" || a.Method != entry.MethodStore {
		t.Errorf("symlink entry = %+v", a)
	}
	if a.CRC32 != crcOf([]byte("target/path")) {
		t.Errorf("symlink CRC32 mismatch")
	}
}

func TestPlanSplicePassesThroughTrustedFields(t *testing.T) {
	p := newPlanner(t, chooser.Default())
	src := bytes.NewReader([]byte("precompressed-bytes"))
	f, err := p.Plan(Job{
		Kind:         KindSplice,
		Name:         "spliced.bin",
		Splice:       &entry.Splice{Reader: src, Length: int64(src.Len())},
		SpliceMethod: entry.MethodDeflate,
		SpliceCRC32:  0xdeadbeef,
		SpliceUSize:  100,
		SpliceCSize:  42,
	})
	if err != nil {
		t.Fatal(err)
	}
	a := wait(t, f)
	if a.Splice == nil {
		t.Fatal("expected Splice to be set")
	}
	if a.CRC32 != 0xdeadbeef || a.CompressedSize != 42 || a.UncompressedSize != 100 {
		t.Errorf("splice entry did not pass trusted fields through unchanged: %+v", a)
	}
	if len(a.Chunks) != 0 {
		t.Errorf("splice entry should carry no chunk payload, got %d chunks", len(a.Chunks))
	}
}

func TestPlanRejectsBadName(t *testing.T) {
	p := newPlanner(t, chooser.Default())
	cases := []string{"", " leading", "trailing ", "a\x00b", "has\\backslash", "../escape"}
	for _, name := range cases {
		if _, err := p.Plan(Job{Kind: KindBlob, Name: name, Data: []byte("x")}); err == nil {
			t.Errorf("Plan(%q) = nil error, want ErrBadName", name)
		} else if !errors.Is(err, zerr.ErrBadName) {
			t.Errorf("Plan(%q) error = %v, want wrapping ErrBadName", name, err)
		}
	}
}

func crcOf(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
