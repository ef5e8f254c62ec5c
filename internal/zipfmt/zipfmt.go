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

// Package zipfmt encodes the on-wire ZIP structures this module produces:
// local file headers, central directory headers, extra fields, the EOCD
// record, and the ZIP64 EOCD record/locator pair. Every function here is a
// pure encoder; none of them hold state or decide policy (that belongs to
// zipwriter and planner). Data descriptors (general purpose flag bit 3) are
// never emitted -- every size and CRC is known before the local header is
// written, so the encoders always take final values.
package zipfmt

import (
	"encoding/binary"
	"time"
)

// Signatures, from APPNOTE.TXT 6.3.x.
const (
	LocalFileHeaderSignature        = 0x04034b50
	CentralDirectoryHeaderSignature = 0x02014b50
	EOCDSignature                   = 0x06054b50
	Zip64EOCDRecordSignature        = 0x06064b50
	Zip64EOCDLocatorSignature       = 0x07064b50
)

const (
	VersionStored = 20
	VersionZip64  = 45

	uint16max = 0xffff
	uint32max = 0xffffffff

	// Zip64ExtraID is the header ID of the ZIP64 extended information extra
	// field.
	Zip64ExtraID = 0x0001
	// UnixTimeExtraID is the header ID of the extended timestamp extra
	// field (PKWARE calls it "Info-ZIP Unix extra field").
	UnixTimeExtraID = 0x5455

	// VersionMadeByUnix encodes UNIX as the host system that produced the
	// archive, in the high byte of the central directory's
	// version-made-by field.
	VersionMadeByUnix = 3 << 8
)

// Local file header, fixed-size portion, not counting name/extra.
const LocalFileHeaderLen = 30

// Central directory header, fixed-size portion, not counting
// name/extra/comment.
const CentralDirectoryHeaderLen = 46

// EOCD, fixed-size portion, not counting comment (which this module never
// emits).
const EOCDLen = 22

// ZIP64 EOCD record, fixed-size portion (no extensible data sector).
const Zip64EOCDRecordLen = 56

// ZIP64 EOCD locator, fixed size.
const Zip64EOCDLocatorLen = 20

type buf []byte

func (b *buf) u16(v uint16) {
	binary.LittleEndian.PutUint16((*b)[:2], v)
	*b = (*b)[2:]
}

func (b *buf) u32(v uint32) {
	binary.LittleEndian.PutUint32((*b)[:4], v)
	*b = (*b)[4:]
}

func (b *buf) u64(v uint64) {
	binary.LittleEndian.PutUint64((*b)[:8], v)
	*b = (*b)[8:]
}

func (b *buf) bytes(v []byte) {
	n := copy(*b, v)
	*b = (*b)[n:]
}

// DOSDateTime converts mtime (seconds since the Unix epoch) into the
// MS-DOS date/time pair used by local and central directory headers. mtime
// is rounded down to an even second (MS-DOS time has 2-second resolution)
// and clamped to the representable range [1980-01-01, 2107-12-31]; out of
// range values clamp to 1980-01-01 00:00:00 per spec.
func DOSDateTime(mtime int64) (date, dtime uint16) {
	t := time.Unix(mtime, 0).UTC()
	if t.Year() < 1980 || t.Year() > 2107 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	sec := t.Second()
	sec -= sec % 2

	dtime = uint16(t.Hour()<<11 | t.Minute()<<5 | sec/2)
	date = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	return date, dtime
}

// NeedsZip64 reports whether any of the three promotable fields requires
// the ZIP64 sentinel. Per spec, ZIP64 is triggered per-field, not
// per-archive.
func NeedsZip64(usize, csize, localHeaderOffset uint64) bool {
	return usize >= uint32max || csize >= uint32max || localHeaderOffset >= uint32max
}

// GPFlagUTF8 reports whether general purpose bit 11 (UTF-8 name) should be
// set: iff the filename contains any byte above 0x7F.
func GPFlagUTF8(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7f {
			return true
		}
	}
	return false
}

// VersionNeeded returns 45 when zip64 is true, 20 otherwise. The Writer
// passes whether the record being encoded itself uses a ZIP64 feature, so
// the value is decided per header, not once for the whole archive.
func VersionNeeded(zip64 bool) uint16 {
	if zip64 {
		return VersionZip64
	}
	return VersionStored
}

// Extra is one (id, data) extra field block, rendered as its own
// header+length+data triplet by EncodeExtras.
type Extra struct {
	ID   uint16
	Data []byte
}

// EncodeExtras concatenates a set of extra field blocks into the byte
// slice that goes in a header's "extra" region.
func EncodeExtras(extras []Extra) []byte {
	n := 0
	for _, e := range extras {
		n += 4 + len(e.Data)
	}
	out := make(buf, n)
	ret := []byte(out)
	for _, e := range extras {
		out.u16(e.ID)
		out.u16(uint16(len(e.Data)))
		out.bytes(e.Data)
	}
	return ret
}

// UnixTimeExtra builds the 0x5455 extended-timestamp extra field carrying
// mtime (always present, full 1-second precision) and, optionally, atime
// and ctime.
func UnixTimeExtra(mtime int64, atime, ctime *int64) Extra {
	flags := byte(0x01)
	n := 1 + 4
	if atime != nil {
		flags |= 0x02
		n += 4
	}
	if ctime != nil {
		flags |= 0x04
		n += 4
	}
	data := make(buf, n)
	out := []byte(data)
	data.bytes([]byte{flags})
	data.u32(uint32(mtime))
	if atime != nil {
		data.u32(uint32(*atime))
	}
	if ctime != nil {
		data.u32(uint32(*ctime))
	}
	return Extra{ID: UnixTimeExtraID, Data: out}
}

// Zip64Fields describes which of the three promotable 32-bit fields need
// their 64-bit counterpart written into the ZIP64 extra. Fields appear, in
// order, only when their corresponding Use* flag is set -- per spec, "only
// fields whose 32-bit slot holds the sentinel 0xFFFFFFFF are present, in
// that order."
type Zip64Fields struct {
	USize, CSize, Offset          uint64
	UseUSize, UseCSize, UseOffset bool
}

// Zip64Extra builds the 0x0001 ZIP64 extended information extra field for
// the subset of fields actually promoted.
func Zip64Extra(f Zip64Fields) Extra {
	n := 0
	if f.UseUSize {
		n += 8
	}
	if f.UseCSize {
		n += 8
	}
	if f.UseOffset {
		n += 8
	}
	data := make(buf, n)
	out := []byte(data)
	if f.UseUSize {
		data.u64(f.USize)
	}
	if f.UseCSize {
		data.u64(f.CSize)
	}
	if f.UseOffset {
		data.u64(f.Offset)
	}
	return Extra{ID: Zip64ExtraID, Data: out}
}

// LocalHeader describes one local file header plus the inline name and
// extra bytes that follow it.
type LocalHeader struct {
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModDate, ModTime uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	Name             string
	Extra            []byte
}

// Encode renders the 30-byte fixed header, the name, and the
// extra field. When CompressedSize or UncompressedSize needs promotion,
// the caller must already have included a ZIP64 extra in Extra and this
// function writes the 0xFFFFFFFF sentinels in their place.
func (h LocalHeader) Encode() []byte {
	csize, usize := uint32(h.CompressedSize), uint32(h.UncompressedSize)
	if h.CompressedSize >= uint32max {
		csize = uint32max
	}
	if h.UncompressedSize >= uint32max {
		usize = uint32max
	}

	out := make(buf, LocalFileHeaderLen+len(h.Name)+len(h.Extra))
	ret := []byte(out)
	out.u32(LocalFileHeaderSignature)
	out.u16(h.VersionNeeded)
	out.u16(h.Flags)
	out.u16(h.Method)
	out.u16(h.ModTime)
	out.u16(h.ModDate)
	out.u32(h.CRC32)
	out.u32(csize)
	out.u32(usize)
	out.u16(uint16(len(h.Name)))
	out.u16(uint16(len(h.Extra)))
	out.bytes([]byte(h.Name))
	out.bytes(h.Extra)
	return ret
}

// CentralDirectoryHeader describes one central directory record.
type CentralDirectoryHeader struct {
	VersionNeeded      uint16
	Flags              uint16
	Method             uint16
	ModDate, ModTime   uint16
	CRC32              uint32
	CompressedSize     uint64
	UncompressedSize   uint64
	LocalHeaderOffset  uint64
	ExternalAttributes uint32
	Name               string
	Extra              []byte
}

// Encode renders the 46-byte fixed header, name, extra, and an empty
// comment. As with the local header, ZIP64 sentinels are substituted for
// fields that need promotion; the caller is responsible for having built
// the matching ZIP64 extra into Extra.
func (h CentralDirectoryHeader) Encode() []byte {
	csize, usize := uint32(h.CompressedSize), uint32(h.UncompressedSize)
	if h.CompressedSize >= uint32max {
		csize = uint32max
	}
	if h.UncompressedSize >= uint32max {
		usize = uint32max
	}
	offset := uint32(h.LocalHeaderOffset)
	if h.LocalHeaderOffset >= uint32max {
		offset = uint32max
	}

	out := make(buf, CentralDirectoryHeaderLen+len(h.Name)+len(h.Extra))
	ret := []byte(out)
	out.u32(CentralDirectoryHeaderSignature)
	out.u16(VersionMadeByUnix | h.VersionNeeded) // creator version; high byte UNIX
	out.u16(h.VersionNeeded)
	out.u16(h.Flags)
	out.u16(h.Method)
	out.u16(h.ModTime)
	out.u16(h.ModDate)
	out.u32(h.CRC32)
	out.u32(csize)
	out.u32(usize)
	out.u16(uint16(len(h.Name)))
	out.u16(uint16(len(h.Extra)))
	out.u16(0) // comment length, always zero
	out.u16(0) // disk number start
	out.u16(0) // internal file attributes
	out.u32(h.ExternalAttributes)
	out.u32(offset)
	out.bytes([]byte(h.Name))
	out.bytes(h.Extra)
	return ret
}

// EOCD describes the end-of-central-directory record.
type EOCD struct {
	Entries         uint64
	Size            uint64
	DirectoryOffset uint64
}

// Encode renders the 22-byte EOCD record with an empty comment. When any
// of Entries/Size/DirectoryOffset is promoted, the ZIP64 sentinel values
// are written and the caller must have already emitted the ZIP64 EOCD
// record and locator immediately before this record.
func (e EOCD) Encode() []byte {
	entries := uint16(e.Entries)
	if e.Entries >= uint16max {
		entries = uint16max
	}
	size := uint32(e.Size)
	if e.Size >= uint32max {
		size = uint32max
	}
	offset := uint32(e.DirectoryOffset)
	if e.DirectoryOffset >= uint32max {
		offset = uint32max
	}

	out := make(buf, EOCDLen)
	ret := []byte(out)
	out.u32(EOCDSignature)
	out.u16(0) // number of this disk
	out.u16(0) // disk with start of central directory
	out.u16(entries)
	out.u16(entries)
	out.u32(size)
	out.u32(offset)
	out.u16(0) // comment length
	return ret
}

// Zip64EOCDRecord describes the ZIP64 end-of-central-directory record.
type Zip64EOCDRecord struct {
	Entries         uint64
	Size            uint64
	DirectoryOffset uint64
}

// Encode renders the fixed 56-byte ZIP64 EOCD record (no extensible data
// sector).
func (r Zip64EOCDRecord) Encode() []byte {
	out := make(buf, Zip64EOCDRecordLen)
	ret := []byte(out)
	out.u32(Zip64EOCDRecordSignature)
	out.u64(Zip64EOCDRecordLen - 12) // size of record, excluding signature+this field
	out.u16(VersionZip64)            // version made by
	out.u16(VersionZip64)            // version needed to extract
	out.u32(0)                       // number of this disk
	out.u32(0)                       // disk with start of central directory
	out.u64(r.Entries)               // entries on this disk
	out.u64(r.Entries)               // entries total
	out.u64(r.Size)
	out.u64(r.DirectoryOffset)
	return ret
}

// Zip64EOCDLocator points at the ZIP64 EOCD record from the very end of
// the file.
func Zip64EOCDLocator(recordOffset uint64) []byte {
	out := make(buf, Zip64EOCDLocatorLen)
	ret := []byte(out)
	out.u32(Zip64EOCDLocatorSignature)
	out.u32(0) // disk with start of the zip64 EOCD record
	out.u64(recordOffset)
	out.u32(1) // total number of disks
	return ret
}
