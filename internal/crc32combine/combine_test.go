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

package crc32combine

import (
	"hash/crc32"
	"testing"
)

func TestCombineMatchesWholeCRC(t *testing.T) {
	cases := []struct {
		name string
		a, b []byte
	}{
		{"empty/empty", nil, nil},
		{"empty/data", nil, []byte("hello")},
		{"data/empty", []byte("hello"), nil},
		{"hello/world", []byte("hello "), []byte("world")},
		{"long", make([]byte, 1<<20), []byte("tail")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			crcA := crc32.ChecksumIEEE(c.a)
			crcB := crc32.ChecksumIEEE(c.b)
			got := Combine(crcA, crcB, int64(len(c.b)))
			want := crc32.ChecksumIEEE(append(append([]byte{}, c.a...), c.b...))
			if got != want {
				t.Errorf("Combine() = %#x, want %#x", got, want)
			}
		})
	}
}

func TestCombineAllFoldsLeftToRight(t *testing.T) {
	chunks := [][]byte{
		[]byte("one "),
		[]byte("two "),
		[]byte("three "),
		[]byte("four"),
	}
	var parts []Part
	var whole []byte
	for _, c := range chunks {
		parts = append(parts, Part{CRC32: crc32.ChecksumIEEE(c), Len: int64(len(c))})
		whole = append(whole, c...)
	}

	got := CombineAll(parts)
	want := crc32.ChecksumIEEE(whole)
	if got != want {
		t.Errorf("CombineAll() = %#x, want %#x", got, want)
	}
}

func TestCombineAssociative(t *testing.T) {
	a, b, c := []byte("abc"), []byte("defgh"), []byte("ij")
	crcA := crc32.ChecksumIEEE(a)
	crcB := crc32.ChecksumIEEE(b)
	crcC := crc32.ChecksumIEEE(c)

	// (A.B).C
	left := Combine(Combine(crcA, crcB, int64(len(b))), crcC, int64(len(c)))
	// A.(B.C)
	bc := crc32.ChecksumIEEE(append(append([]byte{}, b...), c...))
	_ = bc
	right := Combine(crcA, Combine(crcB, crcC, int64(len(c))), int64(len(b)+len(c)))

	want := crc32.ChecksumIEEE(append(append(append([]byte{}, a...), b...), c...))
	if left != want {
		t.Errorf("left fold = %#x, want %#x", left, want)
	}
	if right != want {
		t.Errorf("right fold = %#x, want %#x", right, want)
	}
}
