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

// Package crc32combine implements the standard CRC-32 combine operation
// over GF(2): given crc(A), crc(B), and len(B), it produces crc(A‖B)
// without re-reading either A or B. This is the same technique zlib's
// crc32_combine uses: build the GF(2) matrix that represents "shift the
// CRC state by one zero bit", repeatedly square it to get the operators
// for 2, 4, 8... zero bits, and apply the ones selected by the bits of
// len(B).
package crc32combine

import "hash/crc32"

const gf2Dim = 32

// gf2MatrixTimes multiplies a GF(2) vector by a GF(2) matrix, both
// represented as arrays of uint32 (one row per bit).
func gf2MatrixTimes(mat *[gf2Dim]uint32, vec uint32) uint32 {
	var sum uint32
	i := 0
	for vec != 0 {
		if vec&1 != 0 {
			sum ^= mat[i]
		}
		vec >>= 1
		i++
	}
	return sum
}

// gf2MatrixSquare squares a GF(2) matrix (i.e. composes the transform with
// itself).
func gf2MatrixSquare(square, mat *[gf2Dim]uint32) {
	for n := 0; n < gf2Dim; n++ {
		square[n] = gf2MatrixTimes(mat, mat[n])
	}
}

// Combine returns the CRC-32 (IEEE polynomial) of the concatenation of two
// byte sequences A and B, given crc(A), crc(B), and the length of B in
// bytes. lenB must be >= 0.
func Combine(crcA, crcB uint32, lenB int64) uint32 {
	if lenB == 0 {
		return crcA
	}

	var even, odd [gf2Dim]uint32

	// Put the operator for one zero bit into odd: the IEEE polynomial,
	// reflected, is 0xedb88320.
	const poly = 0xedb88320
	odd[0] = poly
	row := uint32(1)
	for n := 1; n < gf2Dim; n++ {
		odd[n] = row
		row <<= 1
	}

	// Square to get the operator for two zero bits, then four, and so on.
	gf2MatrixSquare(&even, &odd) // even = x^2
	gf2MatrixSquare(&odd, &even) // odd = x^4

	crc1 := crcA
	crc2 := crcB
	length := uint64(lenB)

	// Apply the zero operations to crc1, one for each bit of length.
	for {
		gf2MatrixSquare(&even, &odd) // even = even^2 = x^(2*len)
		if length&1 != 0 {
			crc1 = gf2MatrixTimes(&even, crc1)
		}
		length >>= 1
		if length == 0 {
			break
		}

		gf2MatrixSquare(&odd, &even) // odd = odd^2 = x^(2*len)
		if length&1 != 0 {
			crc1 = gf2MatrixTimes(&odd, crc1)
		}
		length >>= 1
		if length == 0 {
			break
		}
	}

	crc1 ^= crc2
	return crc1
}

// Part is one chunk's CRC-32 and uncompressed length, as produced by a
// chunk compressor worker.
type Part struct {
	CRC32 uint32
	Len   int64
}

// CombineAll folds an ordered list of chunk CRCs into the CRC of their
// concatenation. Folding is left-to-right; per spec this must (and does,
// by associativity of Combine) agree with any balanced-tree parallel fold
// a future implementation might use.
func CombineAll(parts []Part) uint32 {
	var crc uint32
	for _, p := range parts {
		crc = Combine(crc, p.CRC32, p.Len)
	}
	return crc
}

// Of is a convenience wrapper around the standard library's CRC-32 (IEEE
// polynomial), exposed here so callers needing both raw CRC and combine
// only need to import this package.
func Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
