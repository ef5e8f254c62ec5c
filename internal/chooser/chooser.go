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

// Package chooser implements the pure compression-method policy described
// in the engine's design: given a filename and a sniff of its first bytes,
// decide whether an entry should be stored, deflated, or zstd-compressed.
// Rules are evaluated in order and the first match wins; nothing here
// touches a file or a compressor -- that happens in internal/planner.
package chooser

import (
	"path"
	"strings"
)

// Method identifies which family of compression a Decision selects.
type Method int

const (
	MethodStore Method = iota
	MethodDeflate
	MethodZstd
)

// Decision is the outcome of a Chooser evaluation: a method plus whatever
// parameter that method needs (compression level).
type Decision struct {
	Method Method
	Level  int
}

// Store is returned when an entry should be kept uncompressed.
var Store = Decision{Method: MethodStore}

// Deflate builds a Decision selecting DEFLATE at the given level.
func Deflate(level int) Decision { return Decision{Method: MethodDeflate, Level: level} }

// Zstd builds a Decision selecting zstd at the given level.
func Zstd(level int) Decision { return Decision{Method: MethodZstd, Level: level} }

// Rule is one declarative matcher in a Chooser's rule table. At most one
// of Ext and Glob is consulted (Ext takes precedence when both are set);
// MinSize may be set alone or alongside either of them.
type Rule struct {
	// Ext matches a case-insensitive file extension, including the dot
	// (e.g. ".png"). Empty means this rule doesn't match by extension.
	Ext string
	// Glob matches the archive name with path.Match-style shell globbing.
	Glob string
	// MinSize, when non-zero, matches only if the sniffed/declared size is
	// at least this many bytes. MinSize may be combined with Ext or Glob
	// to require both; a Rule with only MinSize set matches every name at
	// or above the size threshold.
	MinSize int64

	Decision Decision
}

func (r Rule) matches(name string, size int64) bool {
	if r.MinSize > 0 && size < r.MinSize {
		return false
	}
	switch {
	case r.Ext != "":
		return strings.EqualFold(path.Ext(name), r.Ext)
	case r.Glob != "":
		ok, err := path.Match(r.Glob, name)
		return err == nil && ok
	default:
		// A bare MinSize rule matches any name once the size threshold is
		// met.
		return r.MinSize > 0
	}
}

// Chooser holds an ordered rule table plus the default decision used when
// no rule matches.
type Chooser struct {
	Rules   []Rule
	Default Decision
}

// alreadyCompressedExts lists extensions whose contents are typically
// already compressed, so re-deflating them wastes CPU for no size win.
var alreadyCompressedExts = []string{
	".zip", ".jar", ".apk", ".gz", ".bz2", ".xz", ".zst",
	".png", ".jpg", ".jpeg", ".webp", ".mp4", ".mp3", ".ogg",
}

// DefaultLevel is the deflate level the built-in rule table selects.
const DefaultLevel = 6

// deflateThreshold is the size below which the built-in rules store an
// entry outright: deflate's block overhead eats most of the win on tiny
// files and storing keeps them seekable for free.
const deflateThreshold = 5 * 1024

// Default is the built-in rule table at DefaultLevel.
func Default() Chooser {
	return WithLevel(DefaultLevel)
}

// WithLevel is the built-in rule table with the deflate level swapped:
// already-compressed formats are stored, anything at or above
// deflateThreshold deflates, and everything smaller falls through to the
// Store default.
func WithLevel(level int) Chooser {
	var rules []Rule
	for _, ext := range alreadyCompressedExts {
		rules = append(rules, Rule{Ext: ext, Decision: Store})
	}
	rules = append(rules, Rule{MinSize: deflateThreshold, Decision: Deflate(level)})
	return Chooser{
		Rules:   rules,
		Default: Store,
	}
}

// Choose evaluates the rule table against the archive name, the entry's
// full uncompressed size, and a sniff of up to its first 16KiB (sample may
// be shorter than size, or nil). The built-in rule forms (extension, glob,
// minimum-size) never inspect sample; it is threaded through so a caller's
// custom Chooser can add content-sniffing rules without a signature
// change. Evaluation stops at the first matching rule; Default is
// returned if none match. Files with size == 0 always store, regardless
// of any rule, per the "zero-length files always emit Store" edge case.
func (c Chooser) Choose(name string, size int64, sample []byte) Decision {
	if size == 0 {
		return Store
	}
	for _, r := range c.Rules {
		if r.matches(name, size) {
			return r.Decision
		}
	}
	return c.Default
}

// ShouldDowngrade implements the planner's post-compression downgrade
// rule: a compressed entry that did not shrink is re-emitted as stored
// rather than recompressed.
func ShouldDowngrade(compressedSize, uncompressedSize uint64) bool {
	return compressedSize >= uncompressedSize
}
