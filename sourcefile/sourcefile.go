/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package sourcefile holds the immutable snapshot of one source file as it
// flows through the compilation pipeline (§3 of the design).
package sourcefile

import (
	"encoding/binary"
	"hash/fnv"
	"path/filepath"
)

// Kind classifies a SourceFile by the syntax it carries.
type Kind string

const (
	KindScript      Kind = "script"
	KindTypedScript Kind = "typed-script"
	KindSFC         Kind = "sfc"
	KindAuxiliary   Kind = "auxiliary"
)

// KindFromPath infers a Kind from a file extension. Unknown extensions are
// Auxiliary so that the pipeline can still track them as watch/cache inputs
// without attempting to compile them.
func KindFromPath(path string) Kind {
	switch filepath.Ext(path) {
	case ".ts", ".mts", ".cts":
		return KindTypedScript
	case ".tsx":
		return KindTypedScript
	case ".js", ".mjs", ".cjs", ".jsx":
		return KindScript
	case ".sfc", ".vue":
		return KindSFC
	default:
		return KindAuxiliary
	}
}

// SourceFile is an immutable snapshot of one file's content, scoped to the
// lifetime of a single compilation request (§3: "exists only for the
// duration of one compilation request").
type SourceFile struct {
	Path    string // absolute path
	Kind    Kind
	Content []byte
	hash    uint64
	hashSet bool
}

// New builds a SourceFile snapshot, inferring Kind from the path's extension.
func New(path string, content []byte) *SourceFile {
	return &SourceFile{Path: path, Kind: KindFromPath(path), Content: content}
}

// NewWithKind builds a SourceFile snapshot with an explicit Kind, for callers
// (like SFC script extraction) that already know the synthetic kind.
func NewWithKind(path string, kind Kind, content []byte) *SourceFile {
	return &SourceFile{Path: path, Kind: kind, Content: content}
}

// ContentHash returns an 8-byte content-derived digest, memoized after first
// computation since SourceFile content never changes after construction.
func (f *SourceFile) ContentHash() uint64 {
	if f.hashSet {
		return f.hash
	}
	h := fnv.New64a()
	_, _ = h.Write(f.Content)
	f.hash = h.Sum64()
	f.hashSet = true
	return f.hash
}

// ContentHashHex returns the content hash rendered as a fixed-width hex string,
// suitable for embedding in a CacheKey.
func (f *SourceFile) ContentHashHex() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], f.ContentHash())
	return hexEncode(buf[:])
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
