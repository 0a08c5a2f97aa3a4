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

package sourcefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFromPath(t *testing.T) {
	cases := map[string]Kind{
		"a.ts":    KindTypedScript,
		"a.tsx":   KindTypedScript,
		"a.mts":   KindTypedScript,
		"a.js":    KindScript,
		"a.jsx":   KindScript,
		"a.sfc":   KindSFC,
		"a.vue":   KindSFC,
		"a.json":  KindAuxiliary,
		"a.css":   KindAuxiliary,
		"noext":   KindAuxiliary,
	}
	for path, want := range cases {
		assert.Equal(t, want, KindFromPath(path), path)
	}
}

func TestNewInfersKind(t *testing.T) {
	f := New("/proj/a.ts", []byte("export const x = 1"))
	assert.Equal(t, KindTypedScript, f.Kind)
	assert.Equal(t, "/proj/a.ts", f.Path)
}

func TestNewWithKindOverridesInference(t *testing.T) {
	f := NewWithKind("/proj/virtual.script", KindScript, []byte("x"))
	assert.Equal(t, KindScript, f.Kind)
}

func TestContentHashIsMemoizedAndStable(t *testing.T) {
	f := New("a.ts", []byte("same content"))
	h1 := f.ContentHash()
	h2 := f.ContentHash()
	assert.Equal(t, h1, h2)
}

func TestContentHashDiffersForDifferentContent(t *testing.T) {
	f1 := New("a.ts", []byte("one"))
	f2 := New("a.ts", []byte("two"))
	assert.NotEqual(t, f1.ContentHash(), f2.ContentHash())
}

func TestContentHashHexIsSixteenHexChars(t *testing.T) {
	f := New("a.ts", []byte("x"))
	hex := f.ContentHashHex()
	assert.Len(t, hex, 16)
	for _, c := range hex {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}
