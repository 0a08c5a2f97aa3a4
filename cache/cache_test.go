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

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(path, content string) Key {
	return Key{Path: path, Content: content, Options: "o", Env: "e", Dep: "d"}
}

func TestGetPutRoundTrip(t *testing.T) {
	c := New(10)
	k := key("a.ts", "h1")

	_, ok := c.Get(k)
	assert.False(t, ok)

	c.Put(k, []byte("compiled"), nil)
	entry, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "compiled", string(entry.Artifact))
}

func TestKeyChangesWhenContentChanges(t *testing.T) {
	k1 := key("a.ts", "h1")
	k2 := key("a.ts", "h2")
	assert.NotEqual(t, k1.String(), k2.String())
}

func TestKeyDelimiterNotAmbiguous(t *testing.T) {
	k1 := key("a/b", "c")
	k2 := key("a", "b/c")
	// Different logical tuples must not collide even though concatenation
	// without a delimiter would be ambiguous here.
	assert.NotEqual(t, k1.String(), k2.String())
}

func TestEvictionIsLRU(t *testing.T) {
	c := New(2)
	c.Put(key("a.ts", "1"), []byte("a"), nil)
	c.Put(key("b.ts", "1"), []byte("b"), nil)
	// Touch a.ts so it becomes most-recently-used.
	c.Get(key("a.ts", "1"))
	c.Put(key("c.ts", "1"), []byte("c"), nil)

	_, ok := c.Get(key("b.ts", "1"))
	assert.False(t, ok, "b.ts should have been evicted as least-recently-used")

	_, ok = c.Get(key("a.ts", "1"))
	assert.True(t, ok, "a.ts should have survived eviction")
}

func TestInvalidateEvictsAllKeysForPath(t *testing.T) {
	c := New(10)
	c.Put(key("a.ts", "1"), []byte("v1"), nil)
	c.Put(key("a.ts", "2"), []byte("v2"), nil)
	c.Put(key("b.ts", "1"), []byte("v3"), nil)

	removed := c.Invalidate("a.ts")
	assert.Len(t, removed, 2)

	_, ok := c.Get(key("a.ts", "1"))
	assert.False(t, ok)
	_, ok = c.Get(key("b.ts", "1"))
	assert.True(t, ok)
}

func TestInvalidateCascadeFollowsReverseEdges(t *testing.T) {
	c := New(10)
	// a depends on b, b depends on c.
	c.Put(key("a.ts", "1"), []byte("a"), []string{"b.ts"})
	c.Put(key("b.ts", "1"), []byte("b"), []string{"c.ts"})
	c.Put(key("c.ts", "1"), []byte("c"), nil)

	touched := c.InvalidateCascade("c.ts")
	assert.ElementsMatch(t, []string{"c.ts", "b.ts", "a.ts"}, touched)

	for _, p := range []string{"a.ts", "b.ts", "c.ts"} {
		_, ok := c.Get(key(p, "1"))
		assert.False(t, ok, "%s should have been cascaded-evicted", p)
	}
}

func TestInvalidateCascadeTerminatesOnCycle(t *testing.T) {
	c := New(10)
	// a -> b -> c -> a (cycle).
	c.Put(key("a.ts", "1"), []byte("a"), []string{"b.ts"})
	c.Put(key("b.ts", "1"), []byte("b"), []string{"c.ts"})
	c.Put(key("c.ts", "1"), []byte("c"), []string{"a.ts"})

	done := make(chan []string, 1)
	go func() { done <- c.InvalidateCascade("a.ts") }()

	select {
	case touched := <-done:
		assert.ElementsMatch(t, []string{"a.ts", "b.ts", "c.ts"}, touched)
	case <-time.After(2 * time.Second):
		t.Fatal("InvalidateCascade did not terminate on a cyclic graph")
	}
}

func TestClearResetsEverything(t *testing.T) {
	c := New(10)
	c.Put(key("a.ts", "1"), []byte("a"), []string{"b.ts"})
	c.Clear()

	_, ok := c.Get(key("a.ts", "1"))
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, 0, stats.GraphNodes)
}

func TestConcurrentPutGetIsRaceFree(t *testing.T) {
	c := New(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := key(fmt.Sprintf("f%d.ts", i), "1")
			c.Put(k, []byte("x"), nil)
			c.Get(k)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Stats().Entries)
}

func TestHashContentIsDeterministic(t *testing.T) {
	assert.Equal(t, HashContent("a", "b"), HashContent("a", "b"))
	assert.NotEqual(t, HashContent("a", "b"), HashContent("b", "a"))
}

