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

package platform

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystemWriteReadRoundTrip(t *testing.T) {
	fs := NewOSFileSystem()
	path := filepath.Join(t.TempDir(), "a.txt")

	require.NoError(t, fs.WriteFile(path, []byte("hello"), 0o644))
	got, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.True(t, fs.Exists(path))

	require.NoError(t, fs.Remove(path))
	assert.False(t, fs.Exists(path))
}

func TestOSFileSystemMkdirAllAndReadDir(t *testing.T) {
	fs := NewOSFileSystem()
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, fs.MkdirAll(nested, 0o755))
	require.NoError(t, fs.WriteFile(filepath.Join(nested, "f.txt"), []byte("x"), 0o644))

	entries, err := fs.ReadDir(nested)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name())
}

func TestRealTimeProviderNowAdvances(t *testing.T) {
	tp := NewRealTimeProvider()
	before := tp.Now()
	tp.Sleep(5 * time.Millisecond)
	after := tp.Now()
	assert.True(t, after.After(before))
}

func TestRealTimeProviderAfterFires(t *testing.T) {
	tp := NewRealTimeProvider()
	select {
	case <-tp.After(5 * time.Millisecond):
	case <-time.After(2 * time.Second):
		t.Fatal("After channel did not fire")
	}
}

func TestFileWatchEventOpStringNames(t *testing.T) {
	assert.Equal(t, "CREATE", Create.String())
	assert.Equal(t, "REMOVE", Remove.String())
	assert.Equal(t, "", WatchOp(0).String())
}
