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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ignite.build/core/sourcefile"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, configFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveMissingConfigReturnsConfigMissing(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader()
	_, err := l.Resolve(filepath.Join(dir, "src", "a.ts"), sourcefile.KindTypedScript)
	require.Error(t, err)
	var missing *ConfigMissing
	assert.ErrorAs(t, err, &missing)
}

func TestResolveInvalidConfigReturnsConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "not: [valid: yaml: at all")
	l := NewLoader()
	_, err := l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.Error(t, err)
	var invalid *ConfigInvalid
	assert.ErrorAs(t, err, &invalid)
}

func TestResolveFailureLeavesCacheConsistent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "sourceRoot: src")
	l := NewLoader()

	_, err := l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.NoError(t, err)

	// Corrupt the file, but keep the same mtime truncation window by
	// forcing a distinct mtime so the cache re-parses.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("broken: [yaml"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	_, err = l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.Error(t, err)

	// The loader must not have stored the partially parsed record: a
	// subsequent valid write must be picked up rather than wedged.
	require.NoError(t, os.WriteFile(path, []byte("sourceRoot: src2"), 0o644))
	later := future.Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	opts, err := l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.NoError(t, err)
	assert.NotNil(t, opts)
}

func TestResolveCachesByMtime(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "target: es2020")
	l := NewLoader()

	opts1, err := l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.NoError(t, err)
	assert.Equal(t, "es2020", opts1.Target)

	// Change on disk without touching mtime: the loader should still
	// return the cached value.
	require.NoError(t, os.WriteFile(path, []byte("target: es2022"), 0o644))
	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	opts2, err := l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.NoError(t, err)
	assert.Equal(t, "es2020", opts2.Target, "unchanged mtime must serve the cached parse")
}

func TestResolveInvalidatesOnChangedMtime(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "target: es2020")
	l := NewLoader()

	_, err := l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.NoError(t, err)

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("target: es2022"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	opts, err := l.Resolve(filepath.Join(dir, "a.ts"), sourcefile.KindTypedScript)
	require.NoError(t, err)
	assert.Equal(t, "es2022", opts.Target)
}

func TestSFCOverlayDoesNotClobberUserSetting(t *testing.T) {
	writeConfig(t, t.TempDir(), "") // unused; directly exercise buildEffectiveOptions
	cfg := &ProjectConfig{ModuleResolution: "node"}
	opts := buildEffectiveOptions(cfg, sourcefile.KindSFC)
	assert.Equal(t, "node", opts.ModuleResolution, "explicit user setting must win over the SFC overlay default")
	assert.True(t, opts.DOMLib)
	assert.Equal(t, "preserve-template-compatible", opts.JSXMode)
}

func TestSFCOverlayFillsUnsetModuleResolution(t *testing.T) {
	cfg := &ProjectConfig{}
	opts := buildEffectiveOptions(cfg, sourcefile.KindSFC)
	assert.Equal(t, "bundler", opts.ModuleResolution)
}

func TestHashIsStableAcrossMapOrdering(t *testing.T) {
	o1 := EffectiveOptions{ProductionLibURLs: map[string]string{"vue": "https://a", "lit": "https://b"}}
	o2 := EffectiveOptions{ProductionLibURLs: map[string]string{"lit": "https://b", "vue": "https://a"}}
	assert.Equal(t, o1.Hash(), o2.Hash())
}

func TestHashChangesWithOptions(t *testing.T) {
	o1 := EffectiveOptions{Target: "es2020"}
	o2 := EffectiveOptions{Target: "es2022"}
	assert.NotEqual(t, o1.Hash(), o2.Hash())
}

func TestNormalizeAliasPattern(t *testing.T) {
	assert.Equal(t, "@", NormalizeAliasPattern("@/*"))
	assert.Equal(t, "@/util", NormalizeAliasPattern("@/util"))
}
