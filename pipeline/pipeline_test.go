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

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ignite.build/core/cache"
	"ignite.build/core/config"
	"ignite.build/core/hmr"
	"ignite.build/core/workerpool"
)

func newTestProject(t *testing.T) (root, srcDir string) {
	t.Helper()
	root = t.TempDir()
	srcDir = filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignite.yaml"), []byte("sourceRoot: src\noutputRoot: dist\n"), 0o644))
	return root, srcDir
}

func newTestPipeline(t *testing.T, root, srcDir string) *Pipeline {
	t.Helper()
	cfg := config.NewLoader()
	c := cache.New(100)
	pool := workerpool.New(workerpool.ModeIndividual)
	t.Cleanup(pool.Terminate)
	return New(cfg, c, pool, srcDir, filepath.Join(root, "dist"), root)
}

func TestOutputPathForReplacesExtension(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	out := p.OutputPathFor(filepath.Join(srcDir, "components", "a.ts"))
	assert.Equal(t, filepath.Join(root, "dist", "components", "a.js"), out)
}

func TestCompileTypedScriptEndToEnd(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	src := filepath.Join(srcDir, "a.ts")
	require.NoError(t, os.WriteFile(src, []byte("export const add = (a: number, b: number) => a + b;\n"), 0o644))

	result, err := p.Compile(context.Background(), src, false, false)
	require.NoError(t, err)
	assert.Contains(t, result.Artifact.Code, "add")
	assert.NotContains(t, result.Artifact.Code, ": number")
}

func TestCompileCachesSecondCall(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	src := filepath.Join(srcDir, "a.ts")
	require.NoError(t, os.WriteFile(src, []byte("export const x = 1;\n"), 0o644))

	first, err := p.Compile(context.Background(), src, false, false)
	require.NoError(t, err)

	second, err := p.Compile(context.Background(), src, false, false)
	require.NoError(t, err)
	assert.Equal(t, first.Artifact.Code, second.Artifact.Code)
	assert.Equal(t, 1, p.Cache.Stats().Entries)
}

func TestCompileMissingFileYieldsIoError(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	_, err := p.Compile(context.Background(), filepath.Join(srcDir, "nope.ts"), false, false)
	require.Error(t, err)
	var typed *TypedError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "IoError", typed.Kind)
}

func TestCompileMissingConfigPropagatesUnwrapped(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	// Deliberately no ignite.yaml written.
	p := newTestPipeline(t, root, srcDir)

	src := filepath.Join(srcDir, "a.ts")
	require.NoError(t, os.WriteFile(src, []byte("export const x = 1;\n"), 0o644))

	_, err := p.Compile(context.Background(), src, false, false)
	require.Error(t, err)
	var missing *config.ConfigMissing
	assert.ErrorAs(t, err, &missing)
}

func TestCompileSFCProducesComponentReloadDirective(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	src := filepath.Join(srcDir, "widget.sfc")
	sfc := `<template><p>{{ msg }}</p></template>
<script lang="ts">
export let msg = "hi"
</script>
`
	require.NoError(t, os.WriteFile(src, []byte(sfc), 0o644))

	result, err := p.Compile(context.Background(), src, false, false)
	require.NoError(t, err)
	assert.Equal(t, hmr.KindComponentReload, result.HMRAction.Kind)
}

func TestConcurrentCompileOfSamePathCoalescesIntoOneCacheEntry(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	src := filepath.Join(srcDir, "a.ts")
	require.NoError(t, os.WriteFile(src, []byte("export const x = 1;\n"), 0o644))

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Compile(context.Background(), src, false, false)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, p.Cache.Stats().Entries)
}

func TestInvalidateProjectManifestClearsCache(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	src := filepath.Join(srcDir, "a.ts")
	require.NoError(t, os.WriteFile(src, []byte("export const x = 1;\n"), 0o644))
	_, err := p.Compile(context.Background(), src, false, false)
	require.NoError(t, err)

	p.InvalidateProjectManifest()
	assert.Equal(t, 0, p.Cache.Stats().Entries)
}

func TestDetectExportsInInput(t *testing.T) {
	src := "export default foo\nexport const bar = 1\nconst notExported = 2"
	names := detectExportsInInput(src)
	assert.ElementsMatch(t, []string{"default", "bar"}, names)
}

func TestEnvFingerprintIsDeterministicForSameEnv(t *testing.T) {
	assert.Equal(t, EnvFingerprint(), EnvFingerprint())
}

func TestCanonicalVersionNormalizesRangeOperators(t *testing.T) {
	assert.Equal(t, canonicalVersion("^1.2.3"), canonicalVersion("1.2.3"))
	assert.Equal(t, canonicalVersion("~1.2.3"), canonicalVersion("1.2.3"))
	assert.Equal(t, canonicalVersion(">=1.2.3"), canonicalVersion("1.2.3"))
}

func TestCanonicalVersionPassesThroughNonSemver(t *testing.T) {
	assert.Equal(t, "workspace:*", canonicalVersion("workspace:*"))
	assert.Equal(t, "latest", canonicalVersion("latest"))
}

func TestDeclaredDependencyVersionsSortedAndCombined(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, "package.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{
		"dependencies": {"zeta": "^2.0.0", "alpha": "^1.0.0"},
		"devDependencies": {"mid": "~3.0.0"}
	}`), 0o644))

	entries, err := declaredDependencyVersions(manifest)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"alpha@" + canonicalVersion("^1.0.0"),
		"mid@" + canonicalVersion("~3.0.0"),
		"zeta@" + canonicalVersion("^2.0.0"),
	}, entries)
}

// TestDependencyManifestHashChangesOnDeclaredVersionBump guards the §3
// DependencyManifest invariant: a version bump in package.json must
// invalidate the cache key even when node_modules/the lockfile mtime has
// not changed yet (e.g. before install runs).
func TestDependencyManifestHashChangesOnDeclaredVersionBump(t *testing.T) {
	root, srcDir := newTestProject(t)
	p := newTestPipeline(t, root, srcDir)

	manifest := filepath.Join(root, "package.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"dependencies": {"foo": "1.0.0"}}`), 0o644))
	before := p.dependencyManifestHash()

	require.NoError(t, os.WriteFile(manifest, []byte(`{"dependencies": {"foo": "2.0.0"}}`), 0o644))
	after := p.dependencyManifestHash()

	assert.NotEqual(t, before, after)
}
