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

// Package pipeline implements the Compilation Pipeline (C6): orchestrates
// the per-file stage sequence from §4.2, consults the cache (C8), dispatches
// type-checking to the worker pool (C4), validates the result (C1), and
// decides the HMR directive (C7).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"ignite.build/core/cache"
	"ignite.build/core/config"
	"ignite.build/core/diagnostics"
	"ignite.build/core/hmr"
	"ignite.build/core/integrity"
	"ignite.build/core/sourcefile"
	"ignite.build/core/transform"
	"ignite.build/core/typecheck"
	"ignite.build/core/workerpool"
)

// Artifact is the finished output of one file's compilation.
type Artifact struct {
	OutputPath string
	Code       string
}

// CompileResult is compile()'s public return shape (§4.5).
type CompileResult struct {
	OutputPath  string
	Artifact    Artifact
	HMRAction   hmr.Directive
	Diagnostics []diagnostics.Diagnostic
}

// TypedError wraps the taxonomy in §7 so callers can switch on it without
// string matching.
type TypedError struct {
	Kind string // ParseError, SyntaxError, TypeError, TransformError, IntegrityFailure, IoError
	Err  error
}

func (e *TypedError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Err) }
func (e *TypedError) Unwrap() error { return e.Err }

// EnvFingerprint digests the closed set of environment variables that
// influence compilation (§3, §6): MODE, TYPE_CHECK, TARGET, DEBUG, VERBOSE.
func EnvFingerprint() string {
	vars := []string{"MODE", "TYPE_CHECK", "TARGET", "DEBUG", "VERBOSE"}
	parts := make([]string, 0, len(vars))
	for _, v := range vars {
		parts = append(parts, v+"="+os.Getenv(v))
	}
	return cache.HashContent(parts...)
}

// Pipeline is the public compile/compile_many entry point (C6).
type Pipeline struct {
	Config     *config.Loader
	Cache      *cache.Cache
	Pool       *workerpool.Pool
	Validator  *integrity.Validator
	SourceRoot string
	OutputRoot string
	ProjectRoot string

	LibrarySwaps map[string]hmr.LibraryRoute

	buildLocksMu sync.Mutex
	buildLocks   map[string]*sync.Mutex
}

// New constructs a Pipeline wired to the given collaborators.
func New(cfg *config.Loader, c *cache.Cache, pool *workerpool.Pool, sourceRoot, outputRoot, projectRoot string) *Pipeline {
	return &Pipeline{
		Config:       cfg,
		Cache:        c,
		Pool:         pool,
		Validator:    integrity.NewValidator(),
		SourceRoot:   sourceRoot,
		OutputRoot:   outputRoot,
		ProjectRoot:  projectRoot,
		LibrarySwaps: make(map[string]hmr.LibraryRoute),
		buildLocks:   make(map[string]*sync.Mutex),
	}
}

// OutputPathFor computes the deterministic output path (§6 "Persisted state
// layout"): output_root / relpath(src_root, source).with_ext(target_ext).
func (p *Pipeline) OutputPathFor(sourcePath string) string {
	rel, err := filepath.Rel(p.SourceRoot, sourcePath)
	if err != nil {
		rel = filepath.Base(sourcePath)
	}
	ext := filepath.Ext(rel)
	rel = strings.TrimSuffix(rel, ext) + ".js"
	return filepath.Join(p.OutputRoot, rel)
}

// Compile compiles one file end-to-end, consulting the cache first and
// folding concurrent requests for the same key into a single compilation
// (§4.5, §5 "Per-build locking").
func (p *Pipeline) Compile(ctx context.Context, path string, typeCheck, production bool) (CompileResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return CompileResult{}, &TypedError{Kind: "IoError", Err: err}
	}

	sf := sourcefile.New(path, content)
	opts, err := p.Config.Resolve(path, sf.Kind)
	if err != nil {
		return CompileResult{}, err // ConfigMissing/ConfigInvalid propagate unwrapped
	}
	opts.Production = opts.Production || production
	opts.TypeCheck = opts.TypeCheck || typeCheck

	depManifestHash := p.dependencyManifestHash()
	key := cache.Key{
		Path:    path,
		Content: sf.ContentHashHex(),
		Options: opts.Hash(),
		Env:     EnvFingerprint(),
		Dep:     depManifestHash,
	}

	if entry, ok := p.Cache.Get(key); ok {
		return CompileResult{
			OutputPath: p.OutputPathFor(path),
			Artifact:   Artifact{OutputPath: p.OutputPathFor(path), Code: string(entry.Artifact)},
		}, nil
	}

	lock := p.buildLockFor(key.String())
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the build lock: another goroutine may have
	// just published this key.
	if entry, ok := p.Cache.Get(key); ok {
		return CompileResult{
			OutputPath: p.OutputPathFor(path),
			Artifact:   Artifact{OutputPath: p.OutputPathFor(path), Code: string(entry.Artifact)},
		}, nil
	}

	return p.runPipeline(ctx, sf, opts, key)
}

func (p *Pipeline) buildLockFor(key string) *sync.Mutex {
	p.buildLocksMu.Lock()
	defer p.buildLocksMu.Unlock()
	l, ok := p.buildLocks[key]
	if !ok {
		l = &sync.Mutex{}
		p.buildLocks[key] = l
	}
	return l
}

// runPipeline executes the stage sequence of §4.2. Type-checking, when
// requested, runs as an independent branch off the original typed-script
// source in parallel with the transform branch (§4.2, §9 Open Question 3):
// it is never resequenced after alias rewriting.
func (p *Pipeline) runPipeline(ctx context.Context, sf *sourcefile.SourceFile, opts config.EffectiveOptions, key cache.Key) (CompileResult, error) {
	originalScript := string(sf.Content)
	scriptLang := "typed-script"
	var declaredImports []string

	if sf.Kind == sourcefile.KindSFC {
		parts, err := transform.ParseSFC(string(sf.Content))
		if err != nil {
			return CompileResult{}, &TypedError{Kind: "ParseError", Err: err}
		}
		originalScript = parts.ScriptSrc
		scriptLang = parts.ScriptLang
	}

	var typeCheckResult typecheck.Result
	var typeCheckErr error
	var wg sync.WaitGroup
	if opts.TypeCheck {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Pool.Submit(ctx, p.typeCheckTask(sf.Path, originalScript, sf.Kind == sourcefile.KindSFC, scriptLang))
			if err != nil {
				typeCheckErr = err
				return
			}
			typeCheckResult = res.(typecheck.Result)
		}()
	}

	code := originalScript
	if sf.Kind == sourcefile.KindSFC || sf.Kind == sourcefile.KindTypedScript {
		result := transform.TranspileTypedScript(code, sf.Path, opts)
		if result.Err != nil {
			return CompileResult{}, &TypedError{Kind: "SyntaxError", Err: result.Err}
		}
		code = result.Code
		declaredImports = result.DeclaredImports
	}

	rewriteResult := transform.RewriteImports(code, sf.Path, opts, p.SourceRoot)
	code = rewriteResult.Code
	var warnDiag []diagnostics.Diagnostic
	if rewriteResult.Err != nil {
		warnDiag = append(warnDiag, diagnostics.Diagnostic{
			File: sf.Path, Message: rewriteResult.Err.Error(), Severity: diagnostics.SeverityWarning,
		})
	}

	if opts.Production {
		minified := transform.Minify(code, sf.Path)
		if minified.Err != nil {
			return CompileResult{}, &TypedError{Kind: "TransformError", Err: minified.Err}
		}
		code = minified.Code
	}

	if opts.TypeCheck {
		wg.Wait()
		if typeCheckErr != nil {
			return CompileResult{}, &TypedError{Kind: "TransformError", Err: typeCheckErr}
		}
		if typeCheckResult.HasErrors {
			return CompileResult{}, &TypedError{Kind: "TypeError", Err: fmt.Errorf("type errors in %s", sf.Path)}
		}
		warnDiag = append(warnDiag, typeCheckResult.Diagnostics...)
	}

	exportsIn := detectExportsInInput(originalScript)
	result := p.Validator.Validate(sf.Path, sf.ContentHashHex(), originalScript, code, exportsIn, integrity.Options{
		StrictStructure: opts.IntegrityStrictStructure,
		InputTrimmedLen: len(strings.TrimSpace(originalScript)),
	})
	if !result.Valid {
		// Integrity failure is always fatal: the artifact MUST NOT be
		// cached or written (§4.5, §7).
		return CompileResult{}, &TypedError{Kind: "IntegrityFailure", Err: fmt.Errorf("%s", strings.Join(result.Errors, "; "))}
	}

	p.Cache.Put(key, []byte(code), declaredImports)

	directive := hmr.Classify(sf.Path, sf.Kind, code, sf.Path, p.LibrarySwaps, p.Cache.DependentsOf)

	return CompileResult{
		OutputPath:  p.OutputPathFor(sf.Path),
		Artifact:    Artifact{OutputPath: p.OutputPathFor(sf.Path), Code: code},
		HMRAction:   directive,
		Diagnostics: warnDiag,
	}, nil
}

func (p *Pipeline) typeCheckTask(path, source string, isSFC bool, scriptLang string) workerpool.Task {
	return workerpool.Task{
		File: path,
		Work: func(ctx context.Context) (any, error) {
			return typecheck.Check(ctx, typecheck.Request{FileName: path, Source: source, IsSFC: isSFC, ScriptLang: scriptLang}, p.ProjectRoot), nil
		},
	}
}

func detectExportsInInput(src string) []string {
	var names []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "export default") {
			names = append(names, "default")
		} else if strings.HasPrefix(trimmed, "export ") {
			// fields[0] is "export" and fields[1] the declaration keyword;
			// the declared name follows it.
			fields := strings.Fields(trimmed)
			if len(fields) >= 3 && fields[1] != "{" && fields[1] != "*" {
				name := fields[2]
				if cut := strings.IndexAny(name, "(:=;{<,"); cut >= 0 {
					name = name[:cut]
				}
				if name != "" {
					names = append(names, name)
				}
			}
		}
	}
	return names
}

// dependencyManifestHash incorporates declared dependency versions and
// installed-dependency directory mtimes, so an in-place dependency swap
// with unchanged declared version still invalidates cache entries (§4.6).
func (p *Pipeline) dependencyManifestHash() string {
	lockPath := filepath.Join(p.ProjectRoot, "package-lock.json")
	modulesPath := filepath.Join(p.ProjectRoot, "node_modules")
	manifestPath := filepath.Join(p.ProjectRoot, "package.json")

	var parts []string
	if info, err := os.Stat(lockPath); err == nil {
		parts = append(parts, fmt.Sprintf("lock:%d", info.ModTime().UnixNano()))
	}
	if info, err := os.Stat(modulesPath); err == nil {
		parts = append(parts, fmt.Sprintf("modules:%d", info.ModTime().UnixNano()))
	}
	if versions, err := declaredDependencyVersions(manifestPath); err == nil {
		parts = append(parts, versions...)
	}
	return cache.HashContent(parts...)
}

// declaredDependencyVersions reads the project's package.json and returns a
// sorted "name@canonical-version" entry for every declared dependency and
// devDependency, so the DependencyManifest digest (§3) actually captures
// declared-version changes rather than only installed-tree mtimes: a
// `package.json` version bump with no corresponding lockfile/node_modules
// mtime change (e.g. before install runs) still produces a different
// dependency-manifest component.
func declaredDependencyVersions(manifestPath string) ([]string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}

	entries := make(map[string]string, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name, version := range manifest.Dependencies {
		entries[name] = version
	}
	for name, version := range manifest.DevDependencies {
		entries[name] = version
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name+"@"+canonicalVersion(entries[name]))
	}
	return out, nil
}

// canonicalVersion strips a leading range operator (^, ~, >=, etc.) and runs
// the remaining version through golang.org/x/mod/semver's canonicalizer, so
// that equivalent specifiers (e.g. "^1.2.3" and "1.2.3") hash identically
// while an actual version bump changes the dependency-manifest component of
// the cache key. Specifiers semver can't parse (git URLs, "workspace:*",
// "latest") pass through unchanged — they still distinguish a real change
// since the raw string itself becomes part of the hashed entry.
func canonicalVersion(raw string) string {
	v := strings.TrimLeft(raw, "^~>=< ")
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if semver.IsValid(v) {
		return semver.Canonical(v)
	}
	return raw
}

// InvalidateProjectManifest clears the entire cache, equivalent to
// observing a change to the project's dependency manifest or installed-
// dependency root (§4.6 "Project-manifest watch").
func (p *Pipeline) InvalidateProjectManifest() {
	p.Cache.Clear()
}
