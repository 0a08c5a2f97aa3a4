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

// Package config implements the effective-options resolution (C10): given a
// source file, find its project configuration, merge in language-specific
// technical overlays, and cache the result keyed on (resolved path, mtime).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"ignite.build/core/sourcefile"
)

// ConfigMissing is returned when no project configuration file can be found
// walking upward from the source file's directory. Fatal to the whole
// compilation request.
type ConfigMissing struct {
	StartDir string
}

func (e *ConfigMissing) Error() string {
	return fmt.Sprintf("no project configuration found searching upward from %s", e.StartDir)
}

// ConfigInvalid wraps a parse failure in the project configuration file.
type ConfigInvalid struct {
	Path string
	Err  error
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Path, e.Err)
}

func (e *ConfigInvalid) Unwrap() error { return e.Err }

// AliasEntry is one glob-pattern → substitution rule, in declaration order
// so that rewrite_imports can resolve leftmost-longest-match ties by order.
type AliasEntry struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// ProjectConfig is the on-disk declarative record described in spec §6:
// source root, output root, alias map, additional watch globs, proxy
// passthrough, and the production-library URL map.
type ProjectConfig struct {
	SourceRoot        string            `yaml:"sourceRoot"`
	OutputRoot        string            `yaml:"outputRoot"`
	Aliases           []AliasEntry      `yaml:"aliases"`
	AdditionalWatch   []string          `yaml:"additionalWatch"`
	Proxy             map[string]string `yaml:"proxy"`
	ProductionLibURLs map[string]string `yaml:"productionLibraryUrls"`
	ModuleResolution  string            `yaml:"moduleResolution"`
	Target            string            `yaml:"target"`
	Production        bool              `yaml:"production"`
	TypeCheck         bool              `yaml:"typeCheck"`
	IntegrityStrictStructure *bool      `yaml:"integrityStrictStructure"`
}

// EffectiveOptions is the opaque record of compiler settings that actually
// govern a compilation, produced by Loader.Resolve. Equality is defined by
// Hash(), a stable serialization digest, not by struct comparison (field
// order and map iteration order must not affect equality).
type EffectiveOptions struct {
	Aliases                  []AliasEntry
	ModuleResolution         string
	Target                   string
	Production               bool
	TypeCheck                bool
	JSXMode                  string
	DOMLib                   bool
	IntegrityStrictStructure bool
	ProductionLibURLs        map[string]string
}

// Hash returns a stable digest of the effective options, used as the
// options_hash component of a CacheKey (§3).
func (o EffectiveOptions) Hash() string {
	type wire struct {
		Aliases                  []AliasEntry      `json:"aliases"`
		ModuleResolution         string            `json:"moduleResolution"`
		Target                   string            `json:"target"`
		Production               bool              `json:"production"`
		TypeCheck                bool              `json:"typeCheck"`
		JSXMode                  string            `json:"jsxMode"`
		DOMLib                   bool              `json:"domLib"`
		IntegrityStrictStructure bool              `json:"integrityStrictStructure"`
		ProductionLibURLs        map[string]string `json:"productionLibUrls"`
	}
	w := wire{
		Aliases:                  o.Aliases,
		ModuleResolution:         o.ModuleResolution,
		Target:                   o.Target,
		Production:               o.Production,
		TypeCheck:                o.TypeCheck,
		JSXMode:                  o.JSXMode,
		DOMLib:                   o.DOMLib,
		IntegrityStrictStructure: o.IntegrityStrictStructure,
		ProductionLibURLs:        o.ProductionLibURLs,
	}
	// Sort map keys deterministically via an ordered slice before hashing.
	keys := make([]string, 0, len(w.ProductionLibURLs))
	for k := range w.ProductionLibURLs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, w.ProductionLibURLs[k])
	}
	b, _ := json.Marshal(struct {
		wire
		OrderedLibURLs []string `json:"orderedLibUrls"`
	}{wire: w, OrderedLibURLs: ordered})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

type cacheEntry struct {
	mtime   int64
	config  *ProjectConfig
	rootDir string
}

// Loader resolves EffectiveOptions for source files, caching parsed project
// configuration by (resolved path, mtime) per spec §4.1 / §5: a check-then-
// insert protocol where the mtime check is repeated after acquiring the
// write critical section.
type Loader struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry // keyed by resolved config file path
}

// NewLoader constructs an empty config cache.
func NewLoader() *Loader {
	return &Loader{entries: make(map[string]cacheEntry)}
}

// Resolve returns the EffectiveOptions governing compilation of the file at
// path, searching for a project configuration file first at the project
// root and, failing that, walking upward from the file's directory.
func (l *Loader) Resolve(path string, kind sourcefile.Kind) (EffectiveOptions, error) {
	configPath, err := findConfigFile(filepath.Dir(path))
	if err != nil {
		return EffectiveOptions{}, err
	}

	cfg, err := l.loadCached(configPath)
	if err != nil {
		return EffectiveOptions{}, err
	}

	return buildEffectiveOptions(cfg, kind), nil
}

// loadCached returns the parsed ProjectConfig for configPath, re-parsing
// only when the file's mtime has changed since the last cached parse.
func (l *Loader) loadCached(configPath string) (*ProjectConfig, error) {
	info, err := os.Stat(configPath)
	if err != nil {
		return nil, &ConfigMissing{StartDir: filepath.Dir(configPath)}
	}
	mtime := info.ModTime().UnixNano()

	l.mu.RLock()
	if e, ok := l.entries[configPath]; ok && e.mtime == mtime {
		l.mu.RUnlock()
		return e.config, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Repeat the mtime check after acquiring the write lock: another
	// goroutine may have already refreshed this entry while we waited.
	if e, ok := l.entries[configPath]; ok && e.mtime == mtime {
		return e.config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &ConfigMissing{StartDir: filepath.Dir(configPath)}
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// Never store a partially parsed record: leave any prior entry intact.
		return nil, &ConfigInvalid{Path: configPath, Err: err}
	}

	l.entries[configPath] = cacheEntry{mtime: mtime, config: &cfg, rootDir: filepath.Dir(configPath)}
	return &cfg, nil
}

const configFileName = "ignite.yaml"

// findConfigFile searches for the project configuration first at a
// conventional project root (a directory containing go.mod/package.json as
// a project-boundary marker, with configFileName inside), falling back to
// walking upward from startDir until the filesystem root.
func findConfigFile(startDir string) (string, error) {
	for root := startDir; ; root = filepath.Dir(root) {
		_, modErr := os.Stat(filepath.Join(root, "go.mod"))
		_, pkgErr := os.Stat(filepath.Join(root, "package.json"))
		if modErr == nil || pkgErr == nil {
			for _, candidate := range []string{filepath.Join(root, ".config", configFileName), filepath.Join(root, configFileName)} {
				if _, err := os.Stat(candidate); err == nil {
					return candidate, nil
				}
			}
			break
		}
		if filepath.Dir(root) == root {
			break
		}
	}

	dir := startDir
	for {
		candidate := filepath.Join(dir, ".config", configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		candidate = filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &ConfigMissing{StartDir: startDir}
		}
		dir = parent
	}
}

// buildEffectiveOptions overlays the SFC-specific technical requirements
// (§4.1) that are never user-configurable, without clobbering a value the
// user explicitly set.
func buildEffectiveOptions(cfg *ProjectConfig, kind sourcefile.Kind) EffectiveOptions {
	opts := EffectiveOptions{
		Aliases:                  cfg.Aliases,
		ModuleResolution:         cfg.ModuleResolution,
		Target:                   cfg.Target,
		Production:               cfg.Production,
		TypeCheck:                cfg.TypeCheck,
		ProductionLibURLs:        cfg.ProductionLibURLs,
		IntegrityStrictStructure: true,
	}
	if cfg.IntegrityStrictStructure != nil {
		opts.IntegrityStrictStructure = *cfg.IntegrityStrictStructure
	}

	if kind == sourcefile.KindSFC {
		opts.JSXMode = "preserve-template-compatible"
		if opts.ModuleResolution == "" {
			opts.ModuleResolution = "bundler"
		}
		opts.DOMLib = true
	} else {
		if opts.ModuleResolution == "" {
			opts.ModuleResolution = "bundler"
		}
	}
	return opts
}

// NormalizeAliasPattern trims trailing "/*" for matching purposes while
// keeping the original pattern for leftmost-longest comparisons in
// rewrite_imports.
func NormalizeAliasPattern(pattern string) string {
	return strings.TrimSuffix(pattern, "/*")
}
