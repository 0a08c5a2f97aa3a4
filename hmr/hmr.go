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

// Package hmr implements the HMR Strategy Engine (C7): given a compiled
// artifact and the identity of the changed source, classify it into exactly
// one update directive using the fixed precedence order in §4.8.
package hmr

import (
	"regexp"
	"strings"

	"ignite.build/core/sourcefile"
)

// Directive is the sum type emitted by the engine (§3). Exactly one of the
// fields is meaningful, selected by Kind.
type Directive struct {
	Kind DirectiveKind

	ModuleID          string // SelfAccept, Propagate
	AffectedDependents []string // Propagate
	ComponentID       string // ComponentReload
	Reason            string // FullReload
	GlobalName        string // LibraryHotSwap
	NewURL            string // LibraryHotSwap
}

// DirectiveKind discriminates the Directive sum type.
type DirectiveKind string

const (
	KindSelfAccept     DirectiveKind = "self-accept"
	KindPropagate      DirectiveKind = "propagate"
	KindComponentReload DirectiveKind = "component-reload"
	KindFullReload     DirectiveKind = "full-reload"
	KindLibraryHotSwap DirectiveKind = "library-hot-swap"
)

// hotAcceptMarker matches an import.meta.hot.accept(...) call or its
// ecosystem-neutral equivalent (module.hot.accept).
var hotAcceptMarker = regexp.MustCompile(`(?:import\.meta\.hot|module\.hot)\.accept\s*\(`)

// topLevelSideEffectMarkers are statement shapes a shallow structural scan
// treats as proof of a side-effectful top-level statement: bare call
// expressions, top-level await, and direct DOM/global mutation idioms.
var topLevelSideEffectMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*[A-Za-z_$][\w$.]*\s*\(`),               // bare top-level call
	regexp.MustCompile(`(?m)^\s*await\s`),                              // top-level await
	regexp.MustCompile(`(?m)^\s*(?:window|document|globalThis)\s*\.`),  // global mutation
	regexp.MustCompile(`(?m)^\s*if\s*\(`),                              // top-level conditional
	regexp.MustCompile(`(?m)^\s*for\s*\(`),                             // top-level loop
}

// LibraryRoute maps a watched source path to its browser-side global name
// and hot-swap URL, the static map described in §4.8 item 4.
type LibraryRoute struct {
	GlobalName string
	NewURL     string
}

// DependencyLookup resolves a module's dependents, backed by the cache
// package's DependencyGraph.
type DependencyLookup func(moduleID string) []string

// Classify implements the 5-step precedence order of §4.8. `librarySwaps`
// is a static map of library source paths to their LibraryRoute; it is
// checked with exact-path matching before falling through to FullReload.
func Classify(changedPath string, kind sourcefile.Kind, artifactCode string, moduleID string, librarySwaps map[string]LibraryRoute, deps DependencyLookup) Directive {
	// 1. SFC changes always reload the whole component.
	if kind == sourcefile.KindSFC {
		return Directive{Kind: KindComponentReload, ComponentID: moduleID}
	}

	// 2. An explicit hot-accept marker in the artifact wins next.
	if hotAcceptMarker.MatchString(artifactCode) {
		return Directive{Kind: KindSelfAccept, ModuleID: moduleID}
	}

	// 3. Pure top-level declarations propagate to dependents. The engine
	// NEVER emits SelfAccept here — only Propagate — because step 3 proves
	// the *absence* of a hot-accept marker, not its presence; the guarantee
	// in §4.8 concerns SelfAccept specifically, which only step 2 can emit.
	if isPureTopLevel(artifactCode) {
		var dependents []string
		if deps != nil {
			dependents = deps(moduleID)
		}
		return Directive{Kind: KindPropagate, ModuleID: moduleID, AffectedDependents: dependents}
	}

	// 4. Known library paths hot-swap their browser-side global.
	if route, ok := librarySwaps[changedPath]; ok {
		return Directive{Kind: KindLibraryHotSwap, GlobalName: route.GlobalName, NewURL: route.NewURL}
	}

	// 5. Fall back to a full reload.
	return Directive{Kind: KindFullReload, Reason: "indeterminate"}
}

// isPureTopLevel reports whether the module contains only top-level pure
// declarations: no side-effectful top-level statement is detectable by the
// shallow structural scan. This is a conservative, false-positive-averse
// scan: any marker match means "not provably pure", erring toward
// Propagate/FullReload rather than falsely proving purity.
func isPureTopLevel(code string) bool {
	stripped := stripDeclarationBodies(code)
	for _, marker := range topLevelSideEffectMarkers {
		if marker.MatchString(stripped) {
			return false
		}
	}
	return true
}

// stripDeclarationBodies removes the bodies of top-level function/class
// declarations (balanced-brace regions following their signature) so the
// side-effect scan only looks at statements that actually execute at
// module-evaluation time, not code nested inside a function that the
// module merely declares.
func stripDeclarationBodies(code string) string {
	var b strings.Builder
	depth := 0
	inDecl := false
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c == '{' {
			if depth == 0 {
				inDecl = isDeclarationContext(code, i)
			}
			depth++
			if inDecl {
				continue
			}
		}
		if c == '}' {
			depth--
			if depth < 0 {
				depth = 0
			}
			if inDecl && depth == 0 {
				inDecl = false
				continue
			}
			if inDecl {
				continue
			}
		}
		if inDecl && depth > 0 {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

var declKeywords = []string{"function", "class", "=>", ")"}

// isDeclarationContext is a cheap heuristic: a "{" is treated as opening a
// declaration body if one of the declaration keywords appears within the 80
// bytes before it, regardless of statement boundaries.
func isDeclarationContext(code string, bracePos int) bool {
	start := bracePos - 80
	if start < 0 {
		start = 0
	}
	preceding := code[start:bracePos]
	for _, kw := range declKeywords {
		if strings.Contains(preceding, kw) {
			return true
		}
	}
	return false
}
