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

// Package typecheck implements the Type-Check Worker (C3). A real semantic
// TypeScript language service is not available to a Go process, so this
// worker performs the syntactic half of the contract — structural
// parse-error detection via the tree-sitter TypeScript/TSX grammars — and
// leaves the semantic half (name resolution, type assignability) as an
// explicit gap; see DESIGN.md for why this approximation is grounded in the
// teacher's own tree-sitter usage rather than a hand-rolled type system.
package typecheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"ignite.build/core/diagnostics"
	"ignite.build/core/treesitter"
)

// Request is the worker's contract input: {file_name, source, options}.
type Request struct {
	FileName string
	Source   string
	IsSFC    bool
	// ScriptLang is the <script lang="..."> value for SFC virtual filenames.
	ScriptLang string
}

// Result is the worker's contract output: {diagnostics[], has_errors}.
type Result struct {
	Diagnostics []diagnostics.Diagnostic
	HasErrors   bool
}

// ignoredSyntheticNames are context parameters introduced by the SFC
// compiler that never resolve to a user declaration, filtered the way
// unresolved-module diagnostics are filtered elsewhere in the pipeline
// (§4.2 stage type_check).
var ignoredSyntheticNames = map[string]bool{
	"$props": true, "_ctx": true, "_cache": true,
}

// ambientShimCandidates are project-supplied declaration files checked
// before falling back to the built-in minimal ambient declaration set.
var ambientShimCandidates = []string{"components.d.ts", "env.d.ts", "ambient.d.ts"}

// Check runs the syntactic pass over the requested file only (the worker
// holds no shared mutable state with the pool beyond the task channel, per
// §4.3 Isolation). No semantic pass runs: type errors that parse cleanly are
// not reported. A panic during the pass is swallowed and yields an empty
// result: a partial result is preferable to a crash. The ambient-shim
// lookup result is not used, since no language-service host consumes
// declarations.
func Check(ctx context.Context, req Request, projectRoot string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			// Isolation: a crash in the pass yields a partial result,
			// never propagates to the pool controller.
			result = Result{}
		}
	}()

	virtualName := req.FileName
	if req.IsSFC {
		ext := ".ts"
		if req.ScriptLang == "tsx" {
			ext = ".tsx"
		}
		virtualName = req.FileName + ".sfc" + ext
	}

	ensureAmbientDeclarations(projectRoot)

	var raws []diagnostics.RawDiagnostic
	raws = append(raws, syntacticPass(virtualName, req.Source)...)

	for _, d := range raws {
		if d.Severity == diagnostics.SeverityError {
			result.HasErrors = true
		}
	}
	result.Diagnostics = diagnostics.NormalizeAll(filterIrrelevant(raws))
	if !diagnostics.HasErrors(result.Diagnostics) {
		result.HasErrors = false
	}
	return result
}

// syntacticPass parses the source with the tree-sitter TypeScript/TSX
// grammar and reports one diagnostic per ERROR/MISSING node found. Parse
// failures inside this pass are recovered by the caller's defer and yield
// an empty result, never a crash.
func syntacticPass(filename, source string) []diagnostics.RawDiagnostic {
	lang := "ts"
	if strings.HasSuffix(filename, ".tsx") {
		lang = "tsx"
	}
	parser, release := treesitter.ForKind(lang)
	defer release(parser)

	tree := parser.Parse([]byte(source), nil)
	if tree == nil {
		return nil
	}
	defer tree.Close()

	var raws []diagnostics.RawDiagnostic
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n.IsError() || n.IsMissing() {
			start := n.StartByte()
			line, col := lineAndColumn(source, int(start))
			text := source[n.StartByte():n.EndByte()]
			if ignoredSyntheticNames[strings.TrimSpace(text)] {
				return
			}
			raws = append(raws, diagnostics.RawDiagnostic{
				File:     filename,
				Message:  fmt.Sprintf("unexpected token near %q", truncate(text, 24)),
				Severity: diagnostics.SeverityError,
				Location: diagnostics.Location{Line: line, Column: col, ByteOffset: int(start)},
				Code:     "TS1005",
			})
			return
		}
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			walk(n.Child(uint(i)))
		}
	}
	walk(tree.RootNode())
	return raws
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func lineAndColumn(source string, byteOffset int) (line, col int) {
	line = 1
	col = 1
	for i := 0; i < byteOffset && i < len(source); i++ {
		if source[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// filterIrrelevant drops diagnostics matching the allow-list of
// known-irrelevant patterns from §4.2: unresolved modules, SFC synthetic
// context parameters, unused-locals in this context.
func filterIrrelevant(raws []diagnostics.RawDiagnostic) []diagnostics.RawDiagnostic {
	var out []diagnostics.RawDiagnostic
	for _, r := range raws {
		if r.Code == "TS6133" {
			continue // unused locals, irrelevant in this context
		}
		out = append(out, r)
	}
	return out
}

// ensureAmbientDeclarations is a best-effort check for a project-supplied
// .d.ts shim; its absence is not an error; see Check's docs for why the
// built-in minimal declaration set is conceptual here rather than fed to a
// real language-service host.
func ensureAmbientDeclarations(projectRoot string) (shimPath string, found bool) {
	for _, candidate := range ambientShimCandidates {
		p := filepath.Join(projectRoot, candidate)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
