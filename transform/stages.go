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

// Package transform implements the per-language transformation primitives
// (C5): parse_sfc, transpile_typed_script, rewrite_imports, and minify. Each
// stage has the uniform shape fn(code, filename, options) -> {code,
// declared_imports, error}, grounded on the teacher's esbuild-based
// TransformTypeScript engine.
package transform

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/evanw/esbuild/pkg/api"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"ignite.build/core/config"
	"ignite.build/core/treesitter"
)

// StageResult is the uniform output shape of a transform stage.
type StageResult struct {
	Code            string
	DeclaredImports []string
	Err             error
}

// SyntaxError is returned by transpile_typed_script for any error-category
// diagnostic outside the ignored module-resolution codes.
type SyntaxError struct {
	Messages []string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error: %s", strings.Join(e.Messages, "; "))
}

// SFCParts is the result of splitting an SFC into its sections (§4.2
// parse_sfc).
type SFCParts struct {
	TemplateAST interface{} // opaque tree-sitter tree handle for the template
	ScriptSrc   string
	ScriptLang  string
	StyleBlocks []string
}

// ParseSFC splits an SFC into {template_ast, script_source, script_lang,
// style_blocks}. The script section is located by its outermost <script>
// element; SFCs without one yield a synthetic empty script.
func ParseSFC(source string) (SFCParts, error) {
	parser := treesitter.AcquireHTML()
	defer treesitter.ReleaseHTML(parser)

	tree := parser.Parse([]byte(source), nil)
	if tree == nil {
		return SFCParts{}, fmt.Errorf("parse_sfc: failed to parse document")
	}
	defer tree.Close()

	root := tree.RootNode()
	parts := SFCParts{ScriptLang: "typed-script"}

	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		// tree-sitter-html gives <script> and <style> their own node kinds.
		if k := n.Kind(); k == "element" || k == "script_element" || k == "style_element" {
			tag := elementTagName(n, source)
			switch tag {
			case "script":
				parts.ScriptSrc = elementInnerText(n, source)
				if lang := elementAttr(n, source, "lang"); lang != "" {
					parts.ScriptLang = lang
				}
				return
			case "style":
				parts.StyleBlocks = append(parts.StyleBlocks, elementInnerText(n, source))
				return
			case "template":
				parts.TemplateAST = n
				return
			}
		}
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			walk(n.Child(uint(i)))
		}
	}
	walk(root)

	if parts.ScriptSrc == "" {
		parts.ScriptSrc = ""
	}
	return parts, nil
}

func elementTagName(n *tree_sitter.Node, src string) string {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(uint(i))
		if child.Kind() == "start_tag" || child.Kind() == "self_closing_tag" {
			tagCount := int(child.ChildCount())
			for j := 0; j < tagCount; j++ {
				tagChild := child.Child(uint(j))
				if tagChild.Kind() == "tag_name" {
					return src[tagChild.StartByte():tagChild.EndByte()]
				}
			}
		}
	}
	return ""
}

func elementAttr(n *tree_sitter.Node, src, attrName string) string {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(uint(i))
		if child.Kind() != "start_tag" {
			continue
		}
		attrCount := int(child.ChildCount())
		for j := 0; j < attrCount; j++ {
			attr := child.Child(uint(j))
			if attr.Kind() != "attribute" {
				continue
			}
			text := src[attr.StartByte():attr.EndByte()]
			if strings.HasPrefix(text, attrName+"=") || strings.HasPrefix(text, attrName+" =") {
				parts := strings.SplitN(text, "=", 2)
				if len(parts) == 2 {
					return strings.Trim(strings.TrimSpace(parts[1]), `"'`)
				}
			}
		}
	}
	return ""
}

func elementInnerText(n *tree_sitter.Node, src string) string {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(uint(i))
		if child.Kind() == "text" || child.Kind() == "raw_text" {
			return src[child.StartByte():child.EndByte()]
		}
	}
	return ""
}

// ignoredDiagnosticCodes are module-resolution diagnostics filtered out of
// transpile_typed_script's error set (§4.2).
var ignoredDiagnosticCodes = map[string]bool{
	"module-not-found":      true,
	"source-file-not-found": true,
}

// TranspileTypedScript converts typed-script source to plain script using
// esbuild's single-file transform API with noLib/skipLibCheck/
// isolatedModules forced on via tsconfigRaw (the speed path).
func TranspileTypedScript(code, filename string, opts config.EffectiveOptions) StageResult {
	loader := api.LoaderTS
	if strings.HasSuffix(filename, ".tsx") {
		loader = api.LoaderTSX
	}

	tsconfigRaw := `{
		"compilerOptions": {
			"noLib": true,
			"skipLibCheck": true,
			"isolatedModules": true,
			"importHelpers": false
		}
	}`

	result := api.Transform(code, api.TransformOptions{
		Loader:      loader,
		Target:      targetFor(opts.Target),
		Format:      api.FormatESModule,
		Sourcefile:  filename,
		TsconfigRaw: tsconfigRaw,
	})

	var critical []string
	for _, e := range result.Errors {
		if ignoredDiagnosticCodes[e.Text] {
			continue
		}
		critical = append(critical, fmt.Sprintf("%s:%d:%d %s", filename, e.Location.Line, e.Location.Column, e.Text))
	}
	if len(critical) > 0 {
		return StageResult{Err: &SyntaxError{Messages: critical}}
	}

	return StageResult{Code: string(result.Code), DeclaredImports: extractImports(code)}
}

func targetFor(target string) api.Target {
	switch target {
	case "es2015":
		return api.ES2015
	case "es2017":
		return api.ES2017
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2022":
		return api.ES2022
	case "esnext", "":
		return api.ESNext
	default:
		return api.ESNext
	}
}

// importPattern matches static import/export-from specifiers; dynamic
// import() calls are out of scope for this structural scan.
var importPattern = regexp.MustCompile(`(?:import|export)\s+(?:[\w*{}\s,]+\s+from\s+)?['"]([^'"]+)['"]`)

// extractImports does a lightweight structural scan for import specifiers,
// good enough to report declared_imports alongside the transpiled code (the
// dependency graph itself is maintained by the cache package from these).
func extractImports(code string) []string {
	var specs []string
	for _, m := range importPattern.FindAllStringSubmatch(code, -1) {
		if m[1] != "" {
			specs = append(specs, m[1])
		}
	}
	return specs
}

// RewriteImports rewrites module specifiers per the configured alias map
// (leftmost-longest match, ties by declaration order), maps known-library
// specifiers to production URLs in production mode, and resolves
// extensionless specifiers that exist on disk.
func RewriteImports(code, filename string, opts config.EffectiveOptions, sourceRoot string) StageResult {
	var warnings []string
	rewritten := importPattern.ReplaceAllStringFunc(code, func(match string) string {
		sub := importPattern.FindStringSubmatch(match)
		if len(sub) < 2 || sub[1] == "" {
			return match
		}
		spec := sub[1]
		newSpec := spec

		if opts.Production {
			if url, ok := opts.ProductionLibURLs[spec]; ok {
				newSpec = url
			}
		}
		if newSpec == spec {
			if resolved, ok := resolveAlias(spec, opts.Aliases); ok {
				newSpec = resolved
			}
		}
		if newSpec == spec && isRelativeSpecifier(spec) && filepath.Ext(spec) == "" {
			if resolvedExt, ok := resolveOnDiskExtension(filename, spec); ok {
				newSpec = spec + resolvedExt
			} else {
				warnings = append(warnings, fmt.Sprintf("could not resolve specifier %q from %s", spec, filename))
			}
		}
		return strings.Replace(match, spec, newSpec, 1)
	})

	result := StageResult{Code: rewritten, DeclaredImports: extractImports(rewritten)}
	if len(warnings) > 0 {
		result.Err = &UnresolvedSpecifierWarning{Messages: warnings}
	}
	return result
}

// UnresolvedSpecifierWarning is a non-fatal diagnostic: rewrite_imports
// leaves an unresolvable specifier as-is and reports a warning rather than
// failing the stage.
type UnresolvedSpecifierWarning struct {
	Messages []string
}

func (e *UnresolvedSpecifierWarning) Error() string {
	return strings.Join(e.Messages, "; ")
}

func isRelativeSpecifier(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// resolveAlias finds the leftmost-longest matching alias pattern; ties are
// broken by declaration order (the first match in the config's order wins
// among equal-length patterns).
func resolveAlias(spec string, aliases []config.AliasEntry) (string, bool) {
	bestIdx := -1
	bestLen := -1
	var bestReplacement string
	for i, a := range aliases {
		pattern := config.NormalizeAliasPattern(a.Pattern)
		if !strings.HasPrefix(spec, pattern) {
			continue
		}
		if len(pattern) > bestLen {
			bestLen = len(pattern)
			bestIdx = i
			rest := strings.TrimPrefix(spec, pattern)
			bestReplacement = strings.TrimSuffix(a.Replacement, "/*") + rest
		}
	}
	if bestIdx < 0 {
		return "", false
	}
	return bestReplacement, true
}

// resolveOnDiskExtension checks candidate extensions for an extensionless
// relative specifier against the real filesystem.
func resolveOnDiskExtension(fromFile, spec string) (string, bool) {
	base := filepath.Join(filepath.Dir(fromFile), spec)
	for _, ext := range []string{".js", ".ts", ".tsx", ".mjs"} {
		if _, err := os.Stat(base + ext); err == nil {
			return ext, true
		}
	}
	return "", false
}

// Minify runs esbuild's minifier. Deterministic: same input and options
// always yield byte-identical output.
func Minify(code, filename string) StageResult {
	result := api.Transform(code, api.TransformOptions{
		Loader:            loaderFor(filename),
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Sourcefile:        filename,
		Format:            api.FormatESModule,
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return StageResult{Err: fmt.Errorf("minify: %s", strings.Join(msgs, "; "))}
	}
	return StageResult{Code: string(result.Code)}
}

func loaderFor(filename string) api.Loader {
	switch path.Ext(filename) {
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".ts":
		return api.LoaderTS
	default:
		return api.LoaderJS
	}
}

// MatchesAdditionalWatch reports whether a path matches one of the
// configured additional-watch globs, using doublestar for "**" support
// beyond filepath.Match.
func MatchesAdditionalWatch(relPath string, globs []string) bool {
	sorted := append([]string(nil), globs...)
	sort.Strings(sorted)
	for _, g := range sorted {
		if ok, _ := doublestar.Match(g, relPath); ok {
			return true
		}
	}
	return false
}
