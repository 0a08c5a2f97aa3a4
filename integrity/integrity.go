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

// Package integrity implements the Integrity Validator (C1): cheap,
// cost-ordered post-condition checks on transformed code, guarding against
// transformations that silently corrupt output.
package integrity

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"ignite.build/core/treesitter"
)

// Check is a bit in the Result.Checks bitmap, one per validator stage, in
// cost order.
type Check uint8

const (
	CheckSize Check = 1 << iota
	CheckStructure
	CheckExports
	CheckSyntax
)

// Result is the outcome of validating one artifact.
type Result struct {
	Valid   bool
	Checks  Check // bits set for checks that were attempted
	Errors  []string
	Metrics Metrics
}

// Metrics records how long validation took, to watch the <5ms budget (§4.9).
type Metrics struct {
	Duration time.Duration
}

// Options configures optional/tunable checks.
type Options struct {
	// StrictStructure enables the structure (balanced-bracket) check. The
	// zero value leaves it off; the pipeline sets it from
	// config.EffectiveOptions.IntegrityStrictStructure, which defaults to true.
	StrictStructure bool
	// InputTrimmedLen is the trimmed length of the *input* to the stage that
	// produced this output, used for the Open Question 2 tiny-module
	// exemption: an output below the size floor is still accepted when its
	// input was similarly tiny.
	InputTrimmedLen int
}

const sizeFloor = 10

// cacheKey identifies one cached validation result by (context, content hash).
type cacheKey struct {
	context string
	hash    string
}

// Validator runs the four checks with LRU-bounded result caching.
type Validator struct {
	mu    sync.Mutex
	order []cacheKey
	cache map[cacheKey]Result
	cap   int
}

// NewValidator constructs a Validator with the default cache bound of 100.
func NewValidator() *Validator {
	return &Validator{cache: make(map[cacheKey]Result), cap: 100}
}

// Validate runs the checks in cost order with short-circuit on failure,
// caching the result by (context, contentHash).
func (v *Validator) Validate(context, contentHash, input, output string, exportsIn []string, opts Options) Result {
	key := cacheKey{context: context, hash: contentHash}

	v.mu.Lock()
	if cached, ok := v.cache[key]; ok {
		// Mark the entry most recently used so eviction drops the least
		// recently used key.
		for i, k := range v.order {
			if k == key {
				v.order = append(append(v.order[:i:i], v.order[i+1:]...), key)
				break
			}
		}
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	start := time.Now()
	result := v.run(input, output, exportsIn, opts)
	result.Metrics.Duration = time.Since(start)

	v.mu.Lock()
	v.store(key, result)
	v.mu.Unlock()

	return result
}

func (v *Validator) store(key cacheKey, result Result) {
	if _, exists := v.cache[key]; !exists {
		v.order = append(v.order, key)
		if len(v.order) > v.cap {
			oldest := v.order[0]
			v.order = v.order[1:]
			delete(v.cache, oldest)
		}
	}
	v.cache[key] = result
}

func (v *Validator) run(input, output string, exportsIn []string, opts Options) Result {
	var errs []string
	var checks Check

	// 1. Size.
	checks |= CheckSize
	trimmed := strings.TrimSpace(output)
	if len(trimmed) < sizeFloor {
		exempt := len(strings.TrimSpace(input)) < sizeFloor || hasAnyExport(output)
		if !exempt {
			errs = append(errs, fmt.Sprintf("output is %d characters, below the %d-character floor", len(trimmed), sizeFloor))
			return Result{Valid: false, Checks: checks, Errors: errs}
		}
	}

	// 2. Structure.
	if opts.StrictStructure {
		checks |= CheckStructure
		if err := checkBalanced(output); err != nil {
			errs = append(errs, err.Error())
			return Result{Valid: false, Checks: checks, Errors: errs}
		}
	}

	// 3. Exports.
	checks |= CheckExports
	exportsOut := detectExports(output)
	if missing := supersetMissing(exportsIn, exportsOut); len(missing) > 0 {
		errs = append(errs, fmt.Sprintf("output is missing exports present in input: %s", strings.Join(missing, ", ")))
		return Result{Valid: false, Checks: checks, Errors: errs}
	}

	// 4. Syntax.
	checks |= CheckSyntax
	if err := checkSyntax(output); err != nil {
		errs = append(errs, err.Error())
		return Result{Valid: false, Checks: checks, Errors: errs}
	}

	return Result{Valid: true, Checks: checks}
}

func hasAnyExport(s string) bool {
	return strings.Contains(s, "export ") || strings.Contains(s, "export{") || strings.Contains(s, "export*")
}

// bracket tracks one open delimiter and its source position for error
// reporting.
type bracket struct {
	ch  byte
	pos int
}

var pairs = map[byte]byte{')': '(', ']': '[', '}': '{'}

// checkBalanced walks the output with a lexer that understands string
// literals, template-interpolation regions, comments, and regex literals,
// so that brackets inside those regions never desynchronize the counters.
func checkBalanced(src string) error {
	var stack []bracket
	var templateDepth []int // bracket-stack depth at each open "${" for each active template
	i := 0
	n := len(src)
	lastSignificant := byte(0) // last non-whitespace token byte, for regex-context heuristic
	resumeTemplate := false    // set when a "}" closes a template interpolation

	for i < n {
		c := src[i]
		if resumeTemplate {
			// The text after an interpolation's closing "}" is still part of
			// the template literal: step back onto the "}" and rescan from
			// there as template text.
			resumeTemplate = false
			c = '`'
			i--
		}
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < n && src[i+1] == '*':
			i += 2
			for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i += 2
			continue
		case c == '\'' || c == '"':
			quote := c
			i++
			for i < n && src[i] != quote {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			i++
			lastSignificant = '"'
			continue
		case c == '`':
			i++
			for i < n {
				if src[i] == '\\' {
					i += 2
					continue
				}
				if src[i] == '`' {
					i++
					break
				}
				if src[i] == '$' && i+1 < n && src[i+1] == '{' {
					// Template interpolation re-enables bracket counting for
					// the inner expression; push a marker so the closing "}"
					// is consumed here rather than treated as a stray.
					stack = append(stack, bracket{ch: '{', pos: i})
					templateDepth = append(templateDepth, len(stack))
					i += 2
					break
				}
				i++
			}
			lastSignificant = '"'
			continue
		case c == '/' && isRegexContext(lastSignificant):
			j := i + 1
			inClass := false
			for j < n {
				if src[j] == '\\' {
					j += 2
					continue
				}
				if src[j] == '[' {
					inClass = true
				} else if src[j] == ']' {
					inClass = false
				} else if src[j] == '/' && !inClass {
					j++
					break
				} else if src[j] == '\n' {
					break // not a regex after all; bail to normal scanning
				}
				j++
			}
			i = j
			lastSignificant = '/'
			continue
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, bracket{ch: c, pos: i})
			lastSignificant = c
			i++
			continue
		case c == ')' || c == ']' || c == '}':
			want := pairs[c]
			if len(stack) == 0 || stack[len(stack)-1].ch != want {
				return fmt.Errorf("unbalanced %q at byte offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
			if len(templateDepth) > 0 && templateDepth[len(templateDepth)-1] == len(stack)+1 {
				templateDepth = templateDepth[:len(templateDepth)-1]
				resumeTemplate = true
			}
			lastSignificant = c
			i++
			continue
		default:
			if !isSpace(c) {
				lastSignificant = c
			}
			i++
			continue
		}
	}

	if len(stack) != 0 {
		return fmt.Errorf("unbalanced %q opened at byte offset %d", stack[len(stack)-1].ch, stack[len(stack)-1].pos)
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// isRegexContext reports whether a "/" following lastSignificant should be
// treated as the start of a regex literal: true after an operator-context
// token (nothing, an operator, or an opening bracket/comma/keyword-like
// terminator), false after an identifier/number/closing-bracket context
// where "/" is division.
func isRegexContext(lastSignificant byte) bool {
	switch lastSignificant {
	case 0, '(', '[', '{', ',', ';', ':', '=', '!', '&', '|', '?', '+', '-', '*', '%', '<', '>', '\n':
		return true
	default:
		return false
	}
}

var exportPatterns = []string{"export default", "export *"}

// detectExports recognizes `export default`, `export { a, b as c }`,
// `export <decl> name`, and `export * from ...`, returning the set of
// exported names (using "default" as the sentinel for a default export and
// "*" for a re-export-all).
func detectExports(src string) []string {
	var names []string
	lines := strings.Split(src, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "export") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "export"))
		switch {
		case strings.HasPrefix(rest, "default"):
			names = append(names, "default")
		case strings.HasPrefix(rest, "*"):
			names = append(names, "*")
		case strings.HasPrefix(rest, "{"):
			close := strings.Index(rest, "}")
			if close < 0 {
				continue
			}
			inner := rest[1:close]
			for _, part := range strings.Split(inner, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if idx := strings.Index(part, " as "); idx >= 0 {
					part = strings.TrimSpace(part[idx+4:])
				}
				names = append(names, part)
			}
		default:
			fields := strings.Fields(rest)
			if len(fields) >= 2 {
				name := fields[1]
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

// supersetMissing returns the names in `in` not present in `out`.
func supersetMissing(in, out []string) []string {
	if len(in) == 0 {
		return nil
	}
	present := make(map[string]bool, len(out))
	for _, n := range out {
		present[n] = true
	}
	if present["*"] {
		return nil
	}
	var missing []string
	for _, n := range in {
		if !present[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// checkSyntax parses the output with the tree-sitter TypeScript grammar in
// module mode and rejects it if the tree contains any ERROR or MISSING node,
// standing in for "parseable by an independent fast parser" (§4.9 item 4).
func checkSyntax(src string) error {
	parser := treesitter.AcquireTypeScript()
	defer treesitter.ReleaseTypeScript(parser)

	tree := parser.Parse([]byte(src), nil)
	if tree == nil {
		return fmt.Errorf("syntax check: parser produced no tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if findErrorNode(root) {
		return fmt.Errorf("syntax check: output is not parseable in module mode")
	}
	return nil
}

func findErrorNode(n *tree_sitter.Node) bool {
	if n.IsError() || n.IsMissing() {
		return true
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		if findErrorNode(n.Child(uint(i))) {
			return true
		}
	}
	return false
}
