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

// Package treesitter owns pooled tree-sitter parsers for the grammars this
// module exercises: TypeScript, TSX, HTML, and CSS. Parsers are expensive to
// construct and not safe for concurrent use, so each grammar gets a
// sync.Pool; callers must always return what they acquire.
package treesitter

import (
	"fmt"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsCss "github.com/tree-sitter/tree-sitter-css/bindings/go"
	tsHtml "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

var languages = struct {
	typescript *ts.Language
	tsx        *ts.Language
	html       *ts.Language
	css        *ts.Language
}{
	ts.NewLanguage(tsTypescript.LanguageTypescript()),
	ts.NewLanguage(tsTypescript.LanguageTSX()),
	ts.NewLanguage(tsHtml.Language()),
	ts.NewLanguage(tsCss.Language()),
}

func newPool(lang *ts.Language, name string) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			parser := ts.NewParser()
			if err := parser.SetLanguage(lang); err != nil {
				panic(fmt.Sprintf("failed to set %s language: %v", name, err))
			}
			return parser
		},
	}
}

var (
	typescriptPool = newPool(languages.typescript, "TypeScript")
	tsxPool        = newPool(languages.tsx, "TSX")
	htmlPool       = newPool(languages.html, "HTML")
	cssPool        = newPool(languages.css, "CSS")
)

// AcquireTypeScript returns a pooled TypeScript parser. Always pair with
// ReleaseTypeScript.
func AcquireTypeScript() *ts.Parser { return typescriptPool.Get().(*ts.Parser) }

// ReleaseTypeScript resets and returns a parser to the TypeScript pool.
func ReleaseTypeScript(p *ts.Parser) { p.Reset(); typescriptPool.Put(p) }

// AcquireTSX returns a pooled TSX parser. Always pair with ReleaseTSX.
func AcquireTSX() *ts.Parser { return tsxPool.Get().(*ts.Parser) }

// ReleaseTSX resets and returns a parser to the TSX pool.
func ReleaseTSX(p *ts.Parser) { p.Reset(); tsxPool.Put(p) }

// AcquireHTML returns a pooled HTML parser. Always pair with ReleaseHTML.
func AcquireHTML() *ts.Parser { return htmlPool.Get().(*ts.Parser) }

// ReleaseHTML resets and returns a parser to the HTML pool.
func ReleaseHTML(p *ts.Parser) { p.Reset(); htmlPool.Put(p) }

// AcquireCSS returns a pooled CSS parser. Always pair with ReleaseCSS.
func AcquireCSS() *ts.Parser { return cssPool.Get().(*ts.Parser) }

// ReleaseCSS resets and returns a parser to the CSS pool.
func ReleaseCSS(p *ts.Parser) { p.Reset(); cssPool.Put(p) }

// ForKind returns the appropriate pooled parser for a script-language tag
// as used in SFC <script lang="..."> attributes, defaulting to TypeScript.
func ForKind(lang string) (parser *ts.Parser, release func(*ts.Parser)) {
	switch lang {
	case "tsx", "jsx":
		return AcquireTSX(), ReleaseTSX
	default:
		return AcquireTypeScript(), ReleaseTypeScript
	}
}
