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

package hmr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ignite.build/core/sourcefile"
)

func TestClassifySFCAlwaysComponentReload(t *testing.T) {
	d := Classify("a.sfc", sourcefile.KindSFC, "export const x = 1", "mod:a", nil, nil)
	assert.Equal(t, KindComponentReload, d.Kind)
	assert.Equal(t, "mod:a", d.ComponentID)
}

func TestClassifyHotAcceptMarkerWinsOverLibrarySwap(t *testing.T) {
	code := "import.meta.hot.accept(() => {})"
	swaps := map[string]LibraryRoute{"a.ts": {GlobalName: "Lib", NewURL: "https://x"}}
	d := Classify("a.ts", sourcefile.KindTypedScript, code, "mod:a", swaps, nil)
	assert.Equal(t, KindSelfAccept, d.Kind)
	assert.Equal(t, "mod:a", d.ModuleID)
}

func TestClassifyModuleHotAcceptEquivalent(t *testing.T) {
	code := "module.hot.accept(function(){})"
	d := Classify("a.ts", sourcefile.KindTypedScript, code, "mod:a", nil, nil)
	assert.Equal(t, KindSelfAccept, d.Kind)
}

func TestClassifyPureTopLevelPropagates(t *testing.T) {
	code := "export const x = 1\nexport function f(a) { console.log(a); window.foo(); }"
	deps := func(id string) []string { return []string{"mod:b", "mod:c"} }
	d := Classify("a.ts", sourcefile.KindTypedScript, code, "mod:a", nil, deps)
	assert.Equal(t, KindPropagate, d.Kind)
	assert.ElementsMatch(t, []string{"mod:b", "mod:c"}, d.AffectedDependents)
}

func TestClassifyTopLevelSideEffectFallsThroughToLibrarySwap(t *testing.T) {
	code := "doSomething()\nexport const x = 1"
	swaps := map[string]LibraryRoute{"lib.ts": {GlobalName: "Lib", NewURL: "https://cdn/lib"}}
	d := Classify("lib.ts", sourcefile.KindTypedScript, code, "mod:lib", swaps, nil)
	assert.Equal(t, KindLibraryHotSwap, d.Kind)
	assert.Equal(t, "Lib", d.GlobalName)
	assert.Equal(t, "https://cdn/lib", d.NewURL)
}

func TestClassifyFallsBackToFullReload(t *testing.T) {
	code := "doSomething()\nexport const x = 1"
	d := Classify("unmapped.ts", sourcefile.KindTypedScript, code, "mod:u", nil, nil)
	assert.Equal(t, KindFullReload, d.Kind)
	assert.NotEmpty(t, d.Reason)
}

func TestIsPureTopLevelIgnoresCodeInsideDeclarationBodies(t *testing.T) {
	code := `export function f() {
  if (true) { doStuff(); }
  for (let i = 0; i < 10; i++) { doStuff(); }
}`
	assert.True(t, isPureTopLevel(code))
}

func TestIsPureTopLevelDetectsTopLevelIf(t *testing.T) {
	code := `if (window.FEATURE) { console.log("on") }`
	assert.False(t, isPureTopLevel(code))
}

func TestIsPureTopLevelDetectsTopLevelAwait(t *testing.T) {
	code := `await init()`
	assert.False(t, isPureTopLevel(code))
}

func TestIsPureTopLevelAllowsPlainExports(t *testing.T) {
	code := `export const a = 1
export class Widget {
  render() { return this.a }
}`
	assert.True(t, isPureTopLevel(code))
}
