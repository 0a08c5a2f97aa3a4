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

package diagnostics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStripsFileLocationPrefix(t *testing.T) {
	raw := RawDiagnostic{Message: "src/a.ts:4:10: cannot find name 'foo'", Code: "TS2304"}
	got := Normalize(raw)
	assert.Equal(t, "cannot find name 'foo'", got.Message)
}

func TestNormalizeStripsParenStylePrefix(t *testing.T) {
	raw := RawDiagnostic{Message: "(4,10): cannot find module 'x'", Code: "TS2307"}
	got := Normalize(raw)
	assert.Equal(t, "cannot find module 'x'", got.Message)
}

func TestNormalizeAttachesKnownHint(t *testing.T) {
	got := Normalize(RawDiagnostic{Message: "m", Code: "TS2304"})
	assert.Contains(t, got.Hint, "cannot find name")
}

func TestNormalizeLeavesHintEmptyForUnknownCode(t *testing.T) {
	got := Normalize(RawDiagnostic{Message: "m", Code: "TS9999"})
	assert.Empty(t, got.Hint)
}

func TestNormalizeAllPreservesOrder(t *testing.T) {
	raws := []RawDiagnostic{
		{Message: "first", Code: "TS1005"},
		{Message: "second", Code: "TS2339"},
	}
	got := NormalizeAll(raws)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
}

func TestHasErrorsDetectsErrorSeverity(t *testing.T) {
	assert.True(t, HasErrors([]Diagnostic{{Severity: SeverityWarning}, {Severity: SeverityError}}))
	assert.False(t, HasErrors([]Diagnostic{{Severity: SeverityWarning}}))
}

func TestRenderEmptyBatchIsEmptyString(t *testing.T) {
	assert.Equal(t, "", Render(nil))
}

func TestRenderSummarizesCounts(t *testing.T) {
	diags := []Diagnostic{
		{Severity: SeverityError, File: "a.ts", Message: "bad"},
		{Severity: SeverityWarning, File: "a.ts", Message: "meh"},
	}
	out := Render(diags)
	assert.Contains(t, out, "1 error(s), 1 warning(s)")
}

func TestRenderTruncatesAfterTen(t *testing.T) {
	diags := make([]Diagnostic, 12)
	for i := range diags {
		diags[i] = Diagnostic{Severity: SeverityError, File: "a.ts", Message: "bad"}
	}
	out := Render(diags)
	assert.Contains(t, out, "... and 2 more")
	assert.Equal(t, 10, strings.Count(out, "bad"))
}

func TestRenderIncludesHintLine(t *testing.T) {
	d := Normalize(RawDiagnostic{Message: "x", Code: "TS2304", File: "a.ts"})
	out := Render([]Diagnostic{d})
	assert.Contains(t, out, "hint:")
}
