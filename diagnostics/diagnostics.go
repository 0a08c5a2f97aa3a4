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

// Package diagnostics implements the Error Formatter (C2): it normalizes raw
// compiler output into Diagnostic records, strips redundant location
// prefixes, attaches hints from a fixed table, and renders multi-diagnostic
// output with severity icons and truncation.
package diagnostics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pterm/pterm"
)

// Severity is the severity of one Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Location pinpoints a diagnostic within a file.
type Location struct {
	Line       int
	Column     int
	ByteOffset int
}

// Diagnostic is the normalized record produced by this package, per §3.
type Diagnostic struct {
	File     string
	Message  string
	Severity Severity
	Location Location
	Code     string
	Hint     string
}

// hintTable is the fixed table of code → hint text (§4.10). Codes follow the
// same naming convention the upstream language-service diagnostics use.
var hintTable = map[string]string{
	"TS2304": "cannot find name — check spelling, or that the declaration is imported",
	"TS2307": "cannot find module — verify the alias map or that the file exists on disk",
	"TS2322": "type is not assignable — check the declared type of the target",
	"TS2339": "property does not exist on this type — check for a typo or a missing generic",
	"TS6133": "value is declared but never read — remove it or prefix with an underscore",
	"TS1005": "expected token is missing — check for an unclosed bracket or statement",
}

// locationPrefix matches a leading "file:line:col:" or "(line,col):" style
// prefix that compiler tools commonly prepend to the message text, which is
// redundant once Location is populated as a structured field.
var locationPrefix = regexp.MustCompile(`^(?:[^\s:]+:\d+:\d+:\s*|\(\d+,\d+\):\s*)`)

// RawDiagnostic is the shape a transform/type-check stage emits before
// normalization: message text may still carry a redundant location prefix.
type RawDiagnostic struct {
	File     string
	Message  string
	Severity Severity
	Location Location
	Code     string
}

// Normalize strips redundant location prefixes and attaches a hint from the
// fixed table, producing the final Diagnostic record.
func Normalize(raw RawDiagnostic) Diagnostic {
	msg := locationPrefix.ReplaceAllString(raw.Message, "")
	return Diagnostic{
		File:     raw.File,
		Message:  msg,
		Severity: raw.Severity,
		Location: raw.Location,
		Code:     raw.Code,
		Hint:     hintTable[raw.Code],
	}
}

// NormalizeAll normalizes a batch of raw diagnostics in order.
func NormalizeAll(raws []RawDiagnostic) []Diagnostic {
	out := make([]Diagnostic, len(raws))
	for i, r := range raws {
		out[i] = Normalize(r)
	}
	return out
}

const truncateAfter = 10

func severityIcon(s Severity) string {
	switch s {
	case SeverityError:
		return pterm.Red("✗")
	case SeverityWarning:
		return pterm.Yellow("⚠")
	default:
		return pterm.Blue("ℹ")
	}
}

// Render formats a batch of diagnostics for terminal display: a count
// summary, one line per diagnostic with a severity icon, a hint line when
// present, and a truncation notice after the first 10.
func Render(diags []Diagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	var b strings.Builder
	errs, warns := 0, 0
	for _, d := range diags {
		switch d.Severity {
		case SeverityError:
			errs++
		case SeverityWarning:
			warns++
		}
	}
	fmt.Fprintf(&b, "%d error(s), %d warning(s)\n", errs, warns)

	shown := diags
	truncated := 0
	if len(diags) > truncateAfter {
		shown = diags[:truncateAfter]
		truncated = len(diags) - truncateAfter
	}
	for _, d := range shown {
		fmt.Fprintf(&b, "%s %s:%d:%d %s", severityIcon(d.Severity), d.File, d.Location.Line, d.Location.Column, d.Message)
		if d.Code != "" {
			fmt.Fprintf(&b, " (%s)", d.Code)
		}
		b.WriteByte('\n')
		if d.Hint != "" {
			fmt.Fprintf(&b, "    hint: %s\n", d.Hint)
		}
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "... and %d more\n", truncated)
	}
	return b.String()
}

// HasErrors reports whether any diagnostic in the batch is error-severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
