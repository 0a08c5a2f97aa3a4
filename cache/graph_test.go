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

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardReverseAgree(t *testing.T) {
	g := NewDependencyGraph()
	g.setForward("a", []string{"b", "c"})

	assert.ElementsMatch(t, []string{"b", "c"}, g.Dependencies("a"))
	assert.ElementsMatch(t, []string{"a"}, g.Dependents("b"))
	assert.ElementsMatch(t, []string{"a"}, g.Dependents("c"))
}

func TestSetForwardReplacesOldEdges(t *testing.T) {
	g := NewDependencyGraph()
	g.setForward("a", []string{"b"})
	g.setForward("a", []string{"c"})

	assert.Empty(t, g.Dependents("b"))
	assert.ElementsMatch(t, []string{"a"}, g.Dependents("c"))
}

func TestRemoveFileLeavesNoDanglingReverseEdges(t *testing.T) {
	g := NewDependencyGraph()
	g.setForward("a", []string{"b"})
	g.removeFile("a")

	assert.Empty(t, g.Dependents("b"))
	assert.Empty(t, g.Dependencies("a"))
}

func TestRemoveFileClearsItsOwnDependents(t *testing.T) {
	g := NewDependencyGraph()
	g.setForward("a", []string{"shared"})
	g.setForward("b", []string{"shared"})
	g.removeFile("shared")

	assert.Empty(t, g.Dependencies("a"))
	assert.Empty(t, g.Dependencies("b"))
}

func TestDedupeRemovesDuplicates(t *testing.T) {
	assert.ElementsMatch(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a"}))
	assert.Nil(t, dedupe(nil))
}
