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

// DependencyGraph is bidirectional: forward edges file -> declared
// dependencies, reverse edges file <- dependents (§3). It is owned by the
// Cache and updated atomically whenever an artifact is stored, generalizing
// the teacher's single `dependents map[string][]string` to an explicit
// forward+reverse structure so forward/reverse agreement is checkable.
type DependencyGraph struct {
	forward map[string][]string // file -> its declared dependencies
	reverse map[string][]string // file -> files that declare it as a dependency
}

// NewDependencyGraph constructs an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		forward: make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

// setForward replaces file's forward edges, updating the reverse edges of
// both the old and new dependency sets so forward/reverse never disagree.
func (g *DependencyGraph) setForward(file string, deps []string) {
	for _, old := range g.forward[file] {
		g.reverse[old] = removeString(g.reverse[old], file)
		if len(g.reverse[old]) == 0 {
			delete(g.reverse, old)
		}
	}

	normalized := dedupe(deps)
	if len(normalized) == 0 {
		delete(g.forward, file)
	} else {
		g.forward[file] = normalized
	}

	for _, dep := range normalized {
		if !containsString(g.reverse[dep], file) {
			g.reverse[dep] = append(g.reverse[dep], file)
		}
	}
}

// removeFile drops file from both edge maps, and from every other file's
// edge lists, leaving no dangling reverse edges (§3 invariant).
func (g *DependencyGraph) removeFile(file string) {
	for _, dep := range g.forward[file] {
		g.reverse[dep] = removeString(g.reverse[dep], file)
		if len(g.reverse[dep]) == 0 {
			delete(g.reverse, dep)
		}
	}
	delete(g.forward, file)

	for _, dependent := range g.reverse[file] {
		g.forward[dependent] = removeString(g.forward[dependent], file)
		if len(g.forward[dependent]) == 0 {
			delete(g.forward, dependent)
		}
	}
	delete(g.reverse, file)
}

// Dependents returns the files that directly declare path as a dependency,
// used by the HMR engine's Propagate directive (§4.8).
func (g *DependencyGraph) Dependents(path string) []string {
	out := make([]string, len(g.reverse[path]))
	copy(out, g.reverse[path])
	return out
}

// Dependencies returns the files path directly declares as dependencies.
func (g *DependencyGraph) Dependencies(path string) []string {
	out := make([]string, len(g.forward[path]))
	copy(out, g.forward[path])
	return out
}

func (g *DependencyGraph) nodeCount() int {
	seen := make(map[string]bool, len(g.forward)+len(g.reverse))
	for k := range g.forward {
		seen[k] = true
	}
	for k := range g.reverse {
		seen[k] = true
	}
	return len(seen)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
