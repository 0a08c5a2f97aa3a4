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

package cmd

import (
	"path/filepath"

	"github.com/spf13/viper"

	"ignite.build/core/cache"
	"ignite.build/core/config"
	"ignite.build/core/pipeline"
	"ignite.build/core/workerpool"
)

// buildContext wires the shared collaborators (C4 pool, C8 cache, C10
// loader, C6 pipeline) a CLI subcommand needs, following the teacher's
// explicit-owning-handle pattern (§9 "Global singletons"): every component
// is constructed here and threaded through, never reached via a package
// singleton.
type buildContext struct {
	Pipeline   *pipeline.Pipeline
	Cache      *cache.Cache
	Pool       *workerpool.Pool
	SourceRoot string
	OutputRoot string
}

func newBuildContext(mode workerpool.Mode) *buildContext {
	projectDir := viper.GetString("projectDir")
	sourceRoot := filepath.Join(projectDir, "src")
	outputRoot := filepath.Join(projectDir, "dist")

	c := cache.New(500)
	pool := workerpool.New(mode)
	loader := config.NewLoader()
	pipe := pipeline.New(loader, c, pool, sourceRoot, outputRoot, projectDir)

	return &buildContext{
		Pipeline:   pipe,
		Cache:      c,
		Pool:       pool,
		SourceRoot: sourceRoot,
		OutputRoot: outputRoot,
	}
}

func (b *buildContext) Close() {
	b.Pool.Terminate()
}
