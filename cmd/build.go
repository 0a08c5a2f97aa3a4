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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ignite.build/core/diagnostics"
	"ignite.build/core/internal/logging"
	"ignite.build/core/pipeline"
	"ignite.build/core/sourcefile"
	"ignite.build/core/workerpool"
)

// buildBatchBound is the default per-chunk concurrency in "build" mode (the
// --batch-size flag); the CLI batches the filesystem walk itself to keep
// memory bounded on large trees.
const buildBatchBound = 10

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile every source file under the project's source root",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newBuildContext(workerpool.ModeBatch)
		defer ctx.Close()

		files, err := discoverSourceFiles(ctx.SourceRoot)
		if err != nil {
			return internalError(err)
		}

		failures := compileBatch(context.Background(), ctx, files)
		if failures > 0 {
			return compilationError(fmt.Errorf("%d file(s) failed to compile", failures))
		}
		logging.Success("built %d file(s) into %s", len(files), ctx.OutputRoot)
		return nil
	},
}

func init() {
	buildCmd.Flags().Int("batch-size", buildBatchBound, "number of files compiled concurrently per chunk")
	viper.BindPFlag("batchSize", buildCmd.Flags().Lookup("batch-size"))
	rootCmd.AddCommand(buildCmd)
}

// discoverSourceFiles walks sourceRoot collecting every file whose kind is
// compilable (script, typed-script, sfc); auxiliary files are skipped.
func discoverSourceFiles(sourceRoot string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(sourceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if sourcefile.KindFromPath(path) == sourcefile.KindAuxiliary {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// compileBatch compiles files in chunks of --batch-size files (default
// buildBatchBound), all-settled within a chunk (matching the watch
// dispatcher's own batching discipline in §4.7), and returns the number of
// per-file failures.
func compileBatch(ctx context.Context, bc *buildContext, files []string) int {
	var failures int
	var mu sync.Mutex

	typeCheck := viper.GetBool("typeCheck")
	production := viper.GetBool("prod")
	chunkSize := viper.GetInt("batchSize")
	if chunkSize <= 0 {
		chunkSize = buildBatchBound
	}

	for i := 0; i < len(files); i += chunkSize {
		end := min(i+chunkSize, len(files))
		chunk := files[i:end]

		var wg sync.WaitGroup
		for _, path := range chunk {
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				if err := compileAndWrite(ctx, bc, path, typeCheck, production); err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					logging.Error("%s: %v", path, err)
				}
			}(path)
		}
		wg.Wait()
	}
	return failures
}

func compileAndWrite(ctx context.Context, bc *buildContext, path string, typeCheck, production bool) error {
	result, err := bc.Pipeline.Compile(ctx, path, typeCheck, production)
	if err != nil {
		if typed, ok := err.(*pipeline.TypedError); ok {
			return typed
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(result.OutputPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(result.OutputPath, []byte(result.Artifact.Code), 0o644); err != nil {
		return err
	}
	if len(result.Diagnostics) > 0 {
		fmt.Fprint(os.Stderr, diagnostics.Render(result.Diagnostics))
	}
	return nil
}
