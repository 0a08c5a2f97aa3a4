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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ignite.build/core/diagnostics"
	"ignite.build/core/internal/logging"
	"ignite.build/core/pipeline"
	"ignite.build/core/workerpool"
)

var compileCmd = &cobra.Command{
	Use:   "compile FILE",
	Short: "Compile one source file end-to-end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newBuildContext(workerpool.ModeIndividual)
		defer ctx.Close()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return userError(err)
		}

		result, err := ctx.Pipeline.Compile(context.Background(), path, viper.GetBool("typeCheck"), viper.GetBool("prod"))
		if err != nil {
			return reportPipelineError(err)
		}

		if err := os.MkdirAll(filepath.Dir(result.OutputPath), 0o755); err != nil {
			return internalError(err)
		}
		if err := os.WriteFile(result.OutputPath, []byte(result.Artifact.Code), 0o644); err != nil {
			return internalError(err)
		}

		if len(result.Diagnostics) > 0 {
			fmt.Fprint(os.Stderr, diagnostics.Render(result.Diagnostics))
		}
		logging.Success("compiled %s -> %s", path, result.OutputPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compileCmd)
}

// reportPipelineError renders a TypedError through the formatter and maps
// it to the §6/§7 exit-code taxonomy: Config* is a user error, everything
// else reported per-file is a compilation error.
func reportPipelineError(err error) error {
	var typed *pipeline.TypedError
	if te, ok := err.(*pipeline.TypedError); ok {
		typed = te
	}

	if typed == nil {
		// ConfigMissing/ConfigInvalid propagate unwrapped and are fatal to
		// the whole request (§4.1, §7).
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return userError(err)
	}

	fmt.Fprintf(os.Stderr, "%s: %v\n", typed.Kind, typed.Err)
	return compilationError(typed)
}
