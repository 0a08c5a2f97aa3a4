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
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ignite.build/core/internal/logging"
)

// clean removes the output root and any persisted cache-statistics file
// (SUPPLEMENTED FEATURE 3 in SPEC_FULL.md). The compilation cache itself is
// in-memory only (§6 "Persisted state layout"), so there is nothing else to
// remove on disk.
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the output root and any persisted cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir := viper.GetString("projectDir")
		outputRoot := filepath.Join(projectDir, "dist")
		statsFile := filepath.Join(projectDir, ".cache", "ignite-stats.json")

		if !viper.GetBool("yes") {
			if !confirm(fmt.Sprintf("remove %s?", outputRoot)) {
				logging.Info("aborted")
				return nil
			}
		}

		if err := os.RemoveAll(outputRoot); err != nil {
			return internalError(err)
		}
		if err := os.Remove(statsFile); err != nil && !os.IsNotExist(err) {
			return internalError(err)
		}

		logging.Success("removed %s", outputRoot)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch line {
	case "y\n", "Y\n", "yes\n":
		return true
	default:
		return false
	}
}
