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

// Package cmd is the CLI front-end (explicitly out of scope for this
// spec's core per §1, specified only at its seam): it parses flags,
// resolves the project directory, and wires the core packages together
// exactly as the original spec's §6 "External Interfaces" describes.
package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ignite.build/core/internal/logging"
)

// Exit codes per §6: 0 success, 1 user error, 2 compilation error(s), 3 internal error.
const (
	ExitSuccess         = 0
	ExitUserError       = 1
	ExitCompilationError = 2
	ExitInternalError   = 3
)

var rootCmd = &cobra.Command{
	Use:   "ignite",
	Short: "Incremental build pipeline and dev server",
	Long: `Compiles typed-script, single-file-component, and plain script sources
into browser-ready bundles, watching the filesystem and pushing precise
hot-module-replacement directives to a connected browser.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main(); the process exit code is set from the error
// returned, following the §6 exit-code taxonomy.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		return ExitInternalError
	}
	return ExitSuccess
}

// exitCoder lets a command's RunE carry a specific exit code through
// cobra's plain error-return contract.
type exitCoder interface {
	error
	ExitCode() int
}

// cliError pairs an error with the exit code it should produce.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }
func (e *cliError) ExitCode() int { return e.code }

func userError(err error) error       { return &cliError{code: ExitUserError, err: err} }
func compilationError(err error) error { return &cliError{code: ExitCompilationError, err: err} }
func internalError(err error) error   { return &cliError{code: ExitInternalError, err: err} }

func resolveProjectDir(configPath, projectDirFlag string) (string, bool) {
	if projectDirFlag != "" {
		abs, err := expandPath(projectDirFlag)
		if err != nil {
			pterm.Fatal.Printf("Invalid --project-dir: %v", err)
		}
		return abs, true
	}
	configAbs, err := filepath.Abs(configPath)
	if err != nil {
		pterm.Fatal.Printf("Invalid --config: %v", err)
	}
	configDir := filepath.Dir(configAbs)
	base := filepath.Base(configDir)
	if base == ".config" || base == "config" {
		return filepath.Dir(configDir), true
	}
	cwd, err := os.Getwd()
	if err != nil {
		pterm.Fatal.Printf("Unable to get current working directory: %v", err)
	}
	if configPath != "" && !strings.HasPrefix(configAbs, cwd) {
		pterm.Warning.Printf("Warning: --config is outside of current dir, guessing project root as %s\n", cwd)
	}
	return cwd, false
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			path = home
		} else if strings.HasPrefix(path, "~/") {
			path = filepath.Join(home, path[2:])
		}
	}
	return filepath.Abs(path)
}

func initConfig() {
	cfgFile := viper.GetString("configFile")
	projectDir, shouldChange := resolveProjectDir(cfgFile, viper.GetString("projectDir"))
	viper.Set("projectDir", projectDir)
	viper.AddConfigPath(filepath.Join(projectDir, ".config"))
	viper.SetConfigType("yaml")
	viper.SetConfigName("ignite")

	if shouldChange {
		if err := os.Chdir(projectDir); err != nil {
			cobra.CheckErr(errors.Join(err, errors.New("failed to change into project directory")))
		}
	}

	if viper.GetBool("verbose") {
		logging.SetDebugEnabled(true)
		pterm.EnableDebugMessages()
	}
	logging.Debug("using project directory: %s", projectDir)

	var err error
	if cfgFile != "" {
		cfgFile, err = expandPath(cfgFile)
		cobra.CheckErr(err)
	} else {
		cfgFile, err = expandPath(filepath.Join(projectDir, ".config", "ignite.yaml"))
		cobra.CheckErr(err)
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err == nil {
			logging.Debug("using config file: %s", cfgFile)
		}
	}
	viper.Set("configFile", cfgFile)

	viper.AutomaticEnv()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("config", "", "config file (default is $CWD/.config/ignite.yaml)")
	rootCmd.PersistentFlags().String("project-dir", "", "path to project directory (default: parent directory of .config/ignite.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging output (enables debug messages; diagnostics carry no extra stack context)")
	rootCmd.PersistentFlags().Bool("prod", false, "compile in production mode (minify, production library URLs)")
	rootCmd.PersistentFlags().Bool("type-check", false, "run the type-check stage via the worker pool (syntactic checks only; no semantic type analysis)")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "suppress confirmation prompts")

	viper.BindPFlag("configFile", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("projectDir", rootCmd.PersistentFlags().Lookup("project-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("prod", rootCmd.PersistentFlags().Lookup("prod"))
	viper.BindPFlag("typeCheck", rootCmd.PersistentFlags().Lookup("type-check"))
	viper.BindPFlag("yes", rootCmd.PersistentFlags().Lookup("yes"))
}
