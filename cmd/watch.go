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
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ignite.build/core/devserver"
	"ignite.build/core/diagnostics"
	"ignite.build/core/internal/logging"
	"ignite.build/core/internal/platform"
	"ignite.build/core/pipeline"
	"ignite.build/core/watch"
	"ignite.build/core/workerpool"
)

var watchMode string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project's source tree and recompile on change",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := workerpool.ModeWatch
		if watchMode == "batch" {
			mode = workerpool.ModeBatch
		}

		bc := newBuildContext(mode)
		defer bc.Close()

		fw, err := platform.NewFSNotifyFileWatcher()
		if err != nil {
			return internalError(fmt.Errorf("failed to start file watcher: %w", err))
		}
		defer fw.Close()

		if err := fw.Add(bc.SourceRoot); err != nil {
			return internalError(fmt.Errorf("failed to watch %s: %w", bc.SourceRoot, err))
		}

		wsManager := devserver.NewWebSocketManager(func(ce devserver.ClientError) {
			logging.Warning("client reported %s: %s", ce.Category, string(ce.Error))
		})

		handler := watch.Handler{
			CompileOne: func(ctx context.Context, path string) error {
				return watchCompileOne(ctx, bc, wsManager, path)
			},
			Unlink: func(ctx context.Context, path string) error {
				return watchUnlink(bc, wsManager, path)
			},
			AdditionalWatch: func(ctx context.Context, path string) {
				logging.Info("additional-watch file changed: %s, forcing full reload", path)
				_ = wsManager.Broadcast(devserver.Message{Type: "reload"})
			},
		}

		gitignorePath := filepath.Join(viper.GetString("projectDir"), ".gitignore")
		dispatcher := watch.New(fw, handler, watch.Options{
			SourceRoots:     []string{bc.SourceRoot},
			AdditionalWatch: nil,
			GitignorePath:   gitignorePath,
		})

		logging.Success("watching %s (mode=%s)", bc.SourceRoot, watchMode)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		dispatcher.Run(ctx)
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchMode, "mode", "individual", "dispatch mode: individual or batch")
	rootCmd.AddCommand(watchCmd)
}

func watchCompileOne(ctx context.Context, bc *buildContext, wsManager *devserver.WebSocketManager, path string) error {
	result, err := bc.Pipeline.Compile(ctx, path, viper.GetBool("typeCheck"), viper.GetBool("prod"))
	if err != nil {
		msg := err.Error()
		if typed, ok := err.(*pipeline.TypedError); ok {
			msg = fmt.Sprintf("%s: %v", typed.Kind, typed.Err)
		}
		_ = wsManager.Broadcast(devserver.CompileErrorMessage(msg))
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

	logging.Info("recompiled %s", path)
	return wsManager.Broadcast(devserver.FromDirective(result.HMRAction, path))
}

func watchUnlink(bc *buildContext, wsManager *devserver.WebSocketManager, path string) error {
	bc.Cache.InvalidateCascade(path)
	outputPath := bc.Pipeline.OutputPathFor(path)
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	logging.Info("removed %s", outputPath)
	return wsManager.Broadcast(devserver.Message{Type: "reload"})
}
