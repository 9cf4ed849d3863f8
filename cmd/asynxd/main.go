// Command asynxd runs the task queue daemon: a REST facade for
// inserting and inspecting tasks (serve) and a worker executing them
// (worker). Both talk to the same Redis instance.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/asynx/internal/config"
	"github.com/dmitrymomot/asynx/pkg/logger"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "asynxd",
		Short:         "HTTP task queue and scheduler daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(workerCmd(&configPath))
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("asynxd", version)
		},
	}
}

// newLogger builds the daemon logger from the loaded configuration.
func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.SentryDSN != "" {
		return logger.NewWithSentry(level, logger.SentryConfig{
			DSN:         cfg.SentryDSN,
			Environment: "production",
		})
	}
	return logger.New(level)
}
