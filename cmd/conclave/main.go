package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"conclave/internal/config"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	verbose    bool
	logFormat  string
}

var (
	flags  globalFlags
	logger = slog.Default()
)

var root = &cobra.Command{
	Use:   "conclave",
	Short: "Stream answers from a fallback chain of LLM providers, or let three models debate.",
	Example: `  conclave chat "why is the sky blue?"
  conclave debate "tabs or spaces" --tui
  conclave serve --addr :8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Terminal commands stream answers to stdout; keep routine logs out of the way.
		level := slog.LevelWarn
		if cmd.Name() == "serve" {
			level = slog.LevelInfo
		}
		if flags.verbose {
			level = slog.LevelDebug
		}
		l, err := newLogger(cmd.ErrOrStderr(), flags.logFormat, level)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
}

func init() {
	defaultConfig := config.DefaultPath
	if v, ok := os.LookupEnv("CONCLAVE_CONFIG"); ok && v != "" {
		defaultConfig = v
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfig, "configuration file (env CONCLAVE_CONFIG)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(chatCmd(), debateCmd(), serveCmd(), routesCmd(), initCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
