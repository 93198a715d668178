package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/martinemde/shellpilot/agentloop"
	"github.com/martinemde/shellpilot/internal/config"
	"github.com/martinemde/shellpilot/internal/observability"
)

// errReported marks a failure that has already been shown to the user.
var errReported = errors.New("error already reported")

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "shellpilot",
		Short: "Let a language model work towards a goal in your shell",
		Long: `shellpilot asks a chat-completions model for the next shell command,
runs it, and feeds the output back until the model reports the goal is done
or the query budget is spent.

The API key and model are read from OPEN_API_KEY and OPEN_API_MODEL.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, config.WithFlags(cmd.Flags()))
			if err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the agent configuration file")
	flags.Int("max-queries", 0, "override max_queries from the configuration file")
	flags.String("log-level", "", "override logger.level (debug, info, warn, error)")

	cmd.SetVersionTemplate("shellpilot {{.Version}}\n")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.Logger, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting shellpilot",
		zap.String("version", Version),
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.String("goal", cfg.Goal),
	)

	out := cmd.OutOrStdout()
	result, err := runAgent(cmd.Context(), cfg, logger, out)
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		fmt.Fprintln(out, "An error occurred. Check the log.")
		return errReported
	}
	if result.Outcome == agentloop.OutcomeExhausted {
		fmt.Fprintln(out, "query budget exhausted")
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}
