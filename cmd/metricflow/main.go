package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghalamif/MetricFlow/internal/app/config"
	"github.com/ghalamif/MetricFlow/pkg/metricflow"
)

type rootParams struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execRootCmd(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "metricflow: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func execRootCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	params := &rootParams{}
	rootCmd := &cobra.Command{
		Use:           "metricflow",
		Short:         "Collect host metrics, move them through a broker and persist them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if params.envFile == "" {
				return nil
			}
			return metricflow.LoadDotEnv(params.envFile)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&params.configPath, "config", "", "Path to the YAML config file (default $"+config.ConfigPathEnv+")")
	rootCmd.PersistentFlags().StringVar(&params.envFile, "env-file", ".env", "Environment file loaded before configuration; missing files are ignored")
	rootCmd.PersistentFlags().StringVar(&params.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&params.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(
		newPublisherCmd(params),
		newSubscriberCmd(params),
		newCheckDBCmd(params),
		newValidateCmd(params),
		newStatsCmd(),
	)
	return rootCmd
}

// load reads the configuration and builds the process logger from it.
func (p *rootParams) load(cmd *cobra.Command) (*metricflow.Config, *slog.Logger, error) {
	path := p.configPath
	if path == "" {
		path = os.Getenv(config.ConfigPathEnv)
	}
	if p.logLevel != "" {
		if _, err := config.ParseLevel(p.logLevel); err != nil {
			return nil, nil, fmt.Errorf("invalid --log-level %q: %w", p.logLevel, err)
		}
	}
	cfg, err := metricflow.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if p.logLevel != "" {
		cfg.LogLevel = p.logLevel
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if p.logFormat == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
