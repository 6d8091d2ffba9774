package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghalamif/MetricFlow/pkg/metricflow"
)

func newPublisherCmd(params *rootParams) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics-publisher",
		Short: "Collect metrics every tick and publish them to the configured topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := params.load(cmd)
			if err != nil {
				return err
			}
			rt, err := metricflow.NewRuntime(cfg, metricflow.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("runtime not built: %w", err)
			}
			logger.Info("starting publisher", "broker", cfg.Broker, "topic", cfg.Topic, "source", cfg.Source.Kind)
			return rt.RunPublisher(cmd.Context())
		},
	}
}

func newSubscriberCmd(params *rootParams) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics-subscriber",
		Short: "Consume the configured topic and run the configured agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := params.load(cmd)
			if err != nil {
				return err
			}
			rt, err := metricflow.NewRuntime(cfg, metricflow.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("runtime not built: %w", err)
			}
			logger.Info("starting subscriber", "broker", cfg.Broker, "agents", len(cfg.Agents))
			return rt.RunSubscriber(cmd.Context())
		},
	}
}

func newCheckDBCmd(params *rootParams) *cobra.Command {
	return &cobra.Command{
		Use:   "check-db-data",
		Short: "Print the current number of rows in the metrics table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := params.load(cmd)
			if err != nil {
				return err
			}
			cfg.Metrics.Addr = ""
			rt, err := metricflow.NewRuntime(cfg, metricflow.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("runtime not built: %w", err)
			}
			defer rt.Shutdown(cmd.Context())

			rows, err := rt.RowCount(cmd.Context())
			if err != nil {
				return fmt.Errorf("count rows: %w", err)
			}
			logger.Info("current count of rows in db", "table", cfg.Postgres.Table, "rows", rows)
			fmt.Fprintln(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func newValidateCmd(params *rootParams) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := params.load(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config looks good: broker=%s topic=%s agents=%d\n",
				cfg.Broker, cfg.Topic, len(cfg.Agents))
			return nil
		},
	}
}
