package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/MetricFlow"
)

func main() {
	flow, err := metricflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// printing only, no metrics endpoint
	flow.Config().Metrics.Addr = ""

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, env metricflow.Envelope) error {
		for _, sample := range env.Samples {
			fmt.Printf("%s name=%s value=%g\n",
				sample.Time().Format("2006-01-02T15:04:05.000Z07:00"),
				sample.Name,
				sample.Value,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, metricflow.StreamOutCallback("stdout", callback)); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
