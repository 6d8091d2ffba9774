package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/MetricFlow"
)

func main() {
	flow, err := metricflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := metricflow.NewAgentDescriptor("fanout", flow.Config().Topic, "fanout", 1)
	if err != nil {
		log.Fatalf("agent: %v", err)
	}
	agent, envelopes, closeEnvelopes := metricflow.NewChannelAgent(d, 32)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fanoutWorker("fanout", envelopes)
	}()

	err = flow.Run(ctx, metricflow.StreamOutAgent(agent))
	closeEnvelopes()
	<-done
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, envelopes <-chan metricflow.Envelope) {
	for env := range envelopes {
		fmt.Printf("[%s] received %d samples at %s\n", name, env.Len(), time.Now().Format(time.RFC3339))
	}
}
