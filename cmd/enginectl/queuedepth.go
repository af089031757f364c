package main

import (
	"context"
	"fmt"

	"github.com/ecoachlabs/ideamind-sub006/pkg/config"
	"github.com/ecoachlabs/ideamind-sub006/pkg/streamqueue"
)

// QueueDepthCmd reports how many undelivered messages sit on a topic.
type QueueDepthCmd struct {
	Topic string `required:"" help:"Queue topic, e.g. tasks."`
}

func (c *QueueDepthCmd) Run(cli *CLI) error {
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	queue, err := streamqueue.New(cfg.Queue.Endpoints, streamqueue.Config{
		VisibilityTTL:  cfg.Queue.VisibilityTTL,
		MaxDeliveries:  cfg.Queue.MaxDeliveries,
		ClaimBatchSize: cfg.Queue.ClaimBatchSize,
	})
	if err != nil {
		return fmt.Errorf("job queue: %w", err)
	}
	defer queue.Close()

	depth, err := queue.GetQueueDepth(context.Background(), c.Topic)
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}
	fmt.Printf("%s: %d\n", c.Topic, depth)
	return nil
}
