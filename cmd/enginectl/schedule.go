package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ecoachlabs/ideamind-sub006/pkg/config"
	"github.com/ecoachlabs/ideamind-sub006/pkg/scheduler"
	"github.com/ecoachlabs/ideamind-sub006/pkg/streamqueue"
	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
)

// ScheduleCmd submits a Phase Plan to a running engine's Task
// Repository and Job Queue.
type ScheduleCmd struct {
	Phase       string `required:"" help:"Phase name."`
	Agents      string `required:"" help:"Comma-separated agent names."`
	Parallelism string `help:"sequential or parallel." default:"parallel"`
	RunID       string `name:"run-id" required:"" help:"Workflow run ID this plan belongs to."`
	TimeboxMS   int64  `name:"timebox-ms" help:"Phase timebox in milliseconds." default:"60000"`
}

func (c *ScheduleCmd) Run(cli *CLI) error {
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
	if cfg.Database == nil {
		return fmt.Errorf("schedule: config.database is required")
	}

	pool := config.NewDBPool()
	defer pool.Close()
	db, err := pool.Get(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	repo, err := taskrepo.New(db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("task repository: %w", err)
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

	sched := scheduler.New(repo, queue)

	parallelism := scheduler.Parallel
	if c.Parallelism == "sequential" {
		parallelism = scheduler.Sequential
	}

	plan := scheduler.Plan{
		Phase:       c.Phase,
		Parallelism: parallelism,
		Agents:      splitCSV(c.Agents),
		TimeboxMS:   c.TimeboxMS,
	}
	rc := scheduler.Context{RunID: c.RunID, PhaseID: c.Phase}

	result, err := sched.Schedule(context.Background(), plan, rc)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
