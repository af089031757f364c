package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ecoachlabs/ideamind-sub006/pkg/adminhttp"
	"github.com/ecoachlabs/ideamind-sub006/pkg/checkpoint"
	"github.com/ecoachlabs/ideamind-sub006/pkg/config"
	"github.com/ecoachlabs/ideamind-sub006/pkg/databases"
	"github.com/ecoachlabs/ideamind-sub006/pkg/embedders"
	"github.com/ecoachlabs/ideamind-sub006/pkg/executor"
	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
	"github.com/ecoachlabs/ideamind-sub006/pkg/priority"
	"github.com/ecoachlabs/ideamind-sub006/pkg/ratelimit"
	"github.com/ecoachlabs/ideamind-sub006/pkg/streamqueue"
	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
	"github.com/ecoachlabs/ideamind-sub006/pkg/vault"
	"github.com/ecoachlabs/ideamind-sub006/pkg/worker"
)

// ServeCmd starts the engine: Job Queue, Task Repository, Scheduler,
// Worker Pool, Priority Scheduler, Memory Vault, and the admin HTTP
// surface. It blocks until the process receives SIGINT/SIGTERM.
type ServeCmd struct {
	AdminAddr string `name:"admin-addr" help:"Address the admin HTTP surface listens on." default:":8090"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	log := slog.Default()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if cfg.Database == nil {
		return fmt.Errorf("serve: config.database is required")
	}
	pool := config.NewDBPool()
	defer pool.Close()
	db, err := pool.Get(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	dialect := cfg.Database.Driver

	repo, err := taskrepo.New(db, dialect)
	if err != nil {
		return fmt.Errorf("task repository: %w", err)
	}
	checkpoints, err := checkpoint.NewManager(db, dialect, 0)
	if err != nil {
		return fmt.Errorf("checkpoint manager: %w", err)
	}

	obs, err := observability.NewManager(ctx, &observability.Config{
		Metrics: observability.MetricsConfig{Enabled: true},
	})
	if err != nil {
		log.Warn("observability disabled", "error", err)
		obs = nil
	}

	queue, err := streamqueue.New(cfg.Queue.Endpoints, streamqueue.Config{
		VisibilityTTL:  cfg.Queue.VisibilityTTL,
		MaxDeliveries:  cfg.Queue.MaxDeliveries,
		ClaimBatchSize: cfg.Queue.ClaimBatchSize,
	})
	if err != nil {
		return fmt.Errorf("job queue: %w", err)
	}
	queue.WithObservability(obs)
	defer queue.Close()

	executors := executor.New()

	pool2 := worker.NewPool(repo, checkpoints, executors, queue, cfg.Worker, cfg.Queue.ConsumerGroup)
	pool2.WithObservability(obs)
	if err := pool2.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer pool2.Stop()
	log.Info("worker pool started", "size", pool2.Size())

	rlStore, err := ratelimit.NewSQLStore(db, dialect)
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	usage := priority.NewRateLimitUsageSource(rlStore, map[priority.Resource]float64{
		priority.CPU:    1.0,
		priority.Memory: 1.0,
	})
	prio := priority.New(repo, usage, priority.Policy{}, priority.Config{})
	prio.WithObservability(obs)
	prio.StartMonitoring(ctx, 30000)
	defer prio.StopMonitoring()

	v, err := buildVault(cfg, db, log)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	v.WithObservability(obs)
	if frames, err := v.Store.ListFrames(ctx, ""); err == nil {
		log.Info("memory vault ready", "frames", len(frames))
	}

	limiter, err := ratelimit.NewRateLimiterFromConfig(cfg, pool)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	admin := adminhttp.New(obs, queue, limiter)
	srv := &http.Server{Addr: c.AdminAddr, Handler: admin}
	go func() {
		log.Info("admin HTTP surface listening", "addr", c.AdminAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin HTTP surface stopped", "error", err)
		}
	}()
	defer srv.Shutdown(context.Background())

	<-ctx.Done()
	return nil
}

// buildVault wires a Memory Vault over the engine's shared database
// pool. The vector store and embedder are optional: a vault with
// neither still stores and serves frames, it just can't do
// embedding-based similarity search.
func buildVault(cfg *config.EngineConfig, db *sql.DB, log *slog.Logger) (*vault.Vault, error) {
	store, err := vault.NewStore(db, cfg.Database.Driver)
	if err != nil {
		return nil, fmt.Errorf("vault store: %w", err)
	}

	var embedder embedders.EmbedderProvider
	var vectors databases.DatabaseProvider
	if cfg.Vault.Backend != "" && cfg.Vault.Embedder != "" {
		embedderRegistry := embedders.NewEmbedderRegistry()
		e, err := embedderRegistry.CreateEmbedderFromConfig("vault", &config.EmbedderProviderConfig{Type: cfg.Vault.Embedder})
		if err != nil {
			log.Warn("vault embedder unavailable, continuing without it", "error", err)
		} else {
			embedder = e
		}

		dbRegistry := databases.NewDatabaseRegistry()
		d, err := dbRegistry.CreateDatabaseFromConfig("vault", &config.VectorStoreConfig{
			Type:       cfg.Vault.Backend,
			Collection: cfg.Vault.Collection,
		})
		if err != nil {
			log.Warn("vault vector store unavailable, continuing without it", "error", err)
		} else {
			vectors = d
		}
	}

	return vault.New(vault.Config{
		Store:    store,
		Embedder: embedder,
		Vectors:  vectors,
		Logger:   log,
	})
}
