package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ecoachlabs/ideamind-sub006/pkg/config"
	vaultpkg "github.com/ecoachlabs/ideamind-sub006/pkg/vault"
)

// VaultCmd groups memory-vault inspection subcommands.
type VaultCmd struct {
	Query VaultQueryCmd `cmd:"" help:"Build a context pack for the given query."`
}

// VaultQueryCmd runs the Context Pack Builder against the vault's
// stored frames and artifacts and prints the resulting pack as JSON.
type VaultQueryCmd struct {
	ThemePrefix  string  `name:"theme-prefix" help:"Theme or theme prefix to match."`
	Scope        string  `help:"Restrict to a scope: ephemeral, run, tenant, global."`
	MinFreshness float64 `name:"min-freshness" help:"Minimum freshness [0,1]."`
	Doer         string  `help:"Restrict to frames provenanced by this doer."`
	Phase        string  `help:"Restrict to this phase."`
	TokenBudget  int     `name:"token-budget" help:"Token budget for the pack (0 = default 4000)."`
}

func (c *VaultQueryCmd) Run(cli *CLI) error {
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
		return fmt.Errorf("vault query: config.database is required")
	}

	pool := config.NewDBPool()
	defer pool.Close()
	db, err := pool.Get(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	store, err := vaultpkg.NewStore(db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("vault store: %w", err)
	}
	v, err := vaultpkg.New(vaultpkg.Config{Store: store})
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	query := vaultpkg.MemoryQuery{
		ThemePrefix:  c.ThemePrefix,
		Scope:        vaultpkg.Scope(c.Scope),
		MinFreshness: c.MinFreshness,
		Doer:         c.Doer,
		Phase:        c.Phase,
		TokenBudget:  c.TokenBudget,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pack, err := v.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("vault query: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pack)
}
