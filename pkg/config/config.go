// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration loading for the pipeline engine.
//
// Config is struct-first with environment overlays; there is no remote
// config-provider layer (no consul/zookeeper/koanf watchers). Values are
// set via struct literal or YAML file, then ${VAR} / $VAR references are
// expanded against the process environment with ExpandEnvVarsInData.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the root configuration for an engine instance: the
// queue, task repository, scheduler, worker pool, priority scheduler,
// memory vault and phase coordinator all read their settings from here.
type EngineConfig struct {
	Name string `yaml:"name,omitempty"`

	Database *DatabaseConfig `yaml:"database"`

	Queue     QueueConfig     `yaml:"queue,omitempty"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Worker    WorkerConfig    `yaml:"worker,omitempty"`
	Priority  RateLimitConfig `yaml:"priority,omitempty"`
	Vault     VaultConfig     `yaml:"vault,omitempty"`
	Phase     PhaseConfig     `yaml:"phase,omitempty"`

	Logger LoggerConfig `yaml:"logger,omitempty"`
}

// QueueConfig configures the durable job queue (stream + consumer group).
type QueueConfig struct {
	Endpoints      []string      `yaml:"endpoints,omitempty"`
	ConsumerGroup  string        `yaml:"consumer_group,omitempty"`
	VisibilityTTL  time.Duration `yaml:"visibility_ttl,omitempty"`
	MaxDeliveries  int           `yaml:"max_deliveries,omitempty"`
	ClaimBatchSize int           `yaml:"claim_batch_size,omitempty"`
}

// SchedulerConfig configures task dispatch and deadline sweeping.
type SchedulerConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval,omitempty"`
	DeadlineSlack    time.Duration `yaml:"deadline_slack,omitempty"`
	MaxInFlightTasks int           `yaml:"max_in_flight_tasks,omitempty"`
}

// WorkerConfig configures the worker pool. PoolSize is the pool's
// starting concurrency; AutoScale lets it grow/shrink between
// MinWorkers and MaxWorkers on queue depth.
type WorkerConfig struct {
	PoolSize            int           `yaml:"pool_size,omitempty"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval,omitempty"`
	LeaseDuration        time.Duration `yaml:"lease_duration,omitempty"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period,omitempty"`
	AutoScale           bool          `yaml:"auto_scale,omitempty"`
	MinWorkers          int           `yaml:"min_workers,omitempty"`
	MaxWorkers          int           `yaml:"max_workers,omitempty"`
	AutoScaleInterval   time.Duration `yaml:"auto_scale_interval,omitempty"`
}

// VaultConfig configures the memory vault's vector backend and token budget.
type VaultConfig struct {
	Backend       string        `yaml:"backend,omitempty"` // chromem (the only backend VectorStoreConfig.Validate accepts)
	Collection    string        `yaml:"collection,omitempty"`
	Embedder      string        `yaml:"embedder,omitempty"`
	TokenBudget   int           `yaml:"token_budget,omitempty"`
	RefreshPeriod time.Duration `yaml:"refresh_period,omitempty"`
}

// PhaseConfig configures the phase coordinator's plan evaluation.
type PhaseConfig struct {
	MaxConcurrentPhases int           `yaml:"max_concurrent_phases,omitempty"`
	EvalInterval        time.Duration `yaml:"eval_interval,omitempty"`
}

// SetDefaults applies defaults across the whole tree.
func (c *EngineConfig) SetDefaults() {
	if c.Database != nil {
		c.Database.SetDefaults()
	}
	if c.Queue.VisibilityTTL == 0 {
		c.Queue.VisibilityTTL = 30 * time.Second
	}
	if c.Queue.MaxDeliveries == 0 {
		c.Queue.MaxDeliveries = 5
	}
	if c.Queue.ClaimBatchSize == 0 {
		c.Queue.ClaimBatchSize = 16
	}
	if c.Queue.ConsumerGroup == "" {
		c.Queue.ConsumerGroup = "engine"
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = time.Second
	}
	if c.Scheduler.DeadlineSlack == 0 {
		c.Scheduler.DeadlineSlack = 2 * time.Second
	}
	if c.Scheduler.MaxInFlightTasks == 0 {
		c.Scheduler.MaxInFlightTasks = 256
	}
	if c.Worker.PoolSize == 0 {
		c.Worker.PoolSize = 8
	}
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = 5 * time.Second
	}
	if c.Worker.LeaseDuration == 0 {
		c.Worker.LeaseDuration = 30 * time.Second
	}
	if c.Worker.ShutdownGracePeriod == 0 {
		c.Worker.ShutdownGracePeriod = 10 * time.Second
	}
	if c.Worker.MinWorkers == 0 {
		c.Worker.MinWorkers = 1
	}
	if c.Worker.MaxWorkers == 0 {
		c.Worker.MaxWorkers = 32
	}
	if c.Worker.AutoScaleInterval == 0 {
		c.Worker.AutoScaleInterval = 10 * time.Second
	}
	if c.Vault.TokenBudget == 0 {
		c.Vault.TokenBudget = 4000
	}
	if c.Vault.Backend == "" {
		c.Vault.Backend = "chromem"
	}
	if c.Phase.MaxConcurrentPhases == 0 {
		c.Phase.MaxConcurrentPhases = 4
	}
	if c.Phase.EvalInterval == 0 {
		c.Phase.EvalInterval = 500 * time.Millisecond
	}
	c.Priority.SetDefaults()
	c.Logger.SetDefaults()
}

// Validate checks the whole config tree.
func (c *EngineConfig) Validate() error {
	if c.Database != nil {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be positive")
	}
	if c.Scheduler.MaxInFlightTasks <= 0 {
		return fmt.Errorf("scheduler.max_in_flight_tasks must be positive")
	}
	if err := c.Priority.Validate(); err != nil {
		return fmt.Errorf("priority: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	return nil
}

// Load reads an EngineConfig from a YAML file, expands ${VAR} references
// against the environment, applies defaults and validates the result.
func Load(path string) (*EngineConfig, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	expanded := ExpandEnvVarsInData(generic)

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("re-encoding config %s: %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(reencoded, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}
