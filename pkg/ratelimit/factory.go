// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"fmt"

	"github.com/ecoachlabs/ideamind-sub006/pkg/config"
)

// NewRateLimiterFromConfig creates a RateLimiter from the engine's
// top-level configuration. If rate limiting is disabled, returns nil.
//
// Example config:
//
//	database:
//	  driver: sqlite
//	  database: ./.engine/engine.db
//
//	priority:
//	  enabled: true
//	  backend: sql
//	  limits:
//	    - type: token
//	      window: day
//	      limit: 100000
func NewRateLimiterFromConfig(cfg *config.EngineConfig, pool *config.DBPool) (RateLimiter, error) {
	rateLimitCfg := &cfg.Priority
	if !rateLimitCfg.IsEnabled() {
		return nil, nil
	}

	var store Store

	switch rateLimitCfg.Backend {
	case "sql":
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for SQL rate limit backend")
		}
		if cfg.Database == nil {
			return nil, fmt.Errorf("database configuration is required for SQL rate limit backend")
		}

		db, err := pool.Get(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}

		store, err = NewSQLStore(db, cfg.Database.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL store: %w", err)
		}
	case "memory", "":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", rateLimitCfg.Backend)
	}

	return NewRateLimiterFromConfigWithStore(rateLimitCfg, store)
}

// NewRateLimiterFromConfigWithStore creates a RateLimiter with a custom store.
// Useful for testing or when you need to share a store across multiple limiters.
func NewRateLimiterFromConfigWithStore(cfg *config.RateLimitConfig, store Store) (RateLimiter, error) {
	if cfg == nil || !cfg.IsEnabled() {
		return nil, nil
	}

	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	limits := make([]LimitRule, len(cfg.Limits))
	for i, l := range cfg.Limits {
		limits[i] = LimitRule{
			Type:   ParseLimitType(l.Type),
			Window: ParseTimeWindow(l.Window),
			Limit:  l.Limit,
		}
	}

	limiterCfg := &Config{
		Enabled: cfg.IsEnabled(),
		Limits:  limits,
	}

	return NewRateLimiter(limiterCfg, store)
}

// ScopeFromConfig returns the rate limiting scope from configuration.
func ScopeFromConfig(cfg *config.RateLimitConfig) Scope {
	if cfg == nil || cfg.Scope == "" {
		return ScopeSession
	}
	return ParseScope(cfg.Scope)
}
