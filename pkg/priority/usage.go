package priority

import (
	"context"
	"fmt"
	"time"

	"github.com/ecoachlabs/ideamind-sub006/pkg/ratelimit"
)

// defaultQuotas are the resource ceilings used when no tenant-specific
// quota row exists in the backing store (spec's default pool: 8 cores,
// 32GB memory, 2 GPUs).
var defaultQuotas = map[Resource]float64{
	CPU:    8,
	Memory: 32 * 1024,
	GPU:    2,
}

// RateLimitUsageSource adapts the rate limiter's sliding-window Store
// into a priority.UsageSource: resource consumption is sampled the
// same way the rate limiter samples token/request consumption, via a
// rolling counter keyed by scope+identifier+window, just with
// ScopeResource and a resource name as the identifier instead of a
// session or user id.
type RateLimitUsageSource struct {
	store  ratelimit.Store
	quotas map[Resource]float64
}

// NewRateLimitUsageSource builds a UsageSource over store. A nil
// quotas map falls back to defaultQuotas for every resource.
func NewRateLimitUsageSource(store ratelimit.Store, quotas map[Resource]float64) *RateLimitUsageSource {
	if quotas == nil {
		quotas = defaultQuotas
	}
	return &RateLimitUsageSource{store: store, quotas: quotas}
}

// Utilization implements UsageSource.
func (s *RateLimitUsageSource) Utilization(ctx context.Context, resource Resource, window time.Duration) (Utilization, error) {
	tw := windowFor(window)
	used, _, err := s.store.GetUsage(ctx, ratelimit.ScopeResource, string(resource), ratelimit.LimitTypeCount, tw)
	if err != nil {
		return Utilization{}, fmt.Errorf("priority: usage source: %w", err)
	}

	total := s.quotas[resource]
	if total == 0 {
		total = defaultQuotas[resource]
	}

	var percent float64
	if total > 0 {
		percent = (float64(used) / total) * 100
	}
	return Utilization{Used: float64(used), Total: total, Percent: percent}, nil
}

// RecordUsage adds amount to the rolling five-minute counter for a
// resource.
func (s *RateLimitUsageSource) RecordUsage(ctx context.Context, resource Resource, amount int64) error {
	_, _, err := s.store.IncrementUsage(ctx, ratelimit.ScopeResource, string(resource), ratelimit.LimitTypeCount, ratelimit.WindowFiveMinutes, amount)
	if err != nil {
		return fmt.Errorf("priority: record usage: %w", err)
	}
	return nil
}

func windowFor(d time.Duration) ratelimit.TimeWindow {
	switch d {
	case 5 * time.Minute:
		return ratelimit.WindowFiveMinutes
	case time.Minute:
		return ratelimit.WindowMinute
	case time.Hour:
		return ratelimit.WindowHour
	default:
		return ratelimit.WindowFiveMinutes
	}
}
