package vault

import (
	"context"
	"fmt"
	"log/slog"
)

// Admin exposes the vault's administrative operations: adjusting a
// frame's TTL, pinning it against expiry, and forgetting frames under
// an audited reason.
type Admin struct {
	store  *Store
	broker *Broker
	logger *slog.Logger
}

// NewAdmin constructs an Admin over store, publishing invalidation
// events through broker.
func NewAdmin(store *Store, broker *Broker, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{store: store, broker: broker, logger: logger}
}

// UpdateTTL sets a frame's TTL in milliseconds; ttlMS of 0 clears it.
func (a *Admin) UpdateTTL(ctx context.Context, frameID string, ttlMS int64) error {
	var ttl *int64
	if ttlMS > 0 {
		ttl = &ttlMS
	}
	if err := a.store.UpdateTTL(ctx, frameID, ttl); err != nil {
		return fmt.Errorf("vault: admin update ttl: %w", err)
	}
	return nil
}

// Pin marks a frame as pinned, exempting it from TTL expiry and Forget.
func (a *Admin) Pin(ctx context.Context, frameID string) error {
	if err := a.store.SetPinned(ctx, frameID, true); err != nil {
		return fmt.Errorf("vault: admin pin: %w", err)
	}
	return nil
}

// Unpin clears a frame's pinned flag.
func (a *Admin) Unpin(ctx context.Context, frameID string) error {
	if err := a.store.SetPinned(ctx, frameID, false); err != nil {
		return fmt.Errorf("vault: admin unpin: %w", err)
	}
	return nil
}

// Forget deletes the named frames under an audited reason. Pinned
// frames are skipped, never deleted, and reported back to the caller
// so an operator notices the no-op.
func (a *Admin) Forget(ctx context.Context, runID string, frameIDs []string, reason string) (deleted, skipped []string, err error) {
	if reason == "" {
		return nil, nil, fmt.Errorf("vault: forget requires a reason")
	}

	for _, id := range frameIDs {
		f, getErr := a.store.GetFrame(ctx, id)
		if getErr != nil {
			return deleted, skipped, fmt.Errorf("vault: forget %s: %w", id, getErr)
		}
		if f.Pinned {
			skipped = append(skipped, id)
			continue
		}
		if err := a.store.DeleteFrame(ctx, id); err != nil {
			return deleted, skipped, fmt.Errorf("vault: forget %s: %w", id, err)
		}
		deleted = append(deleted, id)
		a.logger.Info("vault: frame forgotten", "frame_id", id, "reason", reason, "run_id", runID)
		if a.broker != nil {
			a.broker.PublishFrameInvalidated(runID, id, reason)
		}
	}

	if len(skipped) > 0 {
		a.logger.Warn("vault: forget skipped pinned frames", "skipped", skipped, "reason", reason)
	}
	return deleted, skipped, nil
}

// PromotePolicy widens a frame's scope (e.g. run -> tenant) and
// publishes memory.policy.promoted.
func (a *Admin) PromotePolicy(ctx context.Context, runID, frameID string, newScope Scope) error {
	f, err := a.store.GetFrame(ctx, frameID)
	if err != nil {
		return fmt.Errorf("vault: promote policy: %w", err)
	}
	f.Scope = newScope
	if err := a.store.UpsertFrame(ctx, f); err != nil {
		return fmt.Errorf("vault: promote policy: %w", err)
	}
	if a.broker != nil {
		a.broker.PublishPolicyPromoted(runID, f)
	}
	return nil
}
