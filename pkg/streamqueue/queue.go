// Package streamqueue implements the Job Queue: an append-only stream
// with consumer groups, pending-entry claim/recovery, and idempotence
// dedup, backed by etcd's ordered, lease-capable KV store.
//
// A topic's messages live under key prefix "queue/{topic}/msgs/"; each
// message's key is the zero-padded revision of the write that first
// appended it, so a range scan yields append order. A consumer group's
// claimed-but-unacked entries live under
// "queue/{topic}/groups/{group}/pending/{msgRev}", msgRev being the
// message key's current etcd revision,
// with a lease whose TTL is the visibility timeout — when a worker
// dies without acking, the lease expires and the entry becomes
// claimable again. The dedup side-channel is a single key per
// idempotence key, also lease-backed, under "queue/{topic}/idem/{key}".
package streamqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ecoachlabs/ideamind-sub006/pkg/idempotence"
	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
)

// Message is the queue payload: idempotence key, serialized TaskSpec, timestamp.
type Message struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler processes one delivered message. A non-nil error leaves the
// message in the pending-entries list for claim/recovery.
type Handler func(ctx context.Context, msg Message) error

// Config configures queue behavior (spec §6's WorkerPool config, the
// queue-owned subset of it).
type Config struct {
	// VisibilityTTL is how long a claimed-but-unacked message stays
	// invisible to other consumers before its lease expires and it
	// becomes claimable again.
	VisibilityTTL time.Duration // default 30s

	// MaxDeliveries bounds redelivery attempts before a message should
	// be routed to a dead-letter path. Reserved: callers track delivery
	// counts via the Task Repository's retry count today.
	MaxDeliveries int // default 5

	// ClaimBatchSize is how many new messages claimNewMessages claims per pass.
	ClaimBatchSize int // default 10

	IdempotenceTTL time.Duration // default 24h
	BlockTime      time.Duration // default 5s
}

func (c *Config) setDefaults() {
	if c.VisibilityTTL == 0 {
		c.VisibilityTTL = 30 * time.Second
	}
	if c.MaxDeliveries == 0 {
		c.MaxDeliveries = 5
	}
	if c.ClaimBatchSize == 0 {
		c.ClaimBatchSize = 10
	}
	if c.IdempotenceTTL == 0 {
		c.IdempotenceTTL = 24 * time.Hour
	}
	if c.BlockTime == 0 {
		c.BlockTime = 5 * time.Second
	}
}

// Queue is a Job Queue bound to one etcd client.
type Queue struct {
	client *clientv3.Client
	cfg    Config
	obs    *observability.Manager
}

// New connects a Queue to the given etcd endpoints.
func New(endpoints []string, cfg Config) (*Queue, error) {
	cfg.setDefaults()
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("streamqueue: connect: %w", err)
	}
	return &Queue{client: client, cfg: cfg}, nil
}

// WithObservability attaches a Manager used to trace and instrument
// this Queue's consume loop. Nil is safe and disables both.
func (q *Queue) WithObservability(obs *observability.Manager) *Queue {
	q.obs = obs
	return q
}

// Close releases the underlying etcd client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func msgPrefix(topic string) string      { return "queue/" + topic + "/msgs/" }
func idemKey(topic, key string) string   { return "queue/" + topic + "/idem/" + key }
func groupPending(topic, group string) string {
	return "queue/" + topic + "/groups/" + group + "/pending/"
}
func pendingKey(topic, group, msgRev string) string {
	return groupPending(topic, group) + msgRev
}
func groupAcked(topic, group string) string {
	return "queue/" + topic + "/groups/" + group + "/acked/"
}
func ackedKey(topic, group, msgRev string) string {
	return groupAcked(topic, group) + msgRev
}

// Enqueue derives key from (topic, msg) if absent, checks the dedup
// side-channel, and appends {key, payload, timestamp} to topic's
// stream. Returns ("", nil) for a detected duplicate (spec's "return
// null").
func (q *Queue) Enqueue(ctx context.Context, topic string, payload any, key string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("streamqueue: marshal payload: %w", err)
	}
	if key == "" {
		key, err = idempotence.OfMessage(topic, payload)
		if err != nil {
			return "", err
		}
	}

	lease, err := q.client.Grant(ctx, int64(q.cfg.IdempotenceTTL.Seconds()))
	if err != nil {
		return "", fmt.Errorf("streamqueue: grant idempotence lease: %w", err)
	}

	msg := Message{Key: key, Payload: raw, Timestamp: time.Now().UTC()}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("streamqueue: marshal message: %w", err)
	}

	// Reserve the dedup key first-write-wins; only on success do we append.
	dedup := idemKey(topic, key)
	txn := q.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(dedup), "=", 0)).
		Then(clientv3.OpPut(dedup, "", clientv3.WithLease(lease.ID)))
	resp, err := txn.Commit()
	if err != nil {
		return "", fmt.Errorf("streamqueue: dedup txn: %w", err)
	}
	if !resp.Succeeded {
		// Duplicate: release the unused lease and report no-op.
		_, _ = q.client.Revoke(ctx, lease.ID)
		return "", nil
	}

	put, err := q.client.Put(ctx, msgPrefix(topic)+"pending", string(msgBytes))
	if err != nil {
		return "", fmt.Errorf("streamqueue: append: %w", err)
	}
	messageID := strconv.FormatInt(put.Header.Revision, 10)

	// Re-key the message under its own creation revision so range scans
	// in append order are possible without a separate index.
	finalKey := msgPrefix(topic) + pad(put.Header.Revision)
	if _, err := q.client.Put(ctx, finalKey, string(msgBytes)); err != nil {
		return "", fmt.Errorf("streamqueue: re-key message: %w", err)
	}
	_, _ = q.client.Delete(ctx, msgPrefix(topic)+"pending")

	if _, err := q.client.Put(ctx, dedup, messageID, clientv3.WithLease(lease.ID)); err != nil {
		// The KV failure after append is fatal for this enqueue per spec §4.1;
		// the duplicate window for the key is bounded by the lease TTL.
		return "", fmt.Errorf("streamqueue: record idempotence mapping: %w", err)
	}

	return messageID, nil
}

func pad(rev int64) string {
	return fmt.Sprintf("%020d", rev)
}

// GetQueueDepth returns the number of messages appended to topic.
func (q *Queue) GetQueueDepth(ctx context.Context, topic string) (int64, error) {
	resp, err := q.client.Get(ctx, msgPrefix(topic), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("streamqueue: queue depth %s: %w", topic, err)
	}
	return resp.Count, nil
}

// EnsureGroup is the auto-create-with-ignore-already-exists step of
// consume's setup; etcd has no group object to create, so this only
// validates inputs (kept as a named step to preserve the API contract).
func (q *Queue) EnsureGroup(topic, group string) error {
	if topic == "" || group == "" {
		return fmt.Errorf("streamqueue: topic and group are required")
	}
	return nil
}

// Consume runs the cooperative consumer loop described in spec §4.1
// until ctx is cancelled: block-read up to ClaimBatchSize new messages,
// invoke handler per message, ack on success, leave in the
// pending-entries list on failure. On transient errors it backs off
// 1s and retries.
func (q *Queue) Consume(ctx context.Context, topic, group, consumer string, handler Handler) error {
	if err := q.EnsureGroup(topic, group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		delivered, err := q.claimNewMessages(ctx, topic, group, consumer)
		if err != nil {
			slog.Warn("streamqueue: consume loop error, backing off", "topic", topic, "group", group, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if len(delivered) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.cfg.BlockTime):
			}
			continue
		}

		tracer := q.obs.Tracer()
		consumeCtx, span := tracer.StartQueueConsume(ctx, topic, group, consumer)

		for _, d := range delivered {
			if err := handler(consumeCtx, d.msg); err != nil {
				slog.Warn("streamqueue: handler failed, leaving in PEL", "topic", topic, "msg_rev", d.rev, "error", err)
				continue
			}
			// Record the ack permanently before clearing the in-flight
			// lease, so a claim that races the delete below still sees
			// the message as settled instead of redelivering it forever.
			if _, err := q.client.Put(ctx, ackedKey(topic, group, d.rev), consumer); err != nil {
				slog.Warn("streamqueue: ack marker write failed", "topic", topic, "msg_rev", d.rev, "error", err)
			}
			if _, err := q.client.Delete(ctx, pendingKey(topic, group, d.rev)); err != nil {
				slog.Warn("streamqueue: ack failed", "topic", topic, "msg_rev", d.rev, "error", err)
			}
		}
		span.End()
	}
}

type delivery struct {
	rev string
	msg Message
}

// claimNewMessages scans up to ClaimBatchSize messages this consumer
// has not yet claimed into the group's pending-entries list, and
// claims them with a lease equal to the visibility timeout.
func (q *Queue) claimNewMessages(ctx context.Context, topic, group, consumer string) ([]delivery, error) {
	resp, err := q.client.Get(ctx, msgPrefix(topic), clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}

	var out []delivery
	for _, kv := range resp.Kvs {
		if len(out) >= q.cfg.ClaimBatchSize {
			break
		}
		rev := strconv.FormatInt(kv.ModRevision, 10)
		pk := pendingKey(topic, group, rev)

		acked, err := q.client.Get(ctx, ackedKey(topic, group, rev))
		if err != nil {
			return nil, err
		}
		if len(acked.Kvs) > 0 {
			continue // this group already processed this message
		}

		existing, err := q.client.Get(ctx, pk)
		if err != nil {
			return nil, err
		}
		if len(existing.Kvs) > 0 {
			continue // already claimed (live lease) by some consumer
		}

		lease, err := q.client.Grant(ctx, int64(q.cfg.VisibilityTTL.Seconds()))
		if err != nil {
			return nil, err
		}
		txn := q.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(pk), "=", 0)).
			Then(clientv3.OpPut(pk, consumer, clientv3.WithLease(lease.ID)))
		txnResp, err := txn.Commit()
		if err != nil {
			return nil, err
		}
		if !txnResp.Succeeded {
			continue // lost the race to another consumer
		}

		var msg Message
		if err := json.Unmarshal(kv.Value, &msg); err != nil {
			slog.Warn("streamqueue: dropping unparseable message", "topic", topic, "rev", rev, "error", err)
			continue
		}
		out = append(out, delivery{rev: rev, msg: msg})
	}
	return out, nil
}

func heartbeatKey(taskID string) string { return "heartbeat:" + taskID }

// WriteHeartbeat writes heartbeat:{taskId} = {workerId, ts} with a
// 5-minute TTL lease, the KV half of a Worker's liveness signal (the
// other half is the Task Repository's last_heartbeat_at column).
func (q *Queue) WriteHeartbeat(ctx context.Context, taskID, workerID string) error {
	lease, err := q.client.Grant(ctx, 300)
	if err != nil {
		return fmt.Errorf("streamqueue: grant heartbeat lease: %w", err)
	}
	payload, err := json.Marshal(map[string]any{"workerId": workerID, "ts": time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("streamqueue: marshal heartbeat: %w", err)
	}
	if _, err := q.client.Put(ctx, heartbeatKey(taskID), string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("streamqueue: write heartbeat %s: %w", taskID, err)
	}
	return nil
}

// ClaimPending claims pending entries older than minIdle so a
// surviving worker takes over after a crash, and returns the count
// reclaimed. Because pending entries carry a lease equal to the
// visibility timeout, an entry whose lease has already expired simply
// no longer exists — ClaimPending instead targets entries that are
// still live but idle past minIdle by re-arming their lease for the
// new consumer, which only a caller holding evidence of staleness
// (e.g. a stalled-task sweep) should invoke.
func (q *Queue) ClaimPending(ctx context.Context, topic, group, consumer string, minIdle time.Duration) (int, error) {
	resp, err := q.client.Get(ctx, groupPending(topic, group), clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("streamqueue: claim pending: %w", err)
	}

	claimed := 0
	for _, kv := range resp.Kvs {
		leaseResp, err := q.client.TimeToLive(ctx, clientv3.LeaseID(kv.Lease))
		if err != nil {
			continue
		}
		grantedAt := time.Duration(leaseResp.GrantedTTL) * time.Second
		remaining := time.Duration(leaseResp.TTL) * time.Second
		idle := grantedAt - remaining
		if idle < minIdle {
			continue
		}

		lease, err := q.client.Grant(ctx, int64(q.cfg.VisibilityTTL.Seconds()))
		if err != nil {
			continue
		}
		if _, err := q.client.Put(ctx, string(kv.Key), consumer, clientv3.WithLease(lease.ID)); err != nil {
			continue
		}
		claimed++
	}
	return claimed, nil
}
