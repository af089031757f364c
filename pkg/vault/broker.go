package vault

import (
	"strings"
	"sync"

	"github.com/ecoachlabs/ideamind-sub006/pkg/events"
)

// topicPattern is a dot-separated topic, optionally ending in ".*" to
// match every topic that starts with the part before the "*", at any
// depth (e.g. "memory.delta.*" matches "memory.delta.created").
type topicPattern string

func (p topicPattern) matches(topic string) bool {
	pat := string(p)
	if strings.HasSuffix(pat, ".*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pat, "*"))
	}
	return pat == topic
}

type subscription struct {
	id      uint64
	pattern topicPattern
	ch      chan events.Event
}

// Broker is the vault's pub/sub dispatcher. Subscribers register a
// topic pattern (an exact topic or a wildcard like "memory.delta.*")
// and receive every published event whose topic matches it.
type Broker struct {
	mu   sync.RWMutex
	subs []*subscription
	next uint64
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Subscription is a handle returned by Subscribe, used to Unsubscribe later.
type Subscription struct {
	id     uint64
	broker *Broker
	ch     chan events.Event
}

// C returns the channel events matching the subscription arrive on.
func (s *Subscription) C() <-chan events.Event {
	return s.ch
}

// Subscribe registers a new subscriber for a topic pattern. The
// returned channel is buffered; publishes to a full channel are dropped
// rather than blocking the publisher.
func (b *Broker) Subscribe(pattern string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &subscription{id: b.next, pattern: topicPattern(pattern), ch: make(chan events.Event, 64)}
	b.subs = append(b.subs, sub)
	return &Subscription{id: sub.id, broker: b, ch: sub.ch}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == s.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish dispatches an event to every subscription whose pattern
// matches topic.
func (b *Broker) Publish(topic string, evt events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.pattern.matches(topic) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// PublishDelta publishes a memory.delta.{created,updated,deleted} event
// for a frame mutation.
func (b *Broker) PublishDelta(t events.Type, runID string, f Frame) {
	payload := events.MemoryDeltaPayload{FrameID: f.ID, Scope: string(f.Scope), Theme: f.Theme}
	b.Publish(string(t), events.New(t, runID, payload))
}

// PublishPolicyPromoted publishes memory.policy.promoted when a frame's
// scope is widened (e.g. run -> tenant) by policy.
func (b *Broker) PublishPolicyPromoted(runID string, f Frame) {
	payload := events.MemoryPolicyPromotedPayload{FrameID: f.ID, Scope: string(f.Scope)}
	b.Publish(string(events.MemoryPolicyPromoted), events.New(events.MemoryPolicyPromoted, runID, payload))
}

// PublishFrameInvalidated publishes memory.frame.invalidated when a
// frame is forgotten or fails revalidation.
func (b *Broker) PublishFrameInvalidated(runID, frameID, reason string) {
	payload := events.MemoryFrameInvalidatedPayload{FrameID: frameID, Reason: reason}
	b.Publish(string(events.MemoryFrameInvalidated), events.New(events.MemoryFrameInvalidated, runID, payload))
}

// Close unsubscribes and closes every open subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
