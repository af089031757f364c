package vault

import (
	"testing"
	"time"

	"github.com/ecoachlabs/ideamind-sub006/pkg/events"
)

func TestBrokerWildcardSubscriptionMatches(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("memory.delta.*")
	defer b.Unsubscribe(sub)

	b.PublishDelta(events.MemoryDeltaCreated, "run-1", Frame{ID: "frame_1", Theme: "x"})

	select {
	case evt := <-sub.C():
		if evt.Type != events.MemoryDeltaCreated {
			t.Fatalf("Broker: got type %v, want %v", evt.Type, events.MemoryDeltaCreated)
		}
	case <-time.After(time.Second):
		t.Fatal("Broker: expected wildcard subscriber to receive the event")
	}
}

func TestBrokerExactSubscriptionDoesNotReceiveOtherTopics(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(string(events.MemoryFrameInvalidated))
	defer b.Unsubscribe(sub)

	b.PublishDelta(events.MemoryDeltaCreated, "run-1", Frame{ID: "frame_1"})

	select {
	case <-sub.C():
		t.Fatal("Broker: subscriber for a different exact topic should not receive this event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("memory.delta.*")
	b.Unsubscribe(sub)

	if _, ok := <-sub.C(); ok {
		t.Fatal("Broker: channel should be closed after Unsubscribe")
	}
}
