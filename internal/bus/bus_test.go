// File path: internal/bus/bus_test.go
package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPublishOrderPerTopic(t *testing.T) {
	b := New()
	sub := b.Subscribe(SessionTopic("S1"))
	defer sub.Unsubscribe()

	for i := 0; i < 10; i++ {
		b.Publish(SessionTopic("S1"), Message{Kind: "event", Data: i})
	}
	for i := 0; i < 10; i++ {
		select {
		case msg := <-sub.C():
			if msg.Data != i {
				t.Fatalf("expected %d in order, got %v", i, msg.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New()
	s1 := b.Subscribe(SessionTopic("S1"))
	defer s1.Unsubscribe()
	global := b.Subscribe(GlobalTopic)
	defer global.Unsubscribe()

	b.Publish(SessionTopic("S2"), Message{Kind: "event"})
	b.Publish(GlobalTopic, Message{Kind: "session:update"})

	select {
	case msg := <-global.C():
		if msg.Kind != "session:update" {
			t.Fatalf("unexpected global message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("global subscriber missed message")
	}
	select {
	case msg := <-s1.C():
		t.Fatalf("S1 subscriber received foreign message: %+v", msg)
	default:
	}
}

func TestFullQueueDropsForThatSubscriberOnly(t *testing.T) {
	b := NewWithQueueSize(2)
	slow := b.Subscribe("t")
	defer slow.Unsubscribe()
	fast := b.Subscribe("t")
	defer fast.Unsubscribe()

	// Drain fast while slow never reads.
	for i := 0; i < 5; i++ {
		b.Publish("t", Message{Kind: "m", Data: i})
		select {
		case msg := <-fast.C():
			if msg.Data != i {
				t.Fatalf("fast subscriber out of order at %d: %v", i, msg.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber starved at %d", i)
		}
	}
	// Slow got the first two, the rest were dropped.
	received := 0
	for {
		select {
		case <-slow.C():
			received++
			continue
		default:
		}
		break
	}
	if received != 2 {
		t.Fatalf("expected slow subscriber to keep 2 messages, got %d", received)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("t")
	sub.Unsubscribe()
	sub.Unsubscribe()
	if b.SubscriberCount("t") != 0 {
		t.Fatalf("expected topic cleaned up")
	}
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatalf("expected closed channel")
		}
	default:
		t.Fatalf("expected channel to be closed, not empty")
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			topic := SessionTopic(fmt.Sprintf("S%d", g%4))
			for i := 0; i < 50; i++ {
				sub := b.Subscribe(topic)
				b.Publish(topic, Message{Kind: "m", Data: i})
				sub.Unsubscribe()
			}
		}(g)
	}
	wg.Wait()
	for g := 0; g < 4; g++ {
		if count := b.SubscriberCount(SessionTopic(fmt.Sprintf("S%d", g))); count != 0 {
			t.Fatalf("leaked %d subscriptions on S%d", count, g)
		}
	}
}
