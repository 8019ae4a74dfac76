// File path: internal/bus/bus.go
//
// Package bus is the in-process publish/subscribe fabric. Topics are strings:
// "session:<id>" rooms carry every event for that session, "global" carries
// session summaries and administrative notifications, and schedulers use
// ad-hoc topics (e.g. "thread:ready:<id>") for internal signalling.
//
// Delivery is best effort within the process: publishers never block, and a
// subscriber whose queue is full loses the message. Late subscribers see only
// future messages; the realtime gateway compensates with explicit snapshots.
package bus

import (
	"sync"
)

// GlobalTopic receives session summaries and administrative notifications.
const GlobalTopic = "global"

// SessionTopic returns the room topic for one session.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

// ThreadReadyTopic returns the signalling topic used to deliver an answered
// follow-up question back to the insight scheduler.
func ThreadReadyTopic(questionID string) string {
	return "thread:ready:" + questionID
}

// Message is one published payload: a named kind plus arbitrary data.
type Message struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

const defaultQueueSize = 256

// Bus is a concurrency-safe topic registry. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	queue  int
}

// Subscription is one subscriber's delivery queue on a single topic.
type Subscription struct {
	bus    *Bus
	topic  string
	ch     chan Message
	once   sync.Once
	closed chan struct{}
}

// New constructs a Bus with the default per-subscriber queue size.
func New() *Bus {
	return NewWithQueueSize(defaultQueueSize)
}

// NewWithQueueSize constructs a Bus whose subscriber queues hold up to size
// undelivered messages each.
func NewWithQueueSize(size int) *Bus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Bus{
		topics: make(map[string]map[*Subscription]struct{}),
		queue:  size,
	}
}

// Subscribe registers a new subscription on the topic. The caller owns the
// subscription and must Unsubscribe when done.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		bus:    b,
		topic:  topic,
		ch:     make(chan Message, b.queue),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers the message to every current subscriber of the topic, in
// publish order per topic. Full subscriber queues drop the message for that
// subscriber only.
func (b *Bus) Publish(topic string, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			// Slow subscriber: drop. It recovers by re-polling the query API.
		}
	}
}

// C is the subscription's receive channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Topic reports the topic this subscription is attached to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe detaches the subscription and closes its channel. Safe to call
// more than once and concurrently with Publish.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		if subs, ok := b.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.topics, s.topic)
			}
		}
		b.mu.Unlock()
		close(s.closed)
		close(s.ch)
	})
}

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} {
	return s.closed
}

// SubscriberCount reports the live subscriptions on a topic. Intended for
// tests and diagnostics.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
