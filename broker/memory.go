package broker

import (
	"context"
	"log/slog"
	"sync"

	"agora/contract"
	"agora/domain/event"
)

// MemoryBroker is an in-process fan-out over channels, one subscriber
// list per topic. Per-topic order is the publish order. It backs tests
// and single-node deployments where redis would be dead weight.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string][]*memorySubscription
	log    *slog.Logger
}

func NewMemoryBroker(log *slog.Logger) *MemoryBroker {
	return &MemoryBroker{topics: make(map[string][]*memorySubscription), log: log}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, e event.DomainEvent) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.send(e) {
			// A subscriber that cannot keep up loses its subscription;
			// silently skipping events would break the no-gap guarantee.
			// The closed channel tells the consumer to resubscribe and
			// catch up.
			b.log.Warn("memory broker subscriber overflow, dropping subscription", "topic", topic)
			sub.close()
			b.remove(topic, sub)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (contract.Subscription, error) {
	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		events: make(chan event.DomainEvent, subscriptionBuffer),
	}
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()
	return sub, nil
}

// Subscribers reports how many live subscriptions a topic has. Callers
// use it to wait for a consumer before publishing, since an in-process
// broker has no durable delivery.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *MemoryBroker) remove(topic string, sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s == sub {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string

	mu     sync.Mutex
	closed bool
	events chan event.DomainEvent
}

func (s *memorySubscription) Events() <-chan event.DomainEvent { return s.events }

func (s *memorySubscription) Close() error {
	s.broker.remove(s.topic, s)
	s.close()
	return nil
}

// send reports false only on overflow; a closed subscription swallows
// the event because its consumer is already gone.
func (s *memorySubscription) send(e event.DomainEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

func (s *memorySubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
