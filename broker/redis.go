package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"agora/contract"
	"agora/domain/event"
	"agora/errors"
)

const subscriptionBuffer = 64

// RedisBroker fans events out over redis Pub/Sub, one channel per topic.
// Redis preserves per-channel publish order, which keeps broker order
// equal to persisted order for a chat.
type RedisBroker struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisBroker(ctx context.Context, url string, log *slog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w: %v", errors.ErrBrokerUnavailable, err)
	}
	return &RedisBroker{client: client, log: log}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, e event.DomainEvent) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w: %v", topic, errors.ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (contract.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	// Confirm the subscription before reporting success; a dead redis
	// must surface here, not as a silent delivery gap.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w: %v", topic, errors.ErrBrokerUnavailable, err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan event.DomainEvent, subscriptionBuffer),
	}
	go sub.run(ctx, b.log, topic)
	return sub, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan event.DomainEvent
}

func (s *redisSubscription) Events() <-chan event.DomainEvent { return s.events }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }

// run pumps decoded events until the subscription dies. The events
// channel is closed on any receive error: messages may have been lost,
// so the consumer must resubscribe and run catch-up.
func (s *redisSubscription) run(ctx context.Context, log *slog.Logger, topic string) {
	defer close(s.events)
	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("broker subscription lost", "topic", topic, "error", err)
			}
			return
		}
		e, err := Decode([]byte(msg.Payload))
		if err != nil {
			log.Warn("dropping undecodable broker event", "topic", topic, "error", err)
			continue
		}
		select {
		case s.events <- e:
		case <-ctx.Done():
			return
		}
	}
}
