package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"agora/broker"
	"agora/contract"
	"agora/domain"
	"agora/domain/event"
	"agora/errors"
	"agora/observability"
	"agora/runtime"
)

// flakyBroker fails the first failures publishes, then delegates to the
// real memory broker.
type flakyBroker struct {
	*broker.MemoryBroker
	failures atomic.Int64
}

func (b *flakyBroker) Publish(ctx context.Context, topic string, e event.DomainEvent) error {
	if b.failures.Load() > 0 {
		b.failures.Add(-1)
		return errors.ErrBrokerUnavailable
	}
	return b.MemoryBroker.Publish(ctx, topic, e)
}

func startPublisher(t *testing.T, b contract.Broker, retries int) (chan runtime.OutboxEntry, *observability.Monitor) {
	t.Helper()
	log := slog.Default()
	monitor := observability.NewMonitor(log)
	outbox := make(chan runtime.OutboxEntry, 16)
	worker := NewPublisherWorker(log, b, outbox, monitor,
		5*time.Millisecond, 20*time.Millisecond, retries)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return outbox, monitor
}

func Test_Publisher_Drains_Outbox_To_Broker(t *testing.T) {
	req := require.New(t)
	memBroker := broker.NewMemoryBroker(slog.Default())
	outbox, monitor := startPublisher(t, memBroker, 3)

	chatID := uuid.New()
	topic := broker.ChatTopic(chatID)
	sub, err := memBroker.Subscribe(context.Background(), topic)
	req.NoError(err)
	defer sub.Close()

	outbox <- runtime.OutboxEntry{Topic: topic, Event: event.MessagePosted{
		Message: domain.Message{ChatID: chatID, Seq: 1},
	}}

	select {
	case e := <-sub.Events():
		posted, ok := e.(event.MessagePosted)
		req.True(ok)
		req.Equal(uint64(1), posted.Message.Seq)
	case <-time.After(time.Second):
		req.FailNow("expected the outbox entry on the broker")
	}
	req.Eventually(func() bool { return monitor.Published.Load() == 1 },
		time.Second, 10*time.Millisecond)
}

func Test_Publisher_Retries_Through_Transient_Outage(t *testing.T) {
	req := require.New(t)
	flaky := &flakyBroker{MemoryBroker: broker.NewMemoryBroker(slog.Default())}
	flaky.failures.Store(2)
	outbox, monitor := startPublisher(t, flaky, 3)

	chatID := uuid.New()
	topic := broker.ChatTopic(chatID)
	sub, err := flaky.MemoryBroker.Subscribe(context.Background(), topic)
	req.NoError(err)
	defer sub.Close()

	outbox <- runtime.OutboxEntry{Topic: topic, Event: event.MessagePosted{
		Message: domain.Message{ChatID: chatID, Seq: 7},
	}}

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		req.FailNow("publish should have succeeded after retries")
	}
	req.Zero(monitor.PublishFailures.Load())
}

func Test_Publisher_Drops_After_Retries_Exhausted(t *testing.T) {
	req := require.New(t)
	flaky := &flakyBroker{MemoryBroker: broker.NewMemoryBroker(slog.Default())}
	flaky.failures.Store(100)
	outbox, monitor := startPublisher(t, flaky, 2)

	outbox <- runtime.OutboxEntry{Topic: "chat:events:x", Event: event.MessagePosted{
		Message: domain.Message{Seq: 1},
	}}

	// The entry is dropped, counted, and the worker moves on
	req.Eventually(func() bool { return monitor.PublishFailures.Load() == 1 },
		time.Second, 10*time.Millisecond)
	req.Zero(monitor.Published.Load())
}
