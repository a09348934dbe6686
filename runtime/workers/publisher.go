package workers

import (
	"context"
	"log/slog"
	"time"

	"agora/contract"
	"agora/observability"
	"agora/runtime"
)

// PublisherWorker drains the dispatcher outbox and pushes events to the
// broker. A transient broker outage is absorbed with retries and
// exponential backoff; an event that still cannot be published is
// dropped, since every consumer converges again through catch-up.
type PublisherWorker struct {
	log     *slog.Logger
	broker  contract.Broker
	outbox  <-chan runtime.OutboxEntry
	monitor *observability.Monitor

	backoff    time.Duration
	backoffMax time.Duration
	retries    int
}

func NewPublisherWorker(log *slog.Logger, broker contract.Broker,
	outbox <-chan runtime.OutboxEntry, monitor *observability.Monitor,
	backoff, backoffMax time.Duration, retries int) *PublisherWorker {
	return &PublisherWorker{
		log:        log,
		broker:     broker,
		outbox:     outbox,
		monitor:    monitor,
		backoff:    backoff,
		backoffMax: backoffMax,
		retries:    retries,
	}
}

func (w *PublisherWorker) Run(ctx context.Context) error {
	w.log.Info("Starting publisher worker")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.outbox:
			if err := w.publish(ctx, entry); err != nil {
				w.monitor.PublishFailures.Add(1)
				w.log.Error("Dropping event after retries exhausted",
					"topic", entry.Topic, "kind", entry.Event.Kind(), "error", err)
				continue
			}
			w.monitor.Published.Add(1)
		}
	}
}

func (w *PublisherWorker) publish(ctx context.Context, entry runtime.OutboxEntry) error {
	backoff := w.backoff
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if err = w.broker.Publish(ctx, entry.Topic, entry.Event); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.backoffMax)
	}
	return err
}
