package workers

import (
	"context"
	"log/slog"

	"agora/domain"
	"agora/repositories"
)

// IndexerWorker feeds persisted messages to the full-text index. The
// index is a projection: a failed write is logged and skipped, never
// retried, because search results tolerate a missing row while the
// message log stays authoritative.
type IndexerWorker struct {
	log    *slog.Logger
	search repositories.ISearchRepository
	queue  <-chan domain.Message
}

func NewIndexerWorker(log *slog.Logger, search repositories.ISearchRepository,
	queue <-chan domain.Message) *IndexerWorker {
	return &IndexerWorker{log: log, search: search, queue: queue}
}

func (w *IndexerWorker) Run(ctx context.Context) error {
	w.log.Info("Starting indexer worker")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-w.queue:
			if err := w.search.Index(message); err != nil {
				w.log.Error("Failed to index message", "message_id", message.ID, "error", err)
			}
		}
	}
}
