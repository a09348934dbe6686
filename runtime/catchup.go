package runtime

import (
	"context"

	"github.com/google/uuid"

	"agora/domain"
	"agora/observability"
	"agora/repositories"
)

// Catchup replays the persisted gap between a session's watermark and
// the current tail of a chat. Pages are bounded so a long gap never
// loads unbounded memory. The caller subscribes to live events before
// replaying and deduplicates the handoff by sequence number, so the
// concatenation of replay and live stream has no gap and no duplicate.
type Catchup struct {
	messages repositories.IMessageRepository
	pageSize int
	monitor  *observability.Monitor
}

func NewCatchup(messages repositories.IMessageRepository, pageSize int,
	monitor *observability.Monitor) Catchup {
	return Catchup{messages: messages, pageSize: pageSize, monitor: monitor}
}

// Replay delivers every persisted message with sequence strictly greater
// than after, in ascending order, and returns the last delivered
// sequence (or after when the log had nothing newer).
func (c Catchup) Replay(ctx context.Context, chatID uuid.UUID, after uint64,
	deliver func(domain.Message) error) (uint64, error) {

	last := after
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		page, err := c.messages.Read(domain.HistoryQuery{
			ChatID:  chatID,
			FromSeq: last,
			Limit:   c.pageSize,
		})
		if err != nil {
			return last, err
		}
		for _, message := range page {
			if err := deliver(message); err != nil {
				return last, err
			}
			last = message.Seq
			c.monitor.CatchupReplayed.Add(1)
		}
		if len(page) < c.pageSize {
			return last, nil
		}
	}
}
