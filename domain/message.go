package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable chat event. Seq is a per-chat strictly increasing
// integer with no gaps, assigned atomically at persistence time. It is the
// sole total order for a chat.
type Message struct {
	ID       uuid.UUID
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Content  string
	Mentions []uuid.UUID
	ParentID *uuid.UUID
	SentAt   time.Time
	Seq      uint64
}
