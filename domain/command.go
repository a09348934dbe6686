package domain

import (
	"github.com/google/uuid"
)

// SendMessageCommand is the intent of a member to post into a chat.
// Mentions lists structured references; the dispatcher reconciles them
// against current membership according to the configured policy.
type SendMessageCommand struct {
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Content  string
	Mentions []uuid.UUID
	ParentID *uuid.UUID
}

// HistoryQuery reads the persisted log of one chat in ascending sequence
// order, strictly after FromSeq, at most Limit rows.
type HistoryQuery struct {
	ChatID  uuid.UUID
	FromSeq uint64
	Limit   int
}
