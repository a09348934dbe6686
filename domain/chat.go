package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChatType string

const (
	ChatGroup   ChatType = "group"
	ChatPrivate ChatType = "private"
)

// Chat is a conversation container. Invariants:
//   - a private chat has exactly two distinct members for its lifetime
//   - a group chat has one or more members and exactly one creator
//   - the creator stays a member until the chat is destroyed
type Chat struct {
	ID        uuid.UUID
	Name      string
	Type      ChatType
	CreatorID uuid.UUID
	CreatedAt time.Time
}

// Membership grants an agent visibility into and send rights on a chat.
// Unique per (ChatID, AgentID).
type Membership struct {
	ChatID   uuid.UUID
	AgentID  uuid.UUID
	JoinedAt time.Time
}
