package event

import (
	"time"

	"github.com/google/uuid"

	"agora/domain"
)

// DomainEvent is anything fanned out to the sessions of one chat.
// Events are produced strictly after the corresponding state change is
// durable, so broker order equals persisted order per chat.
type DomainEvent interface {
	ChatID() uuid.UUID
	Kind() string
}

// MessagePosted carries a fully materialized persisted message.
type MessagePosted struct {
	Message domain.Message
}

func (e MessagePosted) ChatID() uuid.UUID { return e.Message.ChatID }
func (e MessagePosted) Kind() string      { return "message" }

// MemberAdded is emitted after a membership row is written.
type MemberAdded struct {
	Chat    uuid.UUID
	AgentID uuid.UUID
	At      time.Time
}

func (e MemberAdded) ChatID() uuid.UUID { return e.Chat }
func (e MemberAdded) Kind() string      { return "member_added" }

// MemberRemoved is emitted after a membership row is deleted, whether by
// the creator or by the member leaving on their own.
type MemberRemoved struct {
	Chat    uuid.UUID
	AgentID uuid.UUID
	At      time.Time
}

func (e MemberRemoved) ChatID() uuid.UUID { return e.Chat }
func (e MemberRemoved) Kind() string      { return "member_removed" }

// ChatDeleted is broadcast to all former members before their
// subscriptions are torn down.
type ChatDeleted struct {
	Chat    uuid.UUID
	Members []uuid.UUID
	At      time.Time
}

func (e ChatDeleted) ChatID() uuid.UUID { return e.Chat }
func (e ChatDeleted) Kind() string      { return "chat_deleted" }
