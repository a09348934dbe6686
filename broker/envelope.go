// Package broker adapts the fan-out of domain events across server
// processes. The redis implementation carries events between processes;
// the memory implementation serves tests and single-node deployments.
package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agora/domain"
	"agora/domain/event"
)

// ChatTopic is the per-chat fan-out channel. Publish happens after
// commit, so per-topic order equals persisted sequence order.
func ChatTopic(chatID uuid.UUID) string {
	return "chat:events:" + chatID.String()
}

// AgentTopic carries agent-directed notifications, such as being added
// to a chat the agent is not yet subscribed to.
func AgentTopic(agentID uuid.UUID) string {
	return "agent:notify:" + agentID.String()
}

type envelope struct {
	Kind    string       `json:"kind"`
	Chat    uuid.UUID    `json:"chat_id"`
	Agent   uuid.UUID    `json:"agent_id,omitempty"`
	Members []uuid.UUID  `json:"members,omitempty"`
	At      time.Time    `json:"at,omitempty"`
	Message *wireMessage `json:"message,omitempty"`
}

type wireMessage struct {
	ID       uuid.UUID   `json:"id"`
	ChatID   uuid.UUID   `json:"chat_id"`
	SenderID uuid.UUID   `json:"sender_id"`
	Content  string      `json:"content"`
	Mentions []uuid.UUID `json:"mentions,omitempty"`
	ParentID *uuid.UUID  `json:"parent_id,omitempty"`
	SentAt   time.Time   `json:"sent_at"`
	Seq      uint64      `json:"seq"`
}

func Encode(e event.DomainEvent) ([]byte, error) {
	env := envelope{Kind: e.Kind(), Chat: e.ChatID()}
	switch evt := e.(type) {
	case event.MessagePosted:
		env.Message = &wireMessage{
			ID:       evt.Message.ID,
			ChatID:   evt.Message.ChatID,
			SenderID: evt.Message.SenderID,
			Content:  evt.Message.Content,
			Mentions: evt.Message.Mentions,
			ParentID: evt.Message.ParentID,
			SentAt:   evt.Message.SentAt,
			Seq:      evt.Message.Seq,
		}
	case event.MemberAdded:
		env.Agent = evt.AgentID
		env.At = evt.At
	case event.MemberRemoved:
		env.Agent = evt.AgentID
		env.At = evt.At
	case event.ChatDeleted:
		env.Members = evt.Members
		env.At = evt.At
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind())
	}
	return json.Marshal(env)
}

func Decode(data []byte) (event.DomainEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case "message":
		if env.Message == nil {
			return nil, fmt.Errorf("message envelope without payload")
		}
		return event.MessagePosted{Message: domain.Message{
			ID:       env.Message.ID,
			ChatID:   env.Message.ChatID,
			SenderID: env.Message.SenderID,
			Content:  env.Message.Content,
			Mentions: env.Message.Mentions,
			ParentID: env.Message.ParentID,
			SentAt:   env.Message.SentAt,
			Seq:      env.Message.Seq,
		}}, nil
	case "member_added":
		return event.MemberAdded{Chat: env.Chat, AgentID: env.Agent, At: env.At}, nil
	case "member_removed":
		return event.MemberRemoved{Chat: env.Chat, AgentID: env.Agent, At: env.At}, nil
	case "chat_deleted":
		return event.ChatDeleted{Chat: env.Chat, Members: env.Members, At: env.At}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
