// Package ws exposes the realtime surface: one WebSocket connection is
// one session. Frames are JSON text messages in both directions.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"agora/domain"
)

// ClientFrame is everything a client may send. Type selects the
// operation; unused fields stay empty.
type ClientFrame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"` // client correlation id, echoed back
	ChatID   string   `json:"chat_id,omitempty"`
	Content  string   `json:"content,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	ParentID string   `json:"parent_id,omitempty"`
	FromSeq  uint64   `json:"from_seq,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Client frame types.
const (
	FrameSend           = "send"
	FrameJoin           = "join_chat"
	FrameLeave          = "leave_chat"
	FrameHistoryRequest = "history_request"
	FramePing           = "ping"
)

// Server frame types.
const (
	FrameConnected         = "connected"
	FrameMessage           = "message"
	FrameAck               = "ack"
	FrameMembershipChanged = "membership_changed"
	FrameChatDeleted       = "chat_deleted"
	FrameHistoryPage       = "history"
	FramePong              = "pong"
	FrameError             = "error"
)

// ServerFrame is everything the server may send.
type ServerFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	ChatID   string            `json:"chat_id,omitempty"`
	Change   string            `json:"change,omitempty"` // member_added | member_removed
	At       *time.Time        `json:"at,omitempty"`
	Message  *MessagePayload   `json:"message,omitempty"`
	Messages []*MessagePayload `json:"messages,omitempty"`

	MessageID string `json:"message_id,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// MessagePayload mirrors a persisted message on the wire. Seq lets the
// client maintain its own watermark for resuming.
type MessagePayload struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	SenderID string    `json:"sender_id"`
	Content  string    `json:"content"`
	Mentions []string  `json:"mentions,omitempty"`
	ParentID *string   `json:"parent_id,omitempty"`
	SentAt   time.Time `json:"sent_at"`
	Seq      uint64    `json:"seq"`
}

func toPayload(m domain.Message) *MessagePayload {
	payload := &MessagePayload{
		ID:       m.ID.String(),
		ChatID:   m.ChatID.String(),
		SenderID: m.SenderID.String(),
		Content:  m.Content,
		Mentions: lo.Map(m.Mentions, func(id uuid.UUID, _ int) string { return id.String() }),
		SentAt:   m.SentAt,
		Seq:      m.Seq,
	}
	if m.ParentID != nil {
		parent := m.ParentID.String()
		payload.ParentID = &parent
	}
	return payload
}

func messageFrame(m domain.Message) ServerFrame {
	return ServerFrame{Type: FrameMessage, ChatID: m.ChatID.String(), Message: toPayload(m)}
}

func errorFrame(correlationID, code, message string) ServerFrame {
	return ServerFrame{Type: FrameError, ID: correlationID, Code: code, Error: message}
}
