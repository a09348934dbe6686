package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"agora/domain"
	"agora/errors"
)

const maxHistoryLimit = 500

type createChatRequest struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Members []string `json:"members"`
}

type chatResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

type membershipResponse struct {
	ChatID   string    `json:"chat_id"`
	AgentID  string    `json:"agent_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type addMemberRequest struct {
	AgentID string `json:"agent_id"`
}

type sendMessageRequest struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions"`
	ParentID string   `json:"parent_id"`
}

type messageResponse struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	SenderID string    `json:"sender_id"`
	Content  string    `json:"content"`
	Mentions []string  `json:"mentions,omitempty"`
	ParentID *string   `json:"parent_id,omitempty"`
	SentAt   time.Time `json:"sent_at"`
	Seq      uint64    `json:"seq"`
}

func toChatResponse(chat domain.Chat) chatResponse {
	return chatResponse{
		ID:        chat.ID.String(),
		Name:      chat.Name,
		Type:      string(chat.Type),
		CreatorID: chat.CreatorID.String(),
		CreatedAt: chat.CreatedAt,
	}
}

func toMessageResponse(m domain.Message) messageResponse {
	resp := messageResponse{
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
		resp.ParentID = &parent
	}
	return resp
}

func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	members := make([]uuid.UUID, 0, len(req.Members))
	for _, raw := range req.Members {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, fmt.Errorf("invalid member id %q: %w", raw, errors.ErrValidation))
			return
		}
		members = append(members, id)
	}

	chat, err := h.chatSvc.CreateChat(AgentID(r), req.Name, domain.ChatType(req.Type), members)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, toChatResponse(chat))
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatSvc.ListChats(AgentID(r))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"chats": lo.Map(chats, func(c domain.Chat, _ int) chatResponse { return toChatResponse(c) }),
	})
}

func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	chat, err := h.chatSvc.GetChat(chatID, AgentID(r))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, toChatResponse(chat))
}

func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	if err := h.chatSvc.DeleteChat(chatID, AgentID(r)); err != nil {
		h.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	members, err := h.chatSvc.Members(chatID, AgentID(r))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"members": lo.Map(members, func(m domain.Membership, _ int) membershipResponse {
			return membershipResponse{
				ChatID:   m.ChatID.String(),
				AgentID:  m.AgentID.String(),
				JoinedAt: m.JoinedAt,
			}
		}),
	})
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	var req addMemberRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		h.Error(w, fmt.Errorf("invalid agent id: %w", errors.ErrValidation))
		return
	}
	membership, err := h.chatSvc.AddMember(chatID, AgentID(r), agentID)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, membershipResponse{
		ChatID:   membership.ChatID.String(),
		AgentID:  membership.AgentID.String(),
		JoinedAt: membership.JoinedAt,
	})
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		h.Error(w, fmt.Errorf("invalid agent id: %w", errors.ErrValidation))
		return
	}
	if err := h.chatSvc.RemoveMember(chatID, AgentID(r), agentID); err != nil {
		h.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	if err := h.chatSvc.LeaveChat(chatID, AgentID(r)); err != nil {
		h.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	mentions := make([]uuid.UUID, 0, len(req.Mentions))
	for _, raw := range req.Mentions {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, fmt.Errorf("invalid mention %q: %w", raw, errors.ErrValidation))
			return
		}
		mentions = append(mentions, id)
	}
	var parentID *uuid.UUID
	if req.ParentID != "" {
		id, err := uuid.Parse(req.ParentID)
		if err != nil {
			h.Error(w, fmt.Errorf("invalid parent id: %w", errors.ErrValidation))
			return
		}
		parentID = &id
	}

	message, err := h.chatSvc.Send(r.Context(), domain.SendMessageCommand{
		ChatID:   chatID,
		SenderID: AgentID(r),
		Content:  req.Content,
		Mentions: mentions,
		ParentID: parentID,
	})
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, toMessageResponse(message))
}

// History returns persisted messages strictly after from_seq.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	fromSeq, _ := strconv.ParseUint(r.URL.Query().Get("from_seq"), 10, 64)
	limit := queryLimit(r, maxHistoryLimit)

	messages, err := h.chatSvc.History(chatID, AgentID(r), fromSeq, limit)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"messages": lo.Map(messages, func(m domain.Message, _ int) messageResponse {
			return toMessageResponse(m)
		}),
	})
}

// Search runs a full-text query over one chat's messages.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatParam(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	terms := r.URL.Query().Get("q")
	if terms == "" {
		h.Error(w, fmt.Errorf("query parameter q is required: %w", errors.ErrValidation))
		return
	}
	limit := queryLimit(r, 100)

	messages, err := h.chatSvc.SearchMessages(r.Context(), chatID, AgentID(r), terms, limit)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"messages": lo.Map(messages, func(m domain.Message, _ int) messageResponse {
			return toMessageResponse(m)
		}),
	})
}

func chatParam(r *http.Request) (uuid.UUID, error) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid chat id: %w", errors.ErrValidation)
	}
	return chatID, nil
}

func queryLimit(r *http.Request, max int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	if limit > max {
		return max
	}
	return limit
}
