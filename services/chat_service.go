package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"agora/broker"
	"agora/domain"
	"agora/domain/event"
	"agora/errors"
	"agora/repositories"
	"agora/runtime"
)

type IChatService interface {
	CreateChat(creatorID uuid.UUID, name string, chatType domain.ChatType, members []uuid.UUID) (domain.Chat, error)
	GetChat(chatID, agentID uuid.UUID) (domain.Chat, error)
	ListChats(agentID uuid.UUID) ([]domain.Chat, error)
	Members(chatID, agentID uuid.UUID) ([]domain.Membership, error)
	AddMember(chatID, callerID, agentID uuid.UUID) (domain.Membership, error)
	RemoveMember(chatID, callerID, agentID uuid.UUID) error
	LeaveChat(chatID, agentID uuid.UUID) error
	DeleteChat(chatID, callerID uuid.UUID) error
	Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	History(chatID, agentID uuid.UUID, fromSeq uint64, limit int) ([]domain.Message, error)
	SearchMessages(ctx context.Context, chatID, agentID uuid.UUID, terms string, limit int) ([]domain.Message, error)
}

// ChatService enforces membership and authorization rules, then drives
// repositories and the dispatcher. Every mutation announces its event
// only after the corresponding write committed.
type ChatService struct {
	log        *slog.Logger
	agents     repositories.IAgentRepository
	chats      repositories.IChatRepository
	messages   repositories.IMessageRepository
	search     repositories.ISearchRepository
	dispatcher *runtime.Dispatcher
}

func NewChatService(log *slog.Logger, agents repositories.IAgentRepository,
	chats repositories.IChatRepository, messages repositories.IMessageRepository,
	search repositories.ISearchRepository, dispatcher *runtime.Dispatcher) *ChatService {
	return &ChatService{
		log:        log,
		agents:     agents,
		chats:      chats,
		messages:   messages,
		search:     search,
		dispatcher: dispatcher,
	}
}

// CreateChat creates a chat with the creator always included as a
// member. A private chat must hold exactly two distinct members and its
// membership never changes afterwards.
func (s *ChatService) CreateChat(creatorID uuid.UUID, name string,
	chatType domain.ChatType, members []uuid.UUID) (domain.Chat, error) {

	if name == "" {
		return domain.Chat{}, fmt.Errorf("chat name is required: %w", errors.ErrValidation)
	}
	if chatType != domain.ChatGroup && chatType != domain.ChatPrivate {
		return domain.Chat{}, fmt.Errorf("unknown chat type %q: %w", chatType, errors.ErrValidation)
	}

	members = lo.Uniq(append([]uuid.UUID{creatorID}, members...))
	if chatType == domain.ChatPrivate && len(members) != 2 {
		return domain.Chat{}, fmt.Errorf("a private chat needs exactly two distinct members: %w",
			errors.ErrValidation)
	}

	for _, agentID := range members {
		exists, err := s.agents.Exists(agentID)
		if err != nil {
			return domain.Chat{}, err
		}
		if !exists {
			return domain.Chat{}, fmt.Errorf("unknown agent %s: %w", agentID, errors.ErrValidation)
		}
	}

	chat := domain.Chat{
		ID:        uuid.New(),
		Name:      name,
		Type:      chatType,
		CreatorID: creatorID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.chats.Create(chat, members); err != nil {
		return domain.Chat{}, err
	}

	now := time.Now().UTC()
	for _, agentID := range members {
		added := event.MemberAdded{Chat: chat.ID, AgentID: agentID, At: now}
		s.dispatcher.Announce(broker.ChatTopic(chat.ID), added)
		s.dispatcher.Announce(broker.AgentTopic(agentID), added)
	}
	s.log.Info("Chat created", "chat_id", chat.ID, "type", chat.Type, "members", len(members))
	return chat, nil
}

func (s *ChatService) GetChat(chatID, agentID uuid.UUID) (domain.Chat, error) {
	chat, err := s.chats.Get(chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if err := s.requireMember(chatID, agentID); err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

func (s *ChatService) ListChats(agentID uuid.UUID) ([]domain.Chat, error) {
	return s.chats.ListFor(agentID)
}

func (s *ChatService) Members(chatID, agentID uuid.UUID) ([]domain.Membership, error) {
	if _, err := s.chats.Get(chatID); err != nil {
		return nil, err
	}
	if err := s.requireMember(chatID, agentID); err != nil {
		return nil, err
	}
	return s.chats.Members(chatID)
}

// AddMember is a creator-only operation on group chats.
func (s *ChatService) AddMember(chatID, callerID, agentID uuid.UUID) (domain.Membership, error) {
	chat, err := s.chats.Get(chatID)
	if err != nil {
		return domain.Membership{}, err
	}
	if chat.CreatorID != callerID {
		return domain.Membership{}, fmt.Errorf("only the creator manages membership: %w",
			errors.ErrPermissionDenied)
	}
	if chat.Type == domain.ChatPrivate {
		return domain.Membership{}, fmt.Errorf("private chat membership is fixed: %w",
			errors.ErrValidation)
	}

	exists, err := s.agents.Exists(agentID)
	if err != nil {
		return domain.Membership{}, err
	}
	if !exists {
		return domain.Membership{}, fmt.Errorf("unknown agent %s: %w", agentID, errors.ErrValidation)
	}

	membership, err := s.chats.AddMember(chatID, agentID)
	if err != nil {
		return domain.Membership{}, err
	}

	added := event.MemberAdded{Chat: chatID, AgentID: agentID, At: membership.JoinedAt}
	s.dispatcher.Announce(broker.ChatTopic(chatID), added)
	s.dispatcher.Announce(broker.AgentTopic(agentID), added)
	return membership, nil
}

// RemoveMember is a creator-only operation on group chats. The creator
// cannot remove themselves this way; they leave or delete instead.
func (s *ChatService) RemoveMember(chatID, callerID, agentID uuid.UUID) error {
	chat, err := s.chats.Get(chatID)
	if err != nil {
		return err
	}
	if chat.CreatorID != callerID {
		return fmt.Errorf("only the creator manages membership: %w", errors.ErrPermissionDenied)
	}
	if chat.Type == domain.ChatPrivate {
		return fmt.Errorf("private chat membership is fixed: %w", errors.ErrValidation)
	}
	if agentID == chat.CreatorID {
		return fmt.Errorf("the creator cannot be removed, leave or delete the chat: %w",
			errors.ErrValidation)
	}

	if err := s.chats.RemoveMember(chatID, agentID); err != nil {
		return err
	}

	removed := event.MemberRemoved{Chat: chatID, AgentID: agentID, At: time.Now().UTC()}
	s.dispatcher.Announce(broker.ChatTopic(chatID), removed)
	s.dispatcher.Announce(broker.AgentTopic(agentID), removed)
	return nil
}

// LeaveChat removes the caller from a chat. A leaving creator destroys
// the chat, as does either member of a private chat: a private chat
// never continues with one side missing.
func (s *ChatService) LeaveChat(chatID, agentID uuid.UUID) error {
	chat, err := s.chats.Get(chatID)
	if err != nil {
		return err
	}
	if err := s.requireMember(chatID, agentID); err != nil {
		return err
	}

	if chat.Type == domain.ChatPrivate || chat.CreatorID == agentID {
		return s.destroy(chat)
	}

	if err := s.chats.RemoveMember(chatID, agentID); err != nil {
		return err
	}
	removed := event.MemberRemoved{Chat: chatID, AgentID: agentID, At: time.Now().UTC()}
	s.dispatcher.Announce(broker.ChatTopic(chatID), removed)
	s.dispatcher.Announce(broker.AgentTopic(agentID), removed)
	return nil
}

// DeleteChat destroys a chat and its entire message log. Creator only.
func (s *ChatService) DeleteChat(chatID, callerID uuid.UUID) error {
	chat, err := s.chats.Get(chatID)
	if err != nil {
		return err
	}
	if chat.CreatorID != callerID {
		return fmt.Errorf("only the creator can delete a chat: %w", errors.ErrPermissionDenied)
	}
	return s.destroy(chat)
}

func (s *ChatService) destroy(chat domain.Chat) error {
	members, err := s.chats.Delete(chat.ID)
	if err != nil {
		return err
	}

	deleted := event.ChatDeleted{Chat: chat.ID, Members: members, At: time.Now().UTC()}
	s.dispatcher.Announce(broker.ChatTopic(chat.ID), deleted)
	for _, agentID := range members {
		s.dispatcher.Announce(broker.AgentTopic(agentID), deleted)
	}
	s.log.Info("Chat deleted", "chat_id", chat.ID, "former_members", len(members))
	return nil
}

// Send delegates to the dispatcher, which owns validation, ordering and
// fan-out for the message path.
func (s *ChatService) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	return s.dispatcher.Send(ctx, cmd)
}

// History reads persisted messages strictly after fromSeq, member only.
func (s *ChatService) History(chatID, agentID uuid.UUID, fromSeq uint64, limit int) ([]domain.Message, error) {
	if _, err := s.chats.Get(chatID); err != nil {
		return nil, err
	}
	if err := s.requireMember(chatID, agentID); err != nil {
		return nil, err
	}
	return s.messages.Read(domain.HistoryQuery{ChatID: chatID, FromSeq: fromSeq, Limit: limit})
}

// SearchMessages runs a full-text query scoped to one chat, member only.
// Hits are rehydrated from the authoritative log; a hit whose row is
// gone (chat deleted mid-flight) is silently skipped.
func (s *ChatService) SearchMessages(ctx context.Context, chatID, agentID uuid.UUID,
	terms string, limit int) ([]domain.Message, error) {

	if _, err := s.chats.Get(chatID); err != nil {
		return nil, err
	}
	if err := s.requireMember(chatID, agentID); err != nil {
		return nil, err
	}

	hits, err := s.search.Search(ctx, chatID, terms, limit)
	if err != nil {
		return nil, err
	}

	results := make([]domain.Message, 0, len(hits))
	for _, hit := range hits {
		message, err := s.messages.Get(hit.MessageID)
		if stderrors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, message)
	}
	return results, nil
}

func (s *ChatService) requireMember(chatID, agentID uuid.UUID) error {
	member, err := s.chats.IsMember(chatID, agentID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("agent %s is not a member of chat %s: %w",
			agentID, chatID, errors.ErrPermissionDenied)
	}
	return nil
}
