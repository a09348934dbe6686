package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"agora/broker"
	"agora/domain"
	"agora/domain/event"
	"agora/errors"
	"agora/mentions"
	"agora/observability"
	"agora/repositories"
)

// OutboxEntry is a durable event waiting to be published. The publisher
// worker drains the outbox with backoff; nothing here blocks a sender.
type OutboxEntry struct {
	Topic string
	Event event.DomainEvent
}

// Dispatcher validates and persists outbound messages, assigns ordering
// through the message repository, and hands fan-out to the outbox.
// Persistence always completes before publish; a broker outage is never
// surfaced to the sender because catch-up heals the gap.
type Dispatcher struct {
	log      *slog.Logger
	agents   repositories.IAgentRepository
	chats    repositories.IChatRepository
	messages repositories.IMessageRepository
	resolver mentions.Resolver
	monitor  *observability.Monitor

	outbox chan OutboxEntry
	index  chan domain.Message
}

func NewDispatcher(log *slog.Logger, agents repositories.IAgentRepository,
	chats repositories.IChatRepository, messages repositories.IMessageRepository,
	resolver mentions.Resolver, monitor *observability.Monitor, bufferSize int) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		agents:   agents,
		chats:    chats,
		messages: messages,
		resolver: resolver,
		monitor:  monitor,
		outbox:   make(chan OutboxEntry, bufferSize),
		index:    make(chan domain.Message, bufferSize),
	}
	monitor.BindOutbox(func() int { return len(d.outbox) })
	return d
}

// Send persists one message and schedules its fan-out.
// Validation order: chat exists, sender is a member, parent belongs to
// the same chat, mentions reconciled per policy. The returned message
// carries the allocated sequence number.
func (d *Dispatcher) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	if cmd.Content == "" {
		return domain.Message{}, fmt.Errorf("empty content: %w", errors.ErrValidation)
	}
	if _, err := d.chats.Get(cmd.ChatID); err != nil {
		return domain.Message{}, err
	}

	member, err := d.chats.IsMember(cmd.ChatID, cmd.SenderID)
	if err != nil {
		return domain.Message{}, err
	}
	if !member {
		return domain.Message{}, fmt.Errorf("sender %s is not a member of chat %s: %w",
			cmd.SenderID, cmd.ChatID, errors.ErrPermissionDenied)
	}

	if cmd.ParentID != nil {
		parent, err := d.messages.Get(*cmd.ParentID)
		if stderrors.Is(err, errors.ErrNotFound) {
			return domain.Message{}, fmt.Errorf("parent message %s: %w", *cmd.ParentID, errors.ErrValidation)
		}
		if err != nil {
			return domain.Message{}, err
		}
		if parent.ChatID != cmd.ChatID {
			return domain.Message{}, fmt.Errorf("parent message %s belongs to another chat: %w",
				*cmd.ParentID, errors.ErrValidation)
		}
	}

	memberNames, err := d.memberNames(cmd.ChatID)
	if err != nil {
		return domain.Message{}, err
	}
	resolved, err := d.resolver.Resolve(cmd.Content, cmd.Mentions, memberNames)
	if err != nil {
		return domain.Message{}, err
	}
	cmd.Mentions = resolved

	message, err := d.messages.Append(cmd)
	if err != nil {
		return domain.Message{}, err
	}

	d.Announce(broker.ChatTopic(message.ChatID), event.MessagePosted{Message: message})

	select {
	case d.index <- message:
	default:
		d.log.Warn("index queue full, message not indexed", "message_id", message.ID)
	}

	return message, nil
}

// Announce queues a post-commit event for publication. The outbox is
// bounded; when it overflows the event is dropped here and connected
// clients converge again through catch-up.
func (d *Dispatcher) Announce(topic string, e event.DomainEvent) {
	select {
	case d.outbox <- OutboxEntry{Topic: topic, Event: e}:
	default:
		d.monitor.PublishFailures.Add(1)
		d.log.Warn("outbox full, dropping live fan-out", "topic", topic, "kind", e.Kind())
	}
}

// Outbox is drained by the publisher worker.
func (d *Dispatcher) Outbox() <-chan OutboxEntry { return d.outbox }

// IndexQueue is drained by the indexer worker.
func (d *Dispatcher) IndexQueue() <-chan domain.Message { return d.index }

func (d *Dispatcher) memberNames(chatID uuid.UUID) (map[string]uuid.UUID, error) {
	memberships, err := d.chats.Members(chatID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]uuid.UUID, len(memberships))
	for _, m := range memberships {
		agent, err := d.agents.Get(m.AgentID)
		if err != nil {
			return nil, err
		}
		names[agent.Name] = agent.ID
	}
	return names, nil
}
