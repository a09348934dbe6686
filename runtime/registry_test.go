package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"agora/domain/event"
)

type nullSink struct{}

func (nullSink) Consume(context.Context, event.DomainEvent) error { return nil }

func Test_Registry_Chat_Subscriptions(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	agentID := uuid.New()
	chatID := uuid.New()

	registry.Register("s1", agentID, nullSink{})
	registry.Register("s2", agentID, nullSink{})
	registry.SubscribeChat("s1", chatID)

	req.Len(registry.SinksForChat(chatID), 1)
	req.Len(registry.SinksForAgent(agentID), 2)

	registry.SubscribeChat("s2", chatID)
	req.Len(registry.SinksForChat(chatID), 2)

	registry.UnsubscribeChat("s1", chatID)
	req.Len(registry.SinksForChat(chatID), 1)
}

func Test_Registry_Drop_Returns_Subscribed_Chats(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	agentID := uuid.New()
	chatA := uuid.New()
	chatB := uuid.New()

	registry.Register("s1", agentID, nullSink{})
	registry.SubscribeChat("s1", chatA)
	registry.SubscribeChat("s1", chatB)

	chats := registry.Drop("s1")
	req.ElementsMatch([]uuid.UUID{chatA, chatB}, chats)

	req.Empty(registry.SinksForChat(chatA))
	req.Empty(registry.SinksForChat(chatB))
	req.Empty(registry.SinksForAgent(agentID))

	// Dropping twice is harmless
	req.Empty(registry.Drop("s1"))
}

func Test_Registry_Subscribe_Unknown_Session_Is_Ignored(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	chatID := uuid.New()

	registry.SubscribeChat("ghost", chatID)
	req.Empty(registry.SinksForChat(chatID))
}
