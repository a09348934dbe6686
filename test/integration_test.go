package test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"agora/broker"
	"agora/domain"
	"agora/infrastructure/ws"
	"agora/mentions"
	"agora/observability"
	"agora/repositories"
	"agora/runtime"
	"agora/runtime/workers"
	"agora/services"
)

// backbone wires the full delivery path the way cmd/server does, minus
// the sockets: dispatcher, outbox publisher, memory broker, pipeline,
// registry and catch-up all run for real.
type backbone struct {
	t        *testing.T
	agents   repositories.AgentRepository
	service  *services.ChatService
	broker   *broker.MemoryBroker
	registry *runtime.Registry
	pipeline *runtime.Pipeline
	catchup  runtime.Catchup
	monitor  *observability.Monitor
	log      *slog.Logger
}

func startBackbone(t *testing.T) *backbone {
	t.Helper()
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	log := slog.Default()
	agents := repositories.NewAgentRepository(db, log)
	chats := repositories.NewChatRepository(db, log)
	messages := repositories.NewMessageRepository(db, log)
	search := repositories.NewSearchRepository(writer, log)

	monitor := observability.NewMonitor(log)
	memBroker := broker.NewMemoryBroker(log)
	registry := runtime.NewRegistry()
	resolver := mentions.NewResolver(mentions.PolicyDrop, true)
	dispatcher := runtime.NewDispatcher(log, agents, chats, messages, resolver, monitor, 256)
	service := services.NewChatService(log, agents, chats, messages, search, dispatcher)
	pipeline := runtime.NewPipeline(log, memBroker, registry, monitor,
		time.Second, 10*time.Millisecond, 100*time.Millisecond)
	catchup := runtime.NewCatchup(messages, 50, monitor)

	ctx, cancel := context.WithCancel(context.Background())
	sup := workers.NewSupervisor(log, 50*time.Millisecond)
	sup.Add(pipeline)
	sup.Add(workers.NewPublisherWorker(log, memBroker, dispatcher.Outbox(), monitor,
		5*time.Millisecond, 50*time.Millisecond, 3))
	sup.Add(workers.NewIndexerWorker(log, search, dispatcher.IndexQueue()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &backbone{
		t:        t,
		agents:   agents,
		service:  service,
		broker:   memBroker,
		registry: registry,
		pipeline: pipeline,
		catchup:  catchup,
		monitor:  monitor,
		log:      log,
	}
}

func (b *backbone) createAgent(name string) domain.Agent {
	b.t.Helper()
	agent := domain.Agent{ID: uuid.New(), Name: name, CreatedAt: time.Now().UTC()}
	require.NoError(b.t, b.agents.Create(agent, []byte("hash")))
	return agent
}

// connect opens a session for one agent the way the WebSocket server
// does: register, acquire the agent topic, and follow the given chats
// from their resume watermarks. It returns once every topic has a live
// broker subscription, so a publish right after connect is never lost.
func (b *backbone) connect(agent domain.Agent, resume map[uuid.UUID]uint64) *ws.Session {
	b.t.Helper()
	req := require.New(b.t)
	session := ws.NewSession(agent.ID, b.log, b.monitor, 256)
	b.registry.Register(session.ID(), agent.ID, session)
	b.pipeline.AcquireAgent(agent.ID)
	b.awaitSubscription(broker.AgentTopic(agent.ID))

	for chatID, after := range resume {
		req.True(session.BeginChat(chatID, after))
		b.registry.SubscribeChat(session.ID(), chatID)
		b.pipeline.AcquireChat(chatID)
		b.awaitSubscription(broker.ChatTopic(chatID))
		_, err := b.catchup.Replay(context.Background(), chatID, after, session.DeliverReplay)
		req.NoError(err)
		req.NoError(session.CompleteCatchup(chatID))
	}
	return session
}

func (b *backbone) awaitSubscription(topic string) {
	b.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.broker.Subscribers(topic) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.t.Fatalf("no broker subscription appeared for %s", topic)
}

func (b *backbone) disconnect(session *ws.Session) {
	session.Close()
	for _, chatID := range b.registry.Drop(session.ID()) {
		b.pipeline.ReleaseChat(chatID)
	}
	b.pipeline.ReleaseAgent(session.AgentID())
}

func collectMessages(t *testing.T, session *ws.Session, want int) []ws.ServerFrame {
	t.Helper()
	var frames []ws.ServerFrame
	deadline := time.After(2 * time.Second)
	for len(frames) < want {
		select {
		case frame := <-session.Out():
			if frame.Type == ws.FrameMessage {
				frames = append(frames, frame)
			}
		case <-deadline:
			t.Fatalf("timed out: got %d of %d message frames", len(frames), want)
		}
	}
	return frames
}

func expectNoMessage(t *testing.T, session *ws.Session) {
	t.Helper()
	select {
	case frame := <-session.Out():
		if frame.Type == ws.FrameMessage {
			t.Fatalf("unexpected message frame seq=%d", frame.Message.Seq)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func Test_Reconnect_Catchup_Has_No_Gap_And_No_Duplicate(t *testing.T) {
	req := require.New(t)
	b := startBackbone(t)
	ctx := context.Background()

	// Given two registered agents sharing a group chat
	alice := b.createAgent("alice")
	bob := b.createAgent("bob")
	chat, err := b.service.CreateChat(alice.ID, "ops", domain.ChatGroup, []uuid.UUID{bob.ID})
	req.NoError(err)

	// Both connect and follow the chat from the start
	aliceSession := b.connect(alice, map[uuid.UUID]uint64{chat.ID: 0})
	bobSession := b.connect(bob, map[uuid.UUID]uint64{chat.ID: 0})

	// The first message reaches both live
	first, err := b.service.Send(ctx, domain.SendMessageCommand{
		ChatID: chat.ID, SenderID: alice.ID, Content: "first",
	})
	req.NoError(err)
	req.Equal(uint64(1), first.Seq)
	req.Equal(uint64(1), collectMessages(t, aliceSession, 1)[0].Message.Seq)
	req.Equal(uint64(1), collectMessages(t, bobSession, 1)[0].Message.Seq)

	// Bob disconnects; the next message is sent while he is away
	b.disconnect(bobSession)
	second, err := b.service.Send(ctx, domain.SendMessageCommand{
		ChatID: chat.ID, SenderID: alice.ID, Content: "second",
	})
	req.NoError(err)
	req.Equal(uint64(2), second.Seq)
	req.Equal(uint64(2), collectMessages(t, aliceSession, 1)[0].Message.Seq)

	// Bob reconnects resuming from watermark 1: exactly the missed
	// message is replayed, nothing duplicated, nothing skipped
	bobSession = b.connect(bob, map[uuid.UUID]uint64{chat.ID: 1})
	replayed := collectMessages(t, bobSession, 1)
	req.Equal(uint64(2), replayed[0].Message.Seq)
	req.Equal("second", replayed[0].Message.Content)
	expectNoMessage(t, bobSession)

	// Live delivery resumes seamlessly after the handoff
	third, err := b.service.Send(ctx, domain.SendMessageCommand{
		ChatID: chat.ID, SenderID: alice.ID, Content: "third",
	})
	req.NoError(err)
	req.Equal(uint64(3), third.Seq)
	req.Equal(uint64(3), collectMessages(t, bobSession, 1)[0].Message.Seq)

	b.disconnect(aliceSession)
	b.disconnect(bobSession)
}

func Test_Send_Is_Durable_Before_Fan_Out(t *testing.T) {
	req := require.New(t)
	b := startBackbone(t)
	ctx := context.Background()

	alice := b.createAgent("alice")
	chat, err := b.service.CreateChat(alice.ID, "notes", domain.ChatGroup, nil)
	req.NoError(err)

	// Nobody is connected; the message must still persist and sequence
	message, err := b.service.Send(ctx, domain.SendMessageCommand{
		ChatID: chat.ID, SenderID: alice.ID, Content: "to my future self",
	})
	req.NoError(err)
	req.Equal(uint64(1), message.Seq)

	// A later session replays it from the log
	session := b.connect(alice, map[uuid.UUID]uint64{chat.ID: 0})
	frames := collectMessages(t, session, 1)
	req.Equal("to my future self", frames[0].Message.Content)
	b.disconnect(session)
}

func Test_Chat_Destruction_Reaches_Connected_Members(t *testing.T) {
	req := require.New(t)
	b := startBackbone(t)

	alice := b.createAgent("alice")
	bob := b.createAgent("bob")
	chat, err := b.service.CreateChat(alice.ID, "dm", domain.ChatPrivate, []uuid.UUID{bob.ID})
	req.NoError(err)

	bobSession := b.connect(bob, map[uuid.UUID]uint64{chat.ID: 0})

	// Either side of a private chat leaving destroys it for both
	req.NoError(b.service.LeaveChat(chat.ID, alice.ID))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-bobSession.Out():
			if frame.Type == ws.FrameChatDeleted {
				req.Equal(chat.ID.String(), frame.ChatID)
				req.False(bobSession.HasChat(chat.ID))
				b.disconnect(bobSession)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the chat_deleted frame")
		}
	}
}
