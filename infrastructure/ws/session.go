package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"agora/domain"
	"agora/domain/event"
	"agora/errors"
	"agora/observability"
)

// pendingLimit caps events buffered per chat while a catch-up runs.
const pendingLimit = 1024

// Session is the delivery end of one WebSocket connection. It tracks a
// watermark per subscribed chat: live messages advance it, anything at
// or below it is a duplicate, and a hole above it means events were
// missed and a catch-up replay must fill the gap first.
//
// The outbound buffer is bounded. A client that cannot keep up is
// closed and reconnects with its watermark; slow consumers never push
// back on the fan-out path.
type Session struct {
	id      string
	agentID uuid.UUID
	log     *slog.Logger
	monitor *observability.Monitor

	out    chan ServerFrame
	resync chan uuid.UUID
	done   chan struct{}
	once   sync.Once

	// onDetach fires when the session loses a chat (deleted, or the
	// agent was removed). onInvite fires when the agent is added to a
	// chat this session does not follow yet. Both run on their own
	// goroutine; they touch the registry and pipeline.
	onDetach func(chatID uuid.UUID)
	onInvite func(chatID uuid.UUID)

	mu    sync.Mutex
	chats map[uuid.UUID]*chatState
}

type chatState struct {
	watermark  uint64
	catchingUp bool
	pending    []domain.Message
}

func NewSession(agentID uuid.UUID, log *slog.Logger, monitor *observability.Monitor,
	bufferSize int) *Session {
	return &Session{
		id:      uuid.NewString(),
		agentID: agentID,
		log:     log,
		monitor: monitor,
		out:     make(chan ServerFrame, bufferSize),
		resync:  make(chan uuid.UUID, 16),
		done:    make(chan struct{}),
		chats:   make(map[uuid.UUID]*chatState),
	}
}

func (s *Session) ID() string                        { return s.id }
func (s *Session) AgentID() uuid.UUID                { return s.agentID }
func (s *Session) Out() <-chan ServerFrame           { return s.out }
func (s *Session) ResyncRequests() <-chan uuid.UUID  { return s.resync }
func (s *Session) Done() <-chan struct{}             { return s.done }

func (s *Session) SetHooks(onDetach, onInvite func(chatID uuid.UUID)) {
	s.onDetach = onDetach
	s.onInvite = onInvite
}

// Close is idempotent and unblocks the write loop.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

// Consume receives one fanned-out event. It never blocks: a full
// outbound buffer closes the session instead.
func (s *Session) Consume(_ context.Context, e event.DomainEvent) error {
	select {
	case <-s.done:
		return errors.ErrConnectionLost
	default:
	}

	switch ev := e.(type) {
	case event.MessagePosted:
		return s.consumeMessage(ev.Message)
	case event.MemberAdded:
		return s.consumeMemberAdded(ev)
	case event.MemberRemoved:
		return s.consumeMemberRemoved(ev)
	case event.ChatDeleted:
		return s.consumeChatDeleted(ev)
	default:
		s.log.Warn("Unknown event kind, dropping", "kind", e.Kind())
		return nil
	}
}

func (s *Session) consumeMessage(m domain.Message) error {
	s.mu.Lock()
	st, ok := s.chats[m.ChatID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if st.catchingUp {
		if len(st.pending) >= pendingLimit {
			s.mu.Unlock()
			return s.overflow()
		}
		st.pending = append(st.pending, m)
		s.mu.Unlock()
		return nil
	}
	if m.Seq <= st.watermark {
		// Already delivered, replay and live stream overlapped.
		s.mu.Unlock()
		return nil
	}
	if m.Seq > st.watermark+1 {
		// Hole above the watermark: events were missed. Buffer and
		// replay the gap from the log before resuming live delivery.
		st.catchingUp = true
		st.pending = append(st.pending, m)
		s.mu.Unlock()
		s.requestResync(m.ChatID)
		return nil
	}
	st.watermark = m.Seq
	s.mu.Unlock()
	return s.enqueue(messageFrame(m))
}

func (s *Session) consumeMemberAdded(ev event.MemberAdded) error {
	s.mu.Lock()
	_, has := s.chats[ev.Chat]
	s.mu.Unlock()

	if !has {
		if ev.AgentID == s.agentID && s.onInvite != nil {
			go s.onInvite(ev.Chat)
		}
		return nil
	}
	at := ev.At
	return s.enqueue(ServerFrame{
		Type:    FrameMembershipChanged,
		ChatID:  ev.Chat.String(),
		AgentID: ev.AgentID.String(),
		Change:  "member_added",
		At:      &at,
	})
}

func (s *Session) consumeMemberRemoved(ev event.MemberRemoved) error {
	s.mu.Lock()
	_, has := s.chats[ev.Chat]
	if has && ev.AgentID == s.agentID {
		// Removed from the chat: stop following it. Deleting under the
		// lock also deduplicates the copy arriving on the other topic.
		delete(s.chats, ev.Chat)
	}
	s.mu.Unlock()
	if !has {
		return nil
	}

	at := ev.At
	err := s.enqueue(ServerFrame{
		Type:    FrameMembershipChanged,
		ChatID:  ev.Chat.String(),
		AgentID: ev.AgentID.String(),
		Change:  "member_removed",
		At:      &at,
	})
	if ev.AgentID == s.agentID && s.onDetach != nil {
		go s.onDetach(ev.Chat)
	}
	return err
}

func (s *Session) consumeChatDeleted(ev event.ChatDeleted) error {
	s.mu.Lock()
	_, has := s.chats[ev.Chat]
	if has {
		delete(s.chats, ev.Chat)
	}
	s.mu.Unlock()
	if !has {
		return nil
	}

	at := ev.At
	err := s.enqueue(ServerFrame{Type: FrameChatDeleted, ChatID: ev.Chat.String(), At: &at})
	if s.onDetach != nil {
		go s.onDetach(ev.Chat)
	}
	return err
}

// Resync is called by the delivery pipeline after a broker subscription
// was lost and restored. Live events buffer until the replay finishes.
func (s *Session) Resync(chatID uuid.UUID) {
	s.mu.Lock()
	if st, ok := s.chats[chatID]; ok {
		st.catchingUp = true
	} else {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.requestResync(chatID)
}

func (s *Session) requestResync(chatID uuid.UUID) {
	select {
	case s.resync <- chatID:
	default:
		// A request is already queued; one replay covers both.
	}
}

// BeginChat starts following a chat in catch-up mode with the given
// watermark. Returns false when the chat is already followed.
func (s *Session) BeginChat(chatID uuid.UUID, after uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; ok {
		return false
	}
	s.chats[chatID] = &chatState{watermark: after, catchingUp: true}
	return true
}

// DeliverReplay pushes one replayed message, advancing the watermark.
func (s *Session) DeliverReplay(m domain.Message) error {
	s.mu.Lock()
	st, ok := s.chats[m.ChatID]
	if !ok || m.Seq <= st.watermark {
		s.mu.Unlock()
		return nil
	}
	st.watermark = m.Seq
	s.mu.Unlock()
	return s.enqueue(messageFrame(m))
}

// CompleteCatchup flushes events buffered during the replay, skipping
// everything the replay already covered, and resumes live delivery.
// The flush runs under the lock: a live event racing in cannot pass the
// watermark check and enqueue ahead of a still-buffered frame (enqueue
// never blocks, so holding the lock is safe). A hole inside the buffer
// means a publish between the replay tail and the buffered events was
// lost; the session stays in catch-up and replays again rather than
// advancing the watermark over the missing sequence.
func (s *Session) CompleteCatchup(chatID uuid.UUID) error {
	s.mu.Lock()
	st, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	for len(st.pending) > 0 {
		m := st.pending[0]
		if m.Seq <= st.watermark {
			st.pending = st.pending[1:]
			continue
		}
		if m.Seq > st.watermark+1 {
			s.mu.Unlock()
			s.requestResync(chatID)
			return nil
		}
		st.pending = st.pending[1:]
		st.watermark = m.Seq
		if err := s.enqueue(messageFrame(m)); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	st.pending = nil
	st.catchingUp = false
	s.mu.Unlock()
	return nil
}

// Watermark reports the last delivered sequence for a chat.
func (s *Session) Watermark(chatID uuid.UUID) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chats[chatID]
	if !ok {
		return 0, false
	}
	return st.watermark, true
}

func (s *Session) HasChat(chatID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[chatID]
	return ok
}

func (s *Session) DropChat(chatID uuid.UUID) {
	s.mu.Lock()
	delete(s.chats, chatID)
	s.mu.Unlock()
}

// Send queues a server-initiated frame (acks, replies, errors) on the
// same ordered outbound path as fanned-out events.
func (s *Session) Send(frame ServerFrame) error {
	return s.enqueue(frame)
}

func (s *Session) enqueue(frame ServerFrame) error {
	select {
	case s.out <- frame:
		return nil
	default:
		return s.overflow()
	}
}

func (s *Session) overflow() error {
	s.monitor.OverflowClosed.Add(1)
	s.log.Warn("Session buffer overflow, closing", "session_id", s.id, "agent_id", s.agentID)
	s.Close()
	return fmt.Errorf("session %s: %w", s.id, errors.ErrSessionOverflow)
}
