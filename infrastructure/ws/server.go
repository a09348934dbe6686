package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"nhooyr.io/websocket"

	"agora/contract"
	"agora/domain"
	"agora/errors"
	"agora/observability"
	"agora/runtime"
	"agora/services"
)

const writeTimeout = 5 * time.Second

// Server upgrades /ws requests into sessions and runs their read,
// write, and resync loops. Authentication happens before the upgrade;
// an unauthenticated request never holds a socket.
type Server struct {
	log        *slog.Logger
	authSvc    services.IAuthService
	chatSvc    services.IChatService
	registry   contract.IRegistry
	pipeline   *runtime.Pipeline
	catchup    runtime.Catchup
	monitor    *observability.Monitor
	bufferSize int
}

func NewServer(log *slog.Logger, authSvc services.IAuthService, chatSvc services.IChatService,
	registry contract.IRegistry, pipeline *runtime.Pipeline, catchup runtime.Catchup,
	monitor *observability.Monitor, bufferSize int) *Server {
	return &Server{
		log:        log,
		authSvc:    authSvc,
		chatSvc:    chatSvc,
		registry:   registry,
		pipeline:   pipeline,
		catchup:    catchup,
		monitor:    monitor,
		bufferSize: bufferSize,
	}
}

// HandleWebSocket is the HTTP handler for /ws.
//
// The client authenticates with a bearer token (header or token query
// parameter) and may pass resume watermarks as
// ?resume=<chatID>:<seq>,<chatID>:<seq> to skip already-seen messages.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	agentID, err := s.authSvc.Authenticate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	resume, err := parseResume(r.URL.Query().Get("resume"))
	if err != nil {
		http.Error(w, "malformed resume parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	s.run(r.Context(), conn, agentID, resume)
}

func (s *Server) run(parent context.Context, conn *websocket.Conn,
	agentID uuid.UUID, resume map[uuid.UUID]uint64) {

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	session := NewSession(agentID, s.log, s.monitor, s.bufferSize)
	session.SetHooks(
		func(chatID uuid.UUID) { s.detach(session, chatID) },
		func(chatID uuid.UUID) { s.follow(ctx, session, chatID, 0) },
	)

	s.registry.Register(session.ID(), agentID, session)
	s.pipeline.AcquireAgent(agentID)
	s.monitor.Sessions.Add(1)
	s.log.Info("Session opened", "session_id", session.ID(), "agent_id", agentID)

	defer func() {
		session.Close()
		for _, chatID := range s.registry.Drop(session.ID()) {
			s.pipeline.ReleaseChat(chatID)
		}
		s.pipeline.ReleaseAgent(agentID)
		s.monitor.Sessions.Add(-1)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.Info("Session closed", "session_id", session.ID(), "agent_id", agentID)
	}()

	go s.writeLoop(ctx, cancel, conn, session)
	go s.resyncLoop(ctx, session)
	go func() {
		// A buffer overflow closes the session from the inside.
		select {
		case <-session.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	_ = session.Send(ServerFrame{
		Type:      FrameConnected,
		SessionID: session.ID(),
		AgentID:   agentID.String(),
	})

	chats, err := s.chatSvc.ListChats(agentID)
	if err != nil {
		s.log.Error("Failed to list chats at connect", "agent_id", agentID, "error", err)
		return
	}
	for _, chat := range chats {
		s.follow(ctx, session, chat.ID, resume[chat.ID])
	}

	s.readLoop(ctx, conn, session)
}

// follow subscribes the session to a chat: live first, then a bounded
// replay of everything after the watermark, then the buffered handoff.
func (s *Server) follow(ctx context.Context, session *Session, chatID uuid.UUID, after uint64) {
	if !session.BeginChat(chatID, after) {
		return
	}
	s.registry.SubscribeChat(session.ID(), chatID)
	s.pipeline.AcquireChat(chatID)

	if _, err := s.catchup.Replay(ctx, chatID, after, session.DeliverReplay); err != nil {
		s.log.Error("Catch-up replay failed", "chat_id", chatID, "error", err)
	}
	if err := session.CompleteCatchup(chatID); err != nil {
		s.log.Warn("Catch-up handoff aborted", "chat_id", chatID, "error", err)
	}
}

func (s *Server) detach(session *Session, chatID uuid.UUID) {
	session.DropChat(chatID)
	s.registry.UnsubscribeChat(session.ID(), chatID)
	s.pipeline.ReleaseChat(chatID)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session *Session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = session.Send(errorFrame("", "validation_error", "invalid JSON"))
			continue
		}
		s.handleFrame(ctx, session, frame)
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc,
	conn *websocket.Conn, session *Session) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-session.Out():
			data, err := json.Marshal(frame)
			if err != nil {
				s.log.Error("Failed to marshal frame", "type", frame.Type, "error", err)
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}

// resyncLoop serves gap repairs: replay from the current watermark,
// then flush whatever buffered while the replay ran.
func (s *Server) resyncLoop(ctx context.Context, session *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case chatID := <-session.ResyncRequests():
			after, ok := session.Watermark(chatID)
			if !ok {
				continue
			}
			if _, err := s.catchup.Replay(ctx, chatID, after, session.DeliverReplay); err != nil {
				s.log.Error("Resync replay failed", "chat_id", chatID, "error", err)
			}
			if err := session.CompleteCatchup(chatID); err != nil {
				s.log.Warn("Resync handoff aborted", "chat_id", chatID, "error", err)
			}
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, session *Session, frame ClientFrame) {
	switch frame.Type {
	case FramePing:
		_ = session.Send(ServerFrame{Type: FramePong, ID: frame.ID})
	case FrameSend:
		s.handleSend(ctx, session, frame)
	case FrameJoin:
		s.handleJoin(ctx, session, frame)
	case FrameLeave:
		s.handleLeave(session, frame)
	case FrameHistoryRequest:
		s.handleHistory(session, frame)
	default:
		_ = session.Send(errorFrame(frame.ID, "validation_error", "unknown frame type: "+frame.Type))
	}
}

func (s *Server) handleSend(ctx context.Context, session *Session, frame ClientFrame) {
	chatID, err := uuid.Parse(frame.ChatID)
	if err != nil {
		_ = session.Send(errorFrame(frame.ID, "validation_error", "invalid chat_id"))
		return
	}
	mentions := make([]uuid.UUID, 0, len(frame.Mentions))
	for _, raw := range frame.Mentions {
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = session.Send(errorFrame(frame.ID, "validation_error", "invalid mention: "+raw))
			return
		}
		mentions = append(mentions, id)
	}
	var parentID *uuid.UUID
	if frame.ParentID != "" {
		id, err := uuid.Parse(frame.ParentID)
		if err != nil {
			_ = session.Send(errorFrame(frame.ID, "validation_error", "invalid parent_id"))
			return
		}
		parentID = &id
	}

	message, err := s.chatSvc.Send(ctx, domain.SendMessageCommand{
		ChatID:   chatID,
		SenderID: session.AgentID(),
		Content:  frame.Content,
		Mentions: mentions,
		ParentID: parentID,
	})
	if err != nil {
		_ = session.Send(errorFrame(frame.ID, errors.Code(err), err.Error()))
		return
	}
	_ = session.Send(ServerFrame{
		Type:      FrameAck,
		ID:        frame.ID,
		ChatID:    frame.ChatID,
		MessageID: message.ID.String(),
		Seq:       message.Seq,
	})
}

func (s *Server) handleJoin(ctx context.Context, session *Session, frame ClientFrame) {
	chatID, err := uuid.Parse(frame.ChatID)
	if err != nil {
		_ = session.Send(errorFrame(frame.ID, "validation_error", "invalid chat_id"))
		return
	}
	// Membership gates the subscription; joining is not self-invite.
	if _, err := s.chatSvc.GetChat(chatID, session.AgentID()); err != nil {
		_ = session.Send(errorFrame(frame.ID, errors.Code(err), err.Error()))
		return
	}
	s.follow(ctx, session, chatID, frame.FromSeq)
	_ = session.Send(ServerFrame{Type: FrameAck, ID: frame.ID, ChatID: frame.ChatID})
}

func (s *Server) handleLeave(session *Session, frame ClientFrame) {
	chatID, err := uuid.Parse(frame.ChatID)
	if err != nil {
		_ = session.Send(errorFrame(frame.ID, "validation_error", "invalid chat_id"))
		return
	}
	if err := s.chatSvc.LeaveChat(chatID, session.AgentID()); err != nil {
		_ = session.Send(errorFrame(frame.ID, errors.Code(err), err.Error()))
		return
	}
	_ = session.Send(ServerFrame{Type: FrameAck, ID: frame.ID, ChatID: frame.ChatID})
}

func (s *Server) handleHistory(session *Session, frame ClientFrame) {
	chatID, err := uuid.Parse(frame.ChatID)
	if err != nil {
		_ = session.Send(errorFrame(frame.ID, "validation_error", "invalid chat_id"))
		return
	}
	messages, err := s.chatSvc.History(chatID, session.AgentID(), frame.FromSeq, frame.Limit)
	if err != nil {
		_ = session.Send(errorFrame(frame.ID, errors.Code(err), err.Error()))
		return
	}
	_ = session.Send(ServerFrame{
		Type:     FrameHistoryPage,
		ID:       frame.ID,
		ChatID:   frame.ChatID,
		Messages: lo.Map(messages, func(m domain.Message, _ int) *MessagePayload { return toPayload(m) }),
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// parseResume reads "chatID:seq" pairs separated by commas.
func parseResume(raw string) (map[uuid.UUID]uint64, error) {
	resume := make(map[uuid.UUID]uint64)
	if raw == "" {
		return resume, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		chatRaw, seqRaw, found := strings.Cut(pair, ":")
		if !found {
			return nil, errors.ErrValidation
		}
		chatID, err := uuid.Parse(chatRaw)
		if err != nil {
			return nil, errors.ErrValidation
		}
		seq, err := strconv.ParseUint(seqRaw, 10, 64)
		if err != nil {
			return nil, errors.ErrValidation
		}
		resume[chatID] = seq
	}
	return resume, nil
}
