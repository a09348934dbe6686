// Package runtime coordinates dispatch, fan-out, and catch-up.
// It orchestrates the system without containing domain rules.
package runtime

import (
	"sync"

	"github.com/google/uuid"

	"agora/contract"
)

type set map[string]struct{}

// Registry tracks live sessions, which agent owns each, and which chats
// each is subscribed to. It is the per-process view the delivery
// pipeline fans out against.
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]contract.EventSink
	sessionAgent  map[string]uuid.UUID
	sessionChats  map[string]map[uuid.UUID]struct{}
	chatSessions  map[uuid.UUID]set
	agentSessions map[uuid.UUID]set
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:      make(map[string]contract.EventSink),
		sessionAgent:  make(map[string]uuid.UUID),
		sessionChats:  make(map[string]map[uuid.UUID]struct{}),
		chatSessions:  make(map[uuid.UUID]set),
		agentSessions: make(map[uuid.UUID]set),
	}
}

// Register records a freshly authenticated session. Chat subscriptions
// are added separately as the session joins its chats.
func (r *Registry) Register(sessionID string, agentID uuid.UUID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = sink
	r.sessionAgent[sessionID] = agentID
	r.sessionChats[sessionID] = make(map[uuid.UUID]struct{})
	if _, ok := r.agentSessions[agentID]; !ok {
		r.agentSessions[agentID] = make(set)
	}
	r.agentSessions[agentID][sessionID] = struct{}{}
}

// Drop removes a session entirely and returns the chats it was still
// subscribed to, so the caller can release the matching broker topics.
// Empty index entries are cleaned up to avoid leaking over time.
func (r *Registry) Drop(sessionID string) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chats []uuid.UUID
	for chatID := range r.sessionChats[sessionID] {
		chats = append(chats, chatID)
		r.removeChatSession(chatID, sessionID)
	}
	delete(r.sessionChats, sessionID)
	delete(r.sessions, sessionID)

	if agentID, ok := r.sessionAgent[sessionID]; ok {
		delete(r.sessionAgent, sessionID)
		if sessions, ok := r.agentSessions[agentID]; ok {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(r.agentSessions, agentID)
			}
		}
	}
	return chats
}

func (r *Registry) SubscribeChat(sessionID string, chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	r.sessionChats[sessionID][chatID] = struct{}{}
	if _, ok := r.chatSessions[chatID]; !ok {
		r.chatSessions[chatID] = make(set)
	}
	r.chatSessions[chatID][sessionID] = struct{}{}
}

func (r *Registry) UnsubscribeChat(sessionID string, chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chats, ok := r.sessionChats[sessionID]; ok {
		delete(chats, chatID)
	}
	r.removeChatSession(chatID, sessionID)
}

func (r *Registry) removeChatSession(chatID uuid.UUID, sessionID string) {
	if sessions, ok := r.chatSessions[chatID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.chatSessions, chatID)
		}
	}
}

// SinksForChat resolves the sessions currently subscribed to a chat.
// Returns nil when nobody on this process is watching.
func (r *Registry) SinksForChat(chatID uuid.UUID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions, ok := r.chatSessions[chatID]
	if !ok {
		return nil
	}
	var sinks []contract.EventSink
	for sessionID := range sessions {
		if sink, exists := r.sessions[sessionID]; exists {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

// SinksForAgent resolves every live session of one agent, used for
// agent-directed notifications such as being added to a new chat.
func (r *Registry) SinksForAgent(agentID uuid.UUID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions, ok := r.agentSessions[agentID]
	if !ok {
		return nil
	}
	var sinks []contract.EventSink
	for sessionID := range sessions {
		if sink, exists := r.sessions[sessionID]; exists {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}
