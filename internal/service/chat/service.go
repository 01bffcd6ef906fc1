// Package chat holds the in-memory session store: the authoritative session
// collection, the active-session pointer, and all mutation operations.
package chat

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mxfan/gemchat/backend/internal/model/chat"
)

// Persister receives the full session snapshot after every mutation.
// Failures are logged and swallowed: persistence is best-effort, the
// in-memory state stays authoritative.
type Persister interface {
	Save(sessions []chat.Session) error
}

// EventType labels a store change notification.
type EventType string

const (
	EventSessionCreated  EventType = "session_created"
	EventSessionDeleted  EventType = "session_deleted"
	EventSessionRenamed  EventType = "session_renamed"
	EventSessionCleared  EventType = "session_cleared"
	EventSessionSelected EventType = "session_selected"
	EventMessageAppended EventType = "message_appended"
	EventMessageUpdated  EventType = "message_updated"
)

// Event describes one store mutation, published to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId,omitempty"`
}

// Service is the session store. All operations are safe for concurrent use;
// mutations are serialized under one mutex so snapshot writes observe a
// consistent collection. Operations with an unknown id are defensive no-ops,
// because callers (the accumulator in particular) may race a user delete.
type Service struct {
	mu        sync.RWMutex
	sessions  map[string]*chat.Session
	active    string
	persister Persister

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewService builds an empty store. persister may be nil (tests).
func NewService(persister Persister) *Service {
	return &Service{
		sessions:  make(map[string]*chat.Session),
		persister: persister,
		subs:      make(map[int]chan Event),
	}
}

// Init seeds the store from a loaded snapshot and establishes the collection
// invariant: at least one session exists and the most recently modified one
// is active. An empty snapshot yields a freshly created session.
func (s *Service) Init(loaded []chat.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range loaded {
		session := loaded[i]
		s.sessions[session.ID] = &session
	}

	if len(s.sessions) == 0 {
		session := chat.NewSession()
		s.sessions[session.ID] = &session
		s.active = session.ID
		s.persistLocked()
		return
	}
	s.active = s.mostRecentLocked()
}

// CreateSession appends a fresh session and makes it active.
func (s *Service) CreateSession() chat.Session {
	s.mu.Lock()
	session := chat.NewSession()
	s.sessions[session.ID] = &session
	s.active = session.ID
	s.persistLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventSessionCreated, SessionID: session.ID})
	return session
}

// DeleteSession removes a session. Deleting the active session promotes the
// most-recently-modified survivor, or creates a fresh session when none
// remain. Unknown ids are ignored.
func (s *Service) DeleteSession(id string) {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, id)

	var created string
	if s.active == id {
		if len(s.sessions) == 0 {
			session := chat.NewSession()
			s.sessions[session.ID] = &session
			created = session.ID
		}
		s.active = s.mostRecentLocked()
	}
	s.persistLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventSessionDeleted, SessionID: id})
	if created != "" {
		s.publish(Event{Type: EventSessionCreated, SessionID: created})
	}
}

// RenameSession updates a session title. Empty or whitespace-only titles are
// a no-op, as are unknown ids.
func (s *Service) RenameSession(id, title string) {
	if strings.TrimSpace(title) == "" {
		return
	}

	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	session.Title = title
	session.LastModified = time.Now().UTC()
	s.persistLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventSessionRenamed, SessionID: id})
}

// ClearSession drops all messages from a session, keeping the session itself.
func (s *Service) ClearSession(id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	session.Messages = []chat.Message{}
	session.LastModified = time.Now().UTC()
	s.persistLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventSessionCleared, SessionID: id})
}

// AppendMessage adds a message to a session. The first user message of a
// still-untitled session also derives the session title from its text.
func (s *Service) AppendMessage(sessionID string, msg chat.Message) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if len(session.Messages) == 0 && msg.Role == chat.RoleUser && session.Title == chat.DefaultTitle {
		session.Title = chat.DeriveTitle(msg.Text)
	}
	session.Messages = append(session.Messages, msg)
	session.LastModified = time.Now().UTC()
	s.persistLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventMessageAppended, SessionID: sessionID, MessageID: msg.ID})
}

// UpdateMessage applies a patch to an existing message. Unknown session or
// message ids are ignored; patches therefore become harmless after a race
// with delete or clear.
func (s *Service) UpdateMessage(sessionID, messageID string, patch chat.MessagePatch) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}

	applied := false
	for i := range session.Messages {
		if session.Messages[i].ID != messageID {
			continue
		}
		if patch.Text != nil {
			session.Messages[i].Text = *patch.Text
		}
		if patch.Thought != nil {
			session.Messages[i].Thought = *patch.Thought
		}
		if patch.Streaming != nil {
			session.Messages[i].Streaming = *patch.Streaming
		}
		applied = true
		break
	}
	if !applied {
		s.mu.Unlock()
		return
	}
	session.LastModified = time.Now().UTC()
	s.persistLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventMessageUpdated, SessionID: sessionID, MessageID: messageID})
}

// SelectSession moves the active pointer. Unknown ids are ignored.
func (s *Service) SelectSession(id string) {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return
	}
	s.active = id
	s.mu.Unlock()

	s.publish(Event{Type: EventSessionSelected, SessionID: id})
}

// ActiveSession returns the currently selected session.
func (s *Service) ActiveSession() (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[s.active]
	if !ok {
		return chat.Session{}, false
	}
	return cloneSession(session), true
}

// Session returns one session by id.
func (s *Service) Session(id string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, false
	}
	return cloneSession(session), true
}

// Messages returns a copy of a session's message list.
func (s *Service) Messages(sessionID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]chat.Message(nil), session.Messages...)
}

// Sessions lists all sessions ordered by LastModified descending.
func (s *Service) Sessions() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers a change listener. The returned cancel func must be
// called when the listener goes away. Slow listeners miss events rather than
// blocking mutations.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, 32)
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Service) publish(event Event) {
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
	s.subMu.Unlock()
}

// persistLocked writes the full snapshot while holding the store lock, so
// writes are single-writer and ordered. Failures are logged only.
func (s *Service) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.snapshotLocked()); err != nil {
		log.Printf("[store] failed to persist sessions: %v", err)
	}
}

func (s *Service) snapshotLocked() []chat.Session {
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out
}

func (s *Service) mostRecentLocked() string {
	var (
		bestID string
		bestAt time.Time
	)
	for id, session := range s.sessions {
		if bestID == "" || session.LastModified.After(bestAt) {
			bestID = id
			bestAt = session.LastModified
		}
	}
	return bestID
}

func cloneSession(session *chat.Session) chat.Session {
	out := *session
	out.Messages = append([]chat.Message(nil), session.Messages...)
	return out
}
