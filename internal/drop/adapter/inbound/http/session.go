package http_handler

import (
	"sync"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/google/uuid"
)

const sessionCookie = "filedrop_session"

// SessionStore maps browser session tokens to admin sessions. Only
// sessions that logged in successfully are stored; everyone else is a guest.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.AdminSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.AdminSession)}
}

func (s *SessionStore) Get(token string) (*domain.AdminSession, bool) {
	if token == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	return session, ok
}

// Save stores session under a fresh token and returns the token.
func (s *SessionStore) Save(session *domain.AdminSession) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = session
	s.mu.Unlock()
	return token
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
