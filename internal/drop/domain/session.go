package domain

import "sync"

// SessionState is the capability level of an AdminSession.
type SessionState string

const (
	SessionGuest SessionState = "guest"
	SessionAdmin SessionState = "admin"
)

// AdminSession is a process-local capability flag. It carries no identity
// and is never persisted.
type AdminSession struct {
	mu    sync.RWMutex
	admin bool
}

// NewAdminSession returns a session in the Guest state.
func NewAdminSession() *AdminSession {
	return &AdminSession{}
}

func (s *AdminSession) State() SessionState {
	if s.IsAdmin() {
		return SessionAdmin
	}
	return SessionGuest
}

func (s *AdminSession) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin
}

// Grant moves the session to Admin.
func (s *AdminSession) Grant() {
	s.mu.Lock()
	s.admin = true
	s.mu.Unlock()
}

// Revoke moves the session to Guest. It is a no-op for a guest.
func (s *AdminSession) Revoke() {
	s.mu.Lock()
	s.admin = false
	s.mu.Unlock()
}
