package service

import (
	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	"github.com/anthanhphan/gosdk/logger"
)

// AdminGate compares a candidate PIN with one shared secret.
type AdminGate struct {
	secret string
}

// Ensure AdminGate implements port.AdminGate.
var _ port.AdminGate = (*AdminGate)(nil)

// NewAdminGate creates a gate. An empty secret locks admin mode entirely.
func NewAdminGate(secret string) *AdminGate {
	if secret == "" {
		logger.Warnw("Admin secret is empty, admin mode is disabled")
	}
	return &AdminGate{secret: secret}
}

// Authenticate is a plain string comparison with no side effects.
func (g *AdminGate) Authenticate(pin string) bool {
	return g.secret != "" && pin == g.secret
}

// Login grants admin capability on a matching PIN.
func (g *AdminGate) Login(session *domain.AdminSession, pin string) error {
	if !g.Authenticate(pin) {
		loginsTotal.WithLabelValues(resultRejected).Inc()
		return domain.ErrAuthDenied
	}
	session.Grant()
	loginsTotal.WithLabelValues(resultOK).Inc()
	return nil
}

// Logout drops admin capability. It is a no-op for a guest.
func (g *AdminGate) Logout(session *domain.AdminSession) {
	session.Revoke()
}
