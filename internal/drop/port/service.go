package port

import (
	"context"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
)

// FileRegistry mirrors the registry locally and mediates mutation intents.
type FileRegistry interface {
	// Subscribe opens a live query. Each snapshot replaces the local cache
	// before it is handed to onSnapshot.
	Subscribe(ctx context.Context, onSnapshot func(domain.Snapshot), onError func(error)) (Subscription, error)

	// Add encodes and submits a file. It never touches the local cache.
	Add(ctx context.Context, file domain.RawFileInput) (domain.FileRecord, error)

	// Remove submits a delete. It never touches the local cache.
	Remove(ctx context.Context, id string) error

	// Snapshot returns the last snapshot delivered by any subscription.
	Snapshot() domain.Snapshot

	// Lookup finds a record in the cached snapshot.
	Lookup(id string) (domain.FileRecord, bool)

	// Download decodes a record's payload. It has no network effect.
	Download(record domain.FileRecord) ([]byte, error)

	// MaxUploadBytes is the raw size ceiling Add enforces.
	MaxUploadBytes() int64
}

// AdminGate checks the admin PIN and flips session capability.
type AdminGate interface {
	Authenticate(pin string) bool
	Login(session *domain.AdminSession, pin string) error
	Logout(session *domain.AdminSession)
}
