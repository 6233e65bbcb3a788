package port

import (
	"context"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
)

//go:generate mockgen -destination=../service/mocks/registry_mock.go -package=mocks -source=registry.go

// Subscription is a live registry query. Unsubscribe stops delivery and
// releases held resources; calling it more than once is harmless.
type Subscription interface {
	Unsubscribe()
}

// Registry is the remote real-time document store holding FileRecords.
type Registry interface {
	// Watch delivers a complete ordered snapshot once the query is live and
	// again after every change. A channel failure is reported once through
	// onError and ends delivery; Watch never retries on its own. Delivery
	// also ends when ctx is done.
	Watch(ctx context.Context, onSnapshot func(domain.Snapshot), onError func(error)) (Subscription, error)

	// Create stores a record and returns it with the assigned id and timestamp.
	Create(ctx context.Context, file domain.NewFile) (domain.FileRecord, error)

	// Delete removes a record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }
