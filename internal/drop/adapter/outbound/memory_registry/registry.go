// Package memory_registry is an in-process Registry. It backs single-node
// deployments, the standalone registry server and tests.
package memory_registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	"github.com/anthanhphan/go-file-drop/pkg/idgen"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory registry closed")

// Registry keeps records in a map and pushes full snapshots to watchers.
type Registry struct {
	mu          sync.Mutex
	ids         *idgen.Snowflake
	records     map[string]domain.FileRecord
	watchers    map[uint64]*watcher
	nextWatcher uint64
	closed      bool
}

// Ensure Registry implements port.Registry.
var _ port.Registry = (*Registry)(nil)

// New creates an empty registry. A nil generator uses node 0 on the system clock.
func New(ids *idgen.Snowflake) *Registry {
	if ids == nil {
		var err error
		ids, err = idgen.New(0, nil)
		if err != nil {
			panic(fmt.Sprintf("memory registry: default id generator: %v", err))
		}
	}
	return &Registry{
		ids:      ids,
		records:  make(map[string]domain.FileRecord),
		watchers: make(map[uint64]*watcher),
	}
}

func (r *Registry) Watch(ctx context.Context, onSnapshot func(domain.Snapshot), onError func(error)) (port.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.nextWatcher++
	id := r.nextWatcher
	w := newWatcher(onSnapshot, onError)
	r.watchers[id] = w
	w.offer(r.snapshotLocked())
	r.mu.Unlock()

	go w.run(ctx)

	return port.SubscriptionFunc(func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
		w.stop()
	}), nil
}

func (r *Registry) Create(ctx context.Context, file domain.NewFile) (domain.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.FileRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.FileRecord{}, ErrClosed
	}

	id, createdAt, err := r.ids.NextString()
	if err != nil {
		return domain.FileRecord{}, err
	}

	record := domain.FileRecord{
		ID:        id,
		Name:      file.Name,
		MimeType:  file.MimeType,
		SizeBytes: file.SizeBytes,
		Payload:   file.Payload,
		CreatedAt: createdAt,
	}
	r.records[id] = record
	r.publishLocked()
	return record, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if _, ok := r.records[id]; !ok {
		return nil
	}
	delete(r.records, id)
	r.publishLocked()
	return nil
}

// Get returns one record by id.
func (r *Registry) Get(id string) (domain.FileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	return record, ok
}

// Disconnect fails every live watcher with err, as a dropped connection
// would. Records are kept and new watches are accepted.
func (r *Registry) Disconnect(err error) {
	r.mu.Lock()
	watchers := r.watchers
	r.watchers = make(map[uint64]*watcher)
	r.mu.Unlock()

	for _, w := range watchers {
		w.fail(err)
	}
}

// Close ends every watcher and rejects further calls.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	watchers := r.watchers
	r.watchers = nil
	r.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
	return nil
}

func (r *Registry) snapshotLocked() domain.Snapshot {
	records := make([]domain.FileRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	domain.SortRecords(records)
	return domain.Snapshot{Records: records}
}

func (r *Registry) publishLocked() {
	if len(r.watchers) == 0 {
		return
	}
	snap := r.snapshotLocked()
	for _, w := range r.watchers {
		w.offer(domain.Snapshot{Records: slices.Clone(snap.Records)})
	}
}
