// Package redis_registry stores the registry in Redis: one hash per record,
// a sorted set ordering ids by creation time, and a pub/sub channel that
// announces every change.
package redis_registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	"github.com/anthanhphan/go-file-drop/pkg/idgen"
	"github.com/anthanhphan/go-file-drop/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const (
	fieldID        = "id"
	fieldName      = "name"
	fieldMimeType  = "mime_type"
	fieldSizeBytes = "size_bytes"
	fieldPayload   = "payload"
	fieldCreatedAt = "created_at"
)

// keySpace names every key the registry touches under one prefix.
type keySpace struct {
	prefix string
}

func (k keySpace) file(id string) string { return k.prefix + ":file:" + id }
func (k keySpace) index() string         { return k.prefix + ":files" }
func (k keySpace) changes() string       { return k.prefix + ":files:changed" }

// Registry implements port.Registry on Redis.
type Registry struct {
	client  redis.UniversalClient
	ids     *idgen.Snowflake
	keys    keySpace
	breaker *resilience.CircuitBreaker
}

// Ensure Registry implements port.Registry.
var _ port.Registry = (*Registry)(nil)

// New creates a registry. ids should run on a clock shared by every writer,
// normally idgen.RedisClock on the same server.
func New(client redis.UniversalClient, ids *idgen.Snowflake, prefix string) *Registry {
	if prefix == "" {
		prefix = "filedrop"
	}
	return &Registry{
		client: client,
		ids:    ids,
		keys:   keySpace{prefix: prefix},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:              "redis-registry",
			FailureThreshold:  3,
			SuccessThreshold:  1,
			OpenTimeout:       5 * time.Second,
			HalfOpenMaxFlight: 1,
			IsFailure: func(err error) bool {
				return !errors.Is(err, redis.Nil)
			},
			OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
				logger.Warnw("Registry circuit changed state", "breaker", name, "from", string(from), "to", string(to))
			},
		}),
	}
}

func (r *Registry) Create(ctx context.Context, file domain.NewFile) (domain.FileRecord, error) {
	id, createdAt, err := r.ids.NextString()
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("generate id: %w", err)
	}

	record := domain.FileRecord{
		ID:        id,
		Name:      file.Name,
		MimeType:  file.MimeType,
		SizeBytes: file.SizeBytes,
		Payload:   file.Payload,
		CreatedAt: createdAt,
	}

	err = r.breaker.Execute(ctx, func(execCtx context.Context) error {
		_, err := r.client.TxPipelined(execCtx, func(pipe redis.Pipeliner) error {
			pipe.HSet(execCtx, r.keys.file(id), encodeRecord(record))
			pipe.ZAdd(execCtx, r.keys.index(), redis.Z{
				Score:  float64(createdAt.UnixMilli()),
				Member: id,
			})
			return nil
		})
		return err
	})
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("store file %s: %w", id, err)
	}

	r.announce(ctx, id)
	return record, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	var removed int64
	err := r.breaker.Execute(ctx, func(execCtx context.Context) error {
		var zrem *redis.IntCmd
		_, err := r.client.TxPipelined(execCtx, func(pipe redis.Pipeliner) error {
			zrem = pipe.ZRem(execCtx, r.keys.index(), id)
			pipe.Del(execCtx, r.keys.file(id))
			return nil
		})
		if err != nil {
			return err
		}
		removed = zrem.Val()
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}

	if removed > 0 {
		r.announce(ctx, id)
	}
	return nil
}

// announce publishes a change after the write has committed. A lost
// announcement only delays watchers until the next change.
func (r *Registry) announce(ctx context.Context, id string) {
	if err := r.client.Publish(ctx, r.keys.changes(), id).Err(); err != nil {
		logger.Warnw("Change announcement failed", "file_id", id, "error", err.Error())
	}
}

func (r *Registry) Watch(ctx context.Context, onSnapshot func(domain.Snapshot), onError func(error)) (port.Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(watchCtx, r.keys.changes())

	// Wait for the subscription to be live before the first load so no
	// change between the two can be missed.
	if _, err := pubsub.Receive(watchCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.keys.changes(), err)
	}

	initial, err := r.Load(watchCtx)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		defer func() { _ = pubsub.Close() }()

		deliver(onSnapshot, initial)
		for {
			if _, err := pubsub.ReceiveMessage(watchCtx); err != nil {
				r.endWatch(watchCtx, onError, fmt.Errorf("receive change: %w", err))
				return
			}

			snap, err := r.Load(watchCtx)
			if err != nil {
				r.endWatch(watchCtx, onError, err)
				return
			}
			if watchCtx.Err() != nil {
				return
			}
			deliver(onSnapshot, snap)
		}
	}()

	var once sync.Once
	return port.SubscriptionFunc(func() {
		once.Do(func() {
			cancel()
			// Closing unblocks a pending receive.
			_ = pubsub.Close()
		})
	}), nil
}

// endWatch reports err unless the watch was cancelled on purpose.
func (r *Registry) endWatch(ctx context.Context, onError func(error), err error) {
	if ctx.Err() != nil {
		return
	}
	if onError != nil {
		onError(err)
	}
}

// Load reads the full ordered record set.
func (r *Registry) Load(ctx context.Context) (domain.Snapshot, error) {
	ids, err := r.client.ZRevRange(ctx, r.keys.index(), 0, -1).Result()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("list files: %w", err)
	}
	if len(ids) == 0 {
		return domain.Snapshot{Records: []domain.FileRecord{}}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.keys.file(id))
		}
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read files: %w", err)
	}

	records := make([]domain.FileRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between the index read and the hash read.
			continue
		}
		record, err := decodeRecord(ids[i], fields)
		if err != nil {
			logger.Warnw("Skipping malformed registry record", "file_id", ids[i], "error", err.Error())
			continue
		}
		records = append(records, record)
	}

	domain.SortRecords(records)
	return domain.Snapshot{Records: records}, nil
}

func deliver(onSnapshot func(domain.Snapshot), snap domain.Snapshot) {
	if onSnapshot != nil {
		onSnapshot(snap)
	}
}

func encodeRecord(r domain.FileRecord) map[string]interface{} {
	return map[string]interface{}{
		fieldID:        r.ID,
		fieldName:      r.Name,
		fieldMimeType:  r.MimeType,
		fieldSizeBytes: r.SizeBytes,
		fieldPayload:   r.Payload,
		fieldCreatedAt: r.CreatedAt.UnixMilli(),
	}
}

func decodeRecord(id string, fields map[string]string) (domain.FileRecord, error) {
	size, err := strconv.ParseInt(fields[fieldSizeBytes], 10, 64)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("size_bytes: %w", err)
	}

	var createdAt time.Time
	if raw := fields[fieldCreatedAt]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.FileRecord{}, fmt.Errorf("created_at: %w", err)
		}
		createdAt = time.UnixMilli(ms).UTC()
	}

	return domain.FileRecord{
		ID:        id,
		Name:      fields[fieldName],
		MimeType:  fields[fieldMimeType],
		SizeBytes: size,
		Payload:   fields[fieldPayload],
		CreatedAt: createdAt,
	}, nil
}
