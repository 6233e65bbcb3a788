package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	"github.com/anthanhphan/go-file-drop/pkg/codec"
	"github.com/anthanhphan/gosdk/logger"
)

// RegistryView keeps a local ordered mirror of the registry. The mirror is
// only ever replaced by a snapshot coming back from the registry; Add and
// Remove leave it alone until the change is echoed.
type RegistryView struct {
	registry       port.Registry
	maxUploadBytes int64
	snapshot       atomic.Pointer[domain.Snapshot]
}

// Ensure RegistryView implements port.FileRegistry.
var _ port.FileRegistry = (*RegistryView)(nil)

// NewRegistryView builds the view-model. A non-positive ceiling falls back
// to domain.DefaultMaxUploadBytes.
func NewRegistryView(registry port.Registry, maxUploadBytes int64) *RegistryView {
	if maxUploadBytes <= 0 {
		maxUploadBytes = domain.DefaultMaxUploadBytes
	}
	v := &RegistryView{
		registry:       registry,
		maxUploadBytes: maxUploadBytes,
	}
	v.snapshot.Store(&domain.Snapshot{})
	return v
}

// MaxUploadBytes returns the configured upload ceiling.
func (v *RegistryView) MaxUploadBytes() int64 {
	return v.maxUploadBytes
}

func (v *RegistryView) Subscribe(ctx context.Context, onSnapshot func(domain.Snapshot), onError func(error)) (port.Subscription, error) {
	sub, err := v.registry.Watch(ctx,
		func(snap domain.Snapshot) {
			v.snapshot.Store(&snap)
			snapshotsReceived.Inc()
			registrySize.Set(float64(snap.Len()))
			if onSnapshot != nil {
				onSnapshot(snap)
			}
		},
		func(err error) {
			// The cached snapshot stays in place: stale but available.
			subscriptionErrors.Inc()
			logger.Warnw("Registry subscription failed", "error", err.Error())
			if onError != nil {
				onError(fmt.Errorf("%w: %w", domain.ErrSubscription, err))
			}
		},
	)
	if err != nil {
		subscriptionErrors.Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrSubscription, err)
	}
	return sub, nil
}

func (v *RegistryView) Add(ctx context.Context, file domain.RawFileInput) (domain.FileRecord, error) {
	size := file.EffectiveSize()
	if size > v.maxUploadBytes {
		uploadsTotal.WithLabelValues(resultRejected).Inc()
		return domain.FileRecord{}, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", domain.ErrTooLarge, size, v.maxUploadBytes)
	}

	record, err := v.registry.Create(ctx, domain.NewFile{
		Name:      file.Name,
		MimeType:  file.MimeType,
		SizeBytes: size,
		Payload:   codec.Encode(file.Data),
	})
	if err != nil {
		uploadsTotal.WithLabelValues(resultFailed).Inc()
		logger.Errorw("Upload failed", "file_name", file.Name, "size", size, "error", err.Error())
		return domain.FileRecord{}, fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}

	uploadsTotal.WithLabelValues(resultOK).Inc()
	logger.Infow("File uploaded", "file_id", record.ID, "file_name", record.Name, "size", size)
	return record, nil
}

func (v *RegistryView) Remove(ctx context.Context, id string) error {
	if err := v.registry.Delete(ctx, id); err != nil {
		deletesTotal.WithLabelValues(resultFailed).Inc()
		logger.Errorw("Delete failed", "file_id", id, "error", err.Error())
		return fmt.Errorf("%w: %w", domain.ErrDeleteFailed, err)
	}

	deletesTotal.WithLabelValues(resultOK).Inc()
	logger.Infow("File deleted", "file_id", id)
	return nil
}

func (v *RegistryView) Snapshot() domain.Snapshot {
	return *v.snapshot.Load()
}

func (v *RegistryView) Lookup(id string) (domain.FileRecord, bool) {
	return v.Snapshot().Find(id)
}

func (v *RegistryView) Download(record domain.FileRecord) ([]byte, error) {
	data, err := codec.Decode(record.Payload)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", record.ID, err)
	}
	return data, nil
}
