package memory_registry

import (
	"context"
	"sync"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
)

// watcher delivers snapshots on its own goroutine. A slow consumer skips
// intermediate states instead of blocking writers.
type watcher struct {
	onSnapshot func(domain.Snapshot)
	onError    func(error)

	mailbox *domain.SnapshotMailbox
	failed  chan error
	done    chan struct{}
	once    sync.Once
}

func newWatcher(onSnapshot func(domain.Snapshot), onError func(error)) *watcher {
	return &watcher{
		onSnapshot: onSnapshot,
		onError:    onError,
		mailbox:    domain.NewSnapshotMailbox(),
		failed:     make(chan error, 1),
		done:       make(chan struct{}),
	}
}

func (w *watcher) offer(snap domain.Snapshot) {
	w.mailbox.Put(snap)
}

func (w *watcher) fail(err error) {
	select {
	case w.failed <- err:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case err := <-w.failed:
			if w.onError != nil {
				w.onError(err)
			}
			w.stop()
			return
		case snap := <-w.mailbox.C():
			if w.stopped() {
				return
			}
			if w.onSnapshot != nil {
				w.onSnapshot(snap)
			}
		}
	}
}

func (w *watcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
