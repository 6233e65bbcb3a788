package domain

import "sync"

// SnapshotMailbox holds at most one undelivered snapshot. Put replaces
// whatever is waiting, so a slow reader always catches up to the newest
// state and a writer never blocks.
type SnapshotMailbox struct {
	mu sync.Mutex
	ch chan Snapshot
}

func NewSnapshotMailbox() *SnapshotMailbox {
	return &SnapshotMailbox{ch: make(chan Snapshot, 1)}
}

func (m *SnapshotMailbox) Put(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.ch:
	default:
	}
	m.ch <- s
}

// C is the receive side.
func (m *SnapshotMailbox) C() <-chan Snapshot {
	return m.ch
}
