package domain

import (
	"cmp"
	"slices"
	"time"
)

// DefaultMaxUploadBytes bounds the raw size of a single upload so the
// encoded document stays under the registry's per-document limit.
const DefaultMaxUploadBytes = 700_000

// FileRecord is one stored file as the registry returns it.
type FileRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType"`
	SizeBytes int64     `json:"sizeBytes"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pending reports whether the registry has not assigned a timestamp yet.
func (r FileRecord) Pending() bool {
	return r.CreatedAt.IsZero()
}

// NewFile is the create-shaped write submitted to the registry. The registry
// assigns the id and the creation time.
type NewFile struct {
	Name      string
	MimeType  string
	SizeBytes int64
	Payload   string
}

// RawFileInput is an upload before encoding.
type RawFileInput struct {
	Name      string
	MimeType  string
	SizeBytes int64
	Data      []byte
}

// EffectiveSize is the larger of the declared size and the actual length.
func (in RawFileInput) EffectiveSize() int64 {
	return max(in.SizeBytes, int64(len(in.Data)))
}

// Snapshot is a complete ordered view of the registry at one point in time.
type Snapshot struct {
	Records []FileRecord
}

// NewSnapshot copies and orders records.
func NewSnapshot(records []FileRecord) Snapshot {
	out := slices.Clone(records)
	SortRecords(out)
	return Snapshot{Records: out}
}

func (s Snapshot) Len() int {
	return len(s.Records)
}

// Find returns the record with the given id.
func (s Snapshot) Find(id string) (FileRecord, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return FileRecord{}, false
}

// SortRecords orders records by CreatedAt descending. Pending records come
// first; equal timestamps fall back to id descending.
func SortRecords(records []FileRecord) {
	slices.SortStableFunc(records, func(a, b FileRecord) int {
		if a.Pending() != b.Pending() {
			if a.Pending() {
				return -1
			}
			return 1
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if len(a.ID) != len(b.ID) {
			return cmp.Compare(len(b.ID), len(a.ID))
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
