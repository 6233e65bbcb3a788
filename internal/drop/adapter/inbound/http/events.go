package http_handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const (
	eventSnapshot = "snapshot"
	eventError    = "error"
)

// fileView is the browser-facing shape of a record. Payloads never leave
// through the list or event endpoints.
type fileView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	MimeType  string     `json:"mimeType"`
	SizeBytes int64      `json:"sizeBytes"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Pending   bool       `json:"pending"`
}

type snapshotEvent struct {
	Files []fileView `json:"files"`
}

type errorEvent struct {
	Error string `json:"error"`
}

func viewOf(snap domain.Snapshot) snapshotEvent {
	files := make([]fileView, 0, snap.Len())
	for _, r := range snap.Records {
		v := fileView{
			ID:        r.ID,
			Name:      r.Name,
			MimeType:  r.MimeType,
			SizeBytes: r.SizeBytes,
			Pending:   r.Pending(),
		}
		if !r.Pending() {
			createdAt := r.CreatedAt
			v.CreatedAt = &createdAt
		}
		files = append(files, v)
	}
	return snapshotEvent{Files: files}
}

// Broker fans registry snapshots out to every open event stream. Each
// stream holds only the newest undelivered snapshot.
type Broker struct {
	mu      sync.Mutex
	streams map[uint64]*eventStream
	next    uint64
	done    chan struct{}
	once    sync.Once
}

type eventStream struct {
	mailbox *domain.SnapshotMailbox
	errs    chan error
}

func NewBroker() *Broker {
	return &Broker{
		streams: make(map[uint64]*eventStream),
		done:    make(chan struct{}),
	}
}

// Publish hands snap to every stream.
func (b *Broker) Publish(snap domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.streams {
		s.mailbox.Put(snap)
	}
}

// Fail tells every stream the live feed broke. Streams stay open and keep
// showing their last snapshot.
func (b *Broker) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.streams {
		select {
		case s.errs <- err:
		default:
		}
	}
}

func (b *Broker) join() (*eventStream, func()) {
	s := &eventStream{
		mailbox: domain.NewSnapshotMailbox(),
		errs:    make(chan error, 1),
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.streams[id] = s
	b.mu.Unlock()
	eventStreams.Inc()

	var once sync.Once
	return s, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.streams, id)
			b.mu.Unlock()
			eventStreams.Dec()
		})
	}
}

func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// Close ends every stream.
func (b *Broker) Close() {
	b.once.Do(func() { close(b.done) })
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// Join before reading the cache so no snapshot published in between is lost.
	stream, leave := s.broker.join()
	initial := s.files.Snapshot()
	keepAlive := s.cfg.SSEKeepAlive()
	done := s.broker.done

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer leave()

		if err := writeEvent(w, eventSnapshot, viewOf(initial)); err != nil {
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			var err error
			select {
			case <-done:
				return
			case snap := <-stream.mailbox.C():
				err = writeEvent(w, eventSnapshot, viewOf(snap))
			case subErr := <-stream.errs:
				err = writeEvent(w, eventError, errorEvent{Error: subErr.Error()})
			case <-ticker.C:
				err = writeComment(w, "keepalive")
			}
			if err != nil {
				// Client went away.
				sdklogger.Debugw("Event stream closed", "error", err.Error())
				return
			}
		}
	}))
	return nil
}

// writeEvent writes one SSE frame: event: name\ndata: json\n\n
func writeEvent(w *bufio.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeComment(w *bufio.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	return w.Flush()
}
