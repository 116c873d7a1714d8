package server

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/errors"
)

// DefaultStatusTTL is how long a finished result stays available.
const DefaultStatusTTL = 2 * time.Minute

// ErrUnknownSubmission is returned for ids the hub never saw or already
// evicted.
var ErrUnknownSubmission = stderrors.New("unknown submission")

// StatusUpdate is the delivery report pushed to the visitor.
type StatusUpdate struct {
	ID        string   `json:"id"`
	Delivered bool     `json:"delivered"`
	Accepted  []string `json:"accepted,omitempty"`
	Failed    int      `json:"failed"`
	Code      string   `json:"code,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// NewStatusUpdate summarizes a finished attempt. Error texts are kept
// generic; relay messages stay in the server log.
func NewStatusUpdate(a *contact.Attempt) StatusUpdate {
	report, err := a.Result()
	update := StatusUpdate{ID: a.ID}
	if report != nil {
		update.Accepted = report.Accepted()
		update.Failed = len(report.Failed())
	}
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			update.Code = e.Code
		}
		switch {
		case update.Code == errors.ErrCodeMessageTooLarge:
			update.Error = "the message is too long to send"
		case errors.TypeOf(err) == errors.ErrorTypeTimeout:
			update.Error = "no relay acknowledged the message in time"
		case errors.TypeOf(err) == errors.ErrorTypeTransport:
			update.Error = "no relay accepted the message"
		default:
			update.Error = "the message could not be sent"
		}
		return update
	}
	update.Delivered = report.Delivered()
	return update
}

type statusEntry struct {
	done     chan struct{}
	update   StatusUpdate
	finished time.Time
}

// StatusHub keeps the result of recent submissions so the page can pick
// them up over the status socket.
type StatusHub struct {
	mu       sync.Mutex
	entries  map[string]*statusEntry
	ttl      time.Duration
	now      func() time.Time
	inflight sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewStatusHub(ttl time.Duration) *StatusHub {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	h := &StatusHub{
		entries: make(map[string]*statusEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go h.janitor()
	return h
}

// Track registers an attempt and records its result once it finishes.
func (h *StatusHub) Track(a *contact.Attempt) {
	entry := &statusEntry{done: make(chan struct{})}

	h.mu.Lock()
	h.entries[a.ID] = entry
	h.mu.Unlock()

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		<-a.Done()
		update := NewStatusUpdate(a)

		h.mu.Lock()
		entry.update = update
		entry.finished = h.now()
		h.mu.Unlock()
		close(entry.done)
	}()
}

// Wait blocks until the submission finished or ctx ends.
func (h *StatusHub) Wait(ctx context.Context, id string) (StatusUpdate, error) {
	h.mu.Lock()
	entry, ok := h.entries[id]
	h.mu.Unlock()
	if !ok {
		return StatusUpdate{}, ErrUnknownSubmission
	}

	select {
	case <-entry.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return entry.update, nil
	case <-ctx.Done():
		return StatusUpdate{}, ctx.Err()
	}
}

// Known reports whether id is tracked.
func (h *StatusHub) Known(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[id]
	return ok
}

// Len returns the number of tracked submissions.
func (h *StatusHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Drain waits for every tracked dispatch to finish or ctx to end.
func (h *StatusHub) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops eviction.
func (h *StatusHub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *StatusHub) janitor() {
	ticker := time.NewTicker(h.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.evict()
		case <-h.stop:
			return
		}
	}
}

// evict drops finished entries older than the TTL. Unfinished entries are
// bounded by the publish timeout and are never dropped.
func (h *StatusHub) evict() {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-h.ttl)
	for id, entry := range h.entries {
		if !entry.finished.IsZero() && entry.finished.Before(cutoff) {
			delete(h.entries, id)
		}
	}
}
