package services

import (
	"sync"
	"time"

	"vigil/internal/core/domain"
)

// StatusHub holds the current SessionStatus and fans out every change to
// subscribers. Each subscriber keeps only the latest snapshot, so a slow
// reader never blocks a writer.
type StatusHub struct {
	mu     sync.RWMutex
	status domain.SessionStatus
	subs   map[int]chan domain.SessionStatus
	nextID int
	now    func() time.Time
}

// NewStatusHub creates a hub with a zero status and no subscribers.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		subs: make(map[int]chan domain.SessionStatus),
		now:  time.Now,
	}
}

// Snapshot returns a copy of the current status.
func (h *StatusHub) Snapshot() domain.SessionStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Update applies fn under the write lock and broadcasts the result.
func (h *StatusHub) Update(fn func(*domain.SessionStatus)) domain.SessionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn(&h.status)
	h.status.UpdatedAt = h.now()
	snap := h.status

	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	return snap
}

// Subscribe returns a channel primed with the current snapshot and a cancel
// func that closes it.
func (h *StatusHub) Subscribe() (<-chan domain.SessionStatus, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan domain.SessionStatus, 1)
	ch <- h.status
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (h *StatusHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
