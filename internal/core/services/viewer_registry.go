package services

import (
	"sync"
	"time"

	"vigil/internal/core/domain"
)

// ViewerRegistry tracks connected viewers in arrival order.
type ViewerRegistry struct {
	mu      sync.RWMutex
	viewers []domain.ViewerInfo
	dedup   bool
	now     func() time.Time
}

// ViewerRegistryOption configures a ViewerRegistry.
type ViewerRegistryOption func(*ViewerRegistry)

// WithDeduplication makes a re-add from a known address refresh its
// connection time instead of adding a second entry.
func WithDeduplication() ViewerRegistryOption {
	return func(r *ViewerRegistry) { r.dedup = true }
}

func withRegistryClock(now func() time.Time) ViewerRegistryOption {
	return func(r *ViewerRegistry) { r.now = now }
}

// NewViewerRegistry creates an empty registry.
func NewViewerRegistry(opts ...ViewerRegistryOption) *ViewerRegistry {
	r := &ViewerRegistry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddViewer records a viewer connected from address.
func (r *ViewerRegistry) AddViewer(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dedup {
		for i := range r.viewers {
			if r.viewers[i].Address == address {
				r.viewers[i].ConnectedAt = r.now()
				return
			}
		}
	}
	r.viewers = append(r.viewers, domain.ViewerInfo{Address: address, ConnectedAt: r.now()})
}

// RemoveViewer drops the first entry with the address. Unknown addresses are ignored.
func (r *ViewerRegistry) RemoveViewer(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.viewers {
		if r.viewers[i].Address == address {
			r.viewers = append(r.viewers[:i], r.viewers[i+1:]...)
			return
		}
	}
}

// Clear forgets all viewers.
func (r *ViewerRegistry) Clear() {
	r.mu.Lock()
	r.viewers = nil
	r.mu.Unlock()
}

// Count returns the number of registered viewers.
func (r *ViewerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// Viewers returns a copy of the current list.
func (r *ViewerRegistry) Viewers() []domain.ViewerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ViewerInfo, len(r.viewers))
	copy(out, r.viewers)
	return out
}
