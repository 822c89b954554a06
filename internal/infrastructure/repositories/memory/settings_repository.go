package memory

import (
	"context"
	"sync"

	"vigil/internal/core/domain"
)

// SettingsRepository keeps stream settings in process memory. Settings are
// lost on restart.
type SettingsRepository struct {
	mu       sync.RWMutex
	settings domain.StreamSettings
}

func NewSettingsRepository(initial domain.StreamSettings) *SettingsRepository {
	return &SettingsRepository{settings: initial}
}

func (r *SettingsRepository) Get(ctx context.Context) (domain.StreamSettings, error) {
	if err := ctx.Err(); err != nil {
		return domain.StreamSettings{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings domain.StreamSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	return nil
}
