package repositories

import (
	"context"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/pkg/cache"
)

const settingsCacheTTL = 5 * time.Second

// CachedSettingsRepository keeps the last read settings for a short TTL so
// status polling does not hit Redis on every request. Save invalidates it.
type CachedSettingsRepository struct {
	next  ports.SettingsRepository
	cache *cache.TTL[string, domain.StreamSettings]
}

func NewCachedSettingsRepository(next ports.SettingsRepository, ttl time.Duration) *CachedSettingsRepository {
	return &CachedSettingsRepository{
		next:  next,
		cache: cache.NewTTL[string, domain.StreamSettings](ttl),
	}
}

const settingsCacheKey = "settings"

func (r *CachedSettingsRepository) Get(ctx context.Context) (domain.StreamSettings, error) {
	return r.cache.GetOrLoad(ctx, settingsCacheKey, r.next.Get)
}

func (r *CachedSettingsRepository) Save(ctx context.Context, settings domain.StreamSettings) error {
	r.cache.Delete(settingsCacheKey)
	if err := r.next.Save(ctx, settings); err != nil {
		return err
	}
	r.cache.Set(settingsCacheKey, settings)
	return nil
}
