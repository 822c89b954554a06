package repositories

import (
	"context"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/internal/infrastructure/repositories/memory"
	redisrepo "vigil/internal/infrastructure/repositories/redis"
	"vigil/pkg/config"
	"vigil/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	redisClient *redis.Client
	defaults    domain.StreamSettings
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled. An unreachable Redis
// is not fatal: the factory falls back to in-memory storage.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		defaults: DefaultSettings(cfg),
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Retry:    retry.DefaultConfig(),
			Defaults: factory.defaults,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if factory.redisClient == nil {
		logger.Info("using memory repositories")
	}
	return factory
}

// DefaultSettings converts the stream section of the config into the
// settings used until the user saves their own.
func DefaultSettings(cfg *config.Config) domain.StreamSettings {
	settings := domain.DefaultStreamSettings()
	if q, err := domain.ParseQuality(cfg.Stream.Quality); err == nil {
		settings.Quality = q
	}
	if cfg.Stream.Framerate > 0 {
		settings.Framerate = cfg.Stream.Framerate
	}
	if cfg.Stream.AudioBitrate > 0 {
		settings.AudioBitrate = cfg.Stream.AudioBitrate
	}
	if cfg.Stream.Port > 0 {
		settings.Port = cfg.Stream.Port
	}
	return settings
}

func (f *RepositoryFactory) CreateSettingsRepository() ports.SettingsRepository {
	if f.redisClient != nil {
		return NewCachedSettingsRepository(redisrepo.NewSettingsRepository(f.redisClient), settingsCacheTTL)
	}
	return memory.NewSettingsRepository(f.defaults)
}

// RedisClient is nil when the factory fell back to memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.redisClient != nil
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck pings Redis. Memory storage is always healthy.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
