package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vigil/internal/core/domain"
	"vigil/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = "vigil:schema:version"
	migrateLockKey   = "vigil:lock:migrate"
	migrateLockTTL   = 10 * time.Second
	migrateLockWait  = 30 * time.Second
)

// Migration is one forward schema step.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs every migration newer than the stored schema version. Monitors
// sharing one Redis take turns through a lock.
func Migrate(ctx context.Context, client *redis.Client, defaults domain.StreamSettings, logger *zap.SugaredLogger) error {
	return distributed.WithLock(ctx, client, migrateLockKey, migrateLockTTL, migrateLockWait, func(ctx context.Context) error {
		return migrate(ctx, client, defaults, logger)
	})
}

func migrate(ctx context.Context, client *redis.Client, defaults domain.StreamSettings, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	migrations := getMigrations(defaults)
	target := migrations[len(migrations)-1].Version
	if currentVersion >= target {
		logger.Debugw("schema is up to date", "current_version", currentVersion)
		return nil
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}
		logger.Infow("running migration", "version", migration.Version)

		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, migration.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	logger.Infow("all migrations completed", "final_version", target)
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func getMigrations(defaults domain.StreamSettings) []Migration {
	return []Migration{
		{
			// Seed the settings hash. HSETNX keeps fields a user already saved.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					for field, value := range settingsFields(defaults) {
						pipe.HSetNX(ctx, settingsKey, field, value)
					}
					return nil
				})
				return err
			},
		},
	}
}
