package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"vigil/internal/core/domain"
	"vigil/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const settingsKey = "vigil:settings"

var errSettingsMissing = errors.New("settings not found")

// SettingsRepository stores stream settings as fields of one hash so that
// other tooling can read or edit a single preference with HGET/HSET.
type SettingsRepository struct {
	client *redis.Client
}

func NewSettingsRepository(client *redis.Client) *SettingsRepository {
	return &SettingsRepository{client: client}
}

func (r *SettingsRepository) Get(ctx context.Context) (_ domain.StreamSettings, err error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "hgetall", settingsKey)
	defer func() { tracing.EndWithError(span, err) }()

	fields, err := r.client.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return domain.StreamSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if len(fields) == 0 {
		return domain.StreamSettings{}, errSettingsMissing
	}
	return parseSettings(fields)
}

func (r *SettingsRepository) Save(ctx context.Context, settings domain.StreamSettings) (err error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "hset", settingsKey)
	defer func() { tracing.EndWithError(span, err) }()

	if err = r.client.HSet(ctx, settingsKey, settingsFields(settings)).Err(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func settingsFields(s domain.StreamSettings) map[string]interface{} {
	return map[string]interface{}{
		"quality":       string(s.Quality),
		"framerate":     s.Framerate,
		"audio_bitrate": s.AudioBitrate,
		"port":          s.Port,
	}
}

func parseSettings(fields map[string]string) (domain.StreamSettings, error) {
	settings := domain.DefaultStreamSettings()

	if v, ok := fields["quality"]; ok {
		q, err := domain.ParseQuality(v)
		if err != nil {
			return domain.StreamSettings{}, err
		}
		settings.Quality = q
	}

	ints := map[string]*int{
		"framerate":     &settings.Framerate,
		"audio_bitrate": &settings.AudioBitrate,
		"port":          &settings.Port,
	}
	for name, dst := range ints {
		v, ok := fields[name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.StreamSettings{}, fmt.Errorf("settings field %s: %w", name, err)
		}
		*dst = n
	}
	return settings, nil
}
