package backup

import (
	"context"
	"errors"
	"fmt"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/pkg/backup"
	"vigil/pkg/validation"

	"go.uber.org/zap"
)

var ErrNoBackups = errors.New("no settings backups found")

// Restorer writes a settings snapshot back to the repository.
type Restorer struct {
	service  *backup.Service
	settings ports.SettingsRepository
	logger   *zap.SugaredLogger
}

func NewRestorer(service *backup.Service, settings ports.SettingsRepository, logger *zap.SugaredLogger) *Restorer {
	return &Restorer{service: service, settings: settings, logger: logger}
}

func (r *Restorer) List(ctx context.Context) ([]string, error) {
	return r.service.List(ctx, SettingsKind)
}

// Restore loads the named snapshot, or the newest one when name is empty,
// validates it and saves it. The settings apply on the next monitoring start.
func (r *Restorer) Restore(ctx context.Context, name string) (domain.StreamSettings, error) {
	if name == "" {
		latest, err := r.service.Latest(ctx, SettingsKind)
		if err != nil {
			return domain.StreamSettings{}, err
		}
		if latest == "" {
			return domain.StreamSettings{}, ErrNoBackups
		}
		name = latest
	}

	snap, err := r.service.Load(ctx, SettingsKind, name)
	if err != nil {
		return domain.StreamSettings{}, err
	}
	var settings domain.StreamSettings
	if err := snap.Decode(&settings); err != nil {
		return domain.StreamSettings{}, err
	}

	quality, err := domain.ParseQuality(string(settings.Quality))
	if err != nil {
		return domain.StreamSettings{}, fmt.Errorf("backup %s: %w", name, err)
	}
	settings.Quality = quality
	if err := validation.ValidateStreamSettings(string(quality), settings.Framerate, settings.AudioBitrate, settings.Port); err != nil {
		return domain.StreamSettings{}, fmt.Errorf("%w: backup %s: %v", domain.ErrInvalidConfig, name, err)
	}

	if err := r.settings.Save(ctx, settings); err != nil {
		return domain.StreamSettings{}, fmt.Errorf("save settings: %w", err)
	}
	r.logger.Infow("settings restored",
		"backup_name", name,
		"backup_version", snap.Version,
		"quality", settings.Quality,
		"port", settings.Port,
	)
	return settings, nil
}
