package ports

import (
	"context"

	"vigil/internal/core/domain"
)

// SettingsRepository persists the stream preferences.
type SettingsRepository interface {
	Get(ctx context.Context) (domain.StreamSettings, error)
	Save(ctx context.Context, settings domain.StreamSettings) error
}

// AlertPublisher pushes alert transitions to an external system.
type AlertPublisher interface {
	Name() string
	PublishAlert(ctx context.Context, event domain.AlertEvent) error
}
