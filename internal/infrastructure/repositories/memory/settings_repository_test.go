package memory

import (
	"context"
	"testing"

	"vigil/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepository_GetSave(t *testing.T) {
	repo := NewSettingsRepository(domain.DefaultStreamSettings())
	ctx := context.Background()

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultStreamSettings(), got)

	updated := domain.StreamSettings{Quality: domain.QualityHigh, Framerate: 24, AudioBitrate: 96000, Port: 8600}
	require.NoError(t, repo.Save(ctx, updated))

	got, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestSettingsRepository_CancelledContext(t *testing.T) {
	repo := NewSettingsRepository(domain.DefaultStreamSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, repo.Save(ctx, domain.StreamSettings{}), context.Canceled)
}
