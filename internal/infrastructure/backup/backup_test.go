package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/infrastructure/repositories/memory"
	"vigil/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newService(t *testing.T) (*backup.Service, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := backup.NewFileStorage(dir)
	require.NoError(t, err)
	return backup.NewService(storage, "test"), dir
}

func TestScheduler_RunOnceAndRestore(t *testing.T) {
	service, _ := newService(t)
	logger := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	saved := domain.StreamSettings{Quality: domain.QualityLow, Framerate: 15, AudioBitrate: 64000, Port: 8600}
	repo := memory.NewSettingsRepository(saved)
	scheduler := NewScheduler(service, repo, Config{Interval: time.Hour, Retention: 24 * time.Hour}, logger)

	name, err := scheduler.RunOnce(ctx, "manual")
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, domain.DefaultStreamSettings()))

	restorer := NewRestorer(service, repo, logger)
	names, err := restorer.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)

	got, err := restorer.Restore(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	current, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, current)
}

func TestScheduler_StartTakesInitialSnapshot(t *testing.T) {
	service, _ := newService(t)
	repo := memory.NewSettingsRepository(domain.DefaultStreamSettings())
	scheduler := NewScheduler(service, repo, Config{Interval: time.Hour}, zaptest.NewLogger(t).Sugar())

	scheduler.Start(context.Background())

	require.Eventually(t, func() bool {
		names, err := service.List(context.Background(), SettingsKind)
		return err == nil && len(names) == 1
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	service, _ := newService(t)
	scheduler := NewScheduler(service, memory.NewSettingsRepository(domain.DefaultStreamSettings()), Config{Interval: time.Hour}, zaptest.NewLogger(t).Sugar())

	scheduler.Stop()
}

func TestRestorer_NoBackups(t *testing.T) {
	service, _ := newService(t)
	restorer := NewRestorer(service, memory.NewSettingsRepository(domain.DefaultStreamSettings()), zaptest.NewLogger(t).Sugar())

	_, err := restorer.Restore(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoBackups)
}

func TestRestorer_RejectsInvalidSnapshot(t *testing.T) {
	service, dir := newService(t)
	ctx := context.Background()
	repo := memory.NewSettingsRepository(domain.DefaultStreamSettings())

	name, err := service.Create(ctx, SettingsKind, domain.StreamSettings{Quality: domain.QualityHigh, Framerate: 500, AudioBitrate: 64000, Port: 8554}, nil)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, name))
	require.NoError(t, err)

	_, err = NewRestorer(service, repo, zaptest.NewLogger(t).Sugar()).Restore(ctx, name)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	current, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultStreamSettings(), current)
}
