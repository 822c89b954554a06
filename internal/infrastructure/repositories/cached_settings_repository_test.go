package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"vigil/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSettingsRepository struct {
	mock.Mock
}

func (m *MockSettingsRepository) Get(ctx context.Context) (domain.StreamSettings, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.StreamSettings), args.Error(1)
}

func (m *MockSettingsRepository) Save(ctx context.Context, settings domain.StreamSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func TestCachedSettingsRepository_GetHitsStoreOnce(t *testing.T) {
	next := &MockSettingsRepository{}
	next.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil).Once()
	repo := NewCachedSettingsRepository(next, time.Minute)
	ctx := context.Background()

	for range 3 {
		got, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultStreamSettings(), got)
	}
	next.AssertExpectations(t)
}

func TestCachedSettingsRepository_SaveRefreshesCache(t *testing.T) {
	next := &MockSettingsRepository{}
	next.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil).Once()
	repo := NewCachedSettingsRepository(next, time.Minute)
	ctx := context.Background()

	_, err := repo.Get(ctx)
	require.NoError(t, err)

	want := domain.StreamSettings{Quality: domain.QualityLow, Framerate: 15, AudioBitrate: 64000, Port: 8600}
	next.On("Save", mock.Anything, want).Return(nil)
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	next.AssertNumberOfCalls(t, "Get", 1)
}

func TestCachedSettingsRepository_FailedSaveInvalidates(t *testing.T) {
	next := &MockSettingsRepository{}
	next.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil)
	next.On("Save", mock.Anything, mock.Anything).Return(errors.New("READONLY"))
	repo := NewCachedSettingsRepository(next, time.Minute)
	ctx := context.Background()

	_, err := repo.Get(ctx)
	require.NoError(t, err)
	require.Error(t, repo.Save(ctx, domain.StreamSettings{Quality: domain.QualityHigh}))

	_, err = repo.Get(ctx)
	require.NoError(t, err)
	next.AssertNumberOfCalls(t, "Get", 2)
}

func TestCachedSettingsRepository_GetErrorNotCached(t *testing.T) {
	next := &MockSettingsRepository{}
	next.On("Get", mock.Anything).Return(domain.StreamSettings{}, errors.New("timeout")).Once()
	next.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil).Once()
	repo := NewCachedSettingsRepository(next, time.Minute)
	ctx := context.Background()

	_, err := repo.Get(ctx)
	require.Error(t, err)

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultStreamSettings(), got)
}
