package services

import (
	"context"
	"errors"
	"testing"

	"vigil/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
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

type monitorFixture struct {
	service  *MonitorService
	session  *SessionManager
	audio    *AudioPipeline
	servers  *fakeServerFactory
	mics     *fakeAudioFactory
	settings *MockSettingsRepository
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	hub := NewStatusHub()
	viewers := NewViewerRegistry()
	servers := &fakeServerFactory{}
	mics := &fakeAudioFactory{permission: true, minBuffer: 1280, input: newFakeAudioInput(false)}
	settings := &MockSettingsRepository{}

	session := NewSessionManager(servers, viewers, hub, nil, logger)
	classifier := NewCryClassifier(DefaultCryClassifierConfig(), &fakeLoader{model: newFakeModel(nil)}, nil, logger)
	audio := NewAudioPipeline(mics, classifier, hub, nil, nil, logger, DefaultAudioPipelineConfig())
	service := NewMonitorService(session, audio, hub, viewers, settings, logger)
	t.Cleanup(func() { service.Close(context.Background()) })

	return &monitorFixture{
		service:  service,
		session:  session,
		audio:    audio,
		servers:  servers,
		mics:     mics,
		settings: settings,
	}
}

func TestMonitorService_StartMonitoringUsesSettings(t *testing.T) {
	f := newMonitorFixture(t)
	f.settings.On("Get", mock.Anything).Return(domain.StreamSettings{
		Quality:      domain.QualityHigh,
		Framerate:    25,
		AudioBitrate: 96000,
		Port:         9000,
	}, nil)

	err := f.service.StartMonitoring(context.Background(), fakeSurface{id: "ui"})

	require.NoError(t, err)
	assert.Equal(t, domain.StateStreaming, f.session.State())
	assert.True(t, f.audio.Running())
	assert.Equal(t, "rtsp://192.168.1.20:9000/", f.session.URL())

	cfg, ok := f.session.Config()
	require.True(t, ok)
	assert.Equal(t, 1920, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
	assert.Equal(t, 25, cfg.FPS)
	assert.Equal(t, 96000, cfg.AudioBitrate)
	f.settings.AssertExpectations(t)
}

func TestMonitorService_StartMonitoringFallsBackToDefaults(t *testing.T) {
	f := newMonitorFixture(t)
	f.settings.On("Get", mock.Anything).Return(domain.StreamSettings{}, errors.New("redis: connection refused"))

	require.NoError(t, f.service.StartMonitoring(context.Background(), nil))

	cfg, ok := f.session.Config()
	require.True(t, ok)
	assert.Equal(t, domain.DefaultStreamConfig(), cfg)
	assert.False(t, f.session.HasPreview())
}

func TestMonitorService_AudioFailureIsNotFatal(t *testing.T) {
	f := newMonitorFixture(t)
	f.mics.permission = false
	f.settings.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil)

	require.NoError(t, f.service.StartMonitoring(context.Background(), nil))

	assert.Equal(t, domain.StateStreaming, f.session.State())
	assert.False(t, f.audio.Running())
}

func TestMonitorService_StartWhileStreamingAttachesSurface(t *testing.T) {
	f := newMonitorFixture(t)
	f.settings.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil)
	ctx := context.Background()

	require.NoError(t, f.service.StartMonitoring(ctx, nil))
	require.NoError(t, f.service.StartMonitoring(ctx, fakeSurface{id: "returned-to-foreground"}))

	assert.Equal(t, 1, f.servers.opened())
	assert.Equal(t, "returned-to-foreground", f.servers.last().currentSurface().ID())
	assert.Len(t, f.mics.opened, 1)
}

func TestMonitorService_PrepareFailurePropagates(t *testing.T) {
	f := newMonitorFixture(t)
	f.servers.prepare = func(s *fakeMediaServer) { s.videoErr = domain.ErrUnsupported }
	f.settings.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil)

	err := f.service.StartMonitoring(context.Background(), nil)

	var prepErr *domain.PrepareError
	require.ErrorAs(t, err, &prepErr)
	assert.Equal(t, domain.ComponentVideo, prepErr.Component)
	assert.False(t, f.audio.Running())
	assert.Equal(t, domain.StateInitialized, f.session.State())
}

func TestMonitorService_StopMonitoring(t *testing.T) {
	f := newMonitorFixture(t)
	f.settings.On("Get", mock.Anything).Return(domain.DefaultStreamSettings(), nil)
	ctx := context.Background()
	require.NoError(t, f.service.StartMonitoring(ctx, nil))

	f.service.StopMonitoring(ctx)

	status := f.service.Status()
	assert.Equal(t, domain.StateIdle, status.State)
	assert.False(t, status.IsStreaming)
	assert.False(t, status.IsAnalyzing)
	assert.Empty(t, status.StreamURL)
	assert.False(t, f.audio.Running())
	assert.Empty(t, f.service.Viewers())
}

func TestMonitorService_UpdateSettings(t *testing.T) {
	t.Run("normalizes and saves", func(t *testing.T) {
		f := newMonitorFixture(t)
		want := domain.StreamSettings{Quality: domain.QualityLow, Framerate: 15, AudioBitrate: 64000, Port: 8600}
		f.settings.On("Save", mock.Anything, want).Return(nil)

		err := f.service.UpdateSettings(context.Background(), domain.StreamSettings{
			Quality:      "LOW",
			Framerate:    15,
			AudioBitrate: 64000,
			Port:         8600,
		})

		require.NoError(t, err)
		f.settings.AssertExpectations(t)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		f := newMonitorFixture(t)

		err := f.service.UpdateSettings(context.Background(), domain.StreamSettings{
			Quality:      domain.QualityMedium,
			Framerate:    240,
			AudioBitrate: 128000,
			Port:         8554,
		})

		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		f.settings.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("unknown quality", func(t *testing.T) {
		f := newMonitorFixture(t)

		err := f.service.UpdateSettings(context.Background(), domain.StreamSettings{Quality: "4k"})

		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newMonitorFixture(t)
		f.settings.On("Save", mock.Anything, mock.Anything).Return(errors.New("READONLY"))

		err := f.service.UpdateSettings(context.Background(), domain.DefaultStreamSettings())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "save settings")
	})
}
