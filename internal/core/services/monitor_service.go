package services

import (
	"context"
	"fmt"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/pkg/validation"

	"go.uber.org/zap"
)

// MonitorService is the control surface over the media session and the
// audio analysis pipeline. It turns persisted settings into a StreamConfig
// on every start.
type MonitorService struct {
	session  *SessionManager
	audio    *AudioPipeline
	hub      *StatusHub
	viewers  *ViewerRegistry
	settings ports.SettingsRepository
	logger   *zap.SugaredLogger
}

// NewMonitorService composes the session, audio pipeline and settings store.
func NewMonitorService(
	session *SessionManager,
	audio *AudioPipeline,
	hub *StatusHub,
	viewers *ViewerRegistry,
	settings ports.SettingsRepository,
	logger *zap.SugaredLogger,
) *MonitorService {
	return &MonitorService{
		session:  session,
		audio:    audio,
		hub:      hub,
		viewers:  viewers,
		settings: settings,
		logger:   logger,
	}
}

// StartMonitoring brings the session up to Streaming and starts audio
// analysis. Audio failures are logged and do not fail the call. When the
// session is already streaming only the surface is re-attached.
func (s *MonitorService) StartMonitoring(ctx context.Context, surface ports.Surface) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warnw("failed to load settings, using defaults", "error", err)
		settings = domain.DefaultStreamSettings()
	}
	cfg := settings.ToStreamConfig()

	if s.session.State() == domain.StateStreaming {
		if err := s.session.Initialize(ctx, cfg, surface); err != nil {
			return err
		}
		s.startAudio(ctx)
		return nil
	}

	if err := s.session.Initialize(ctx, cfg, surface); err != nil {
		return err
	}
	if err := s.session.Prepare(ctx, cfg); err != nil {
		return err
	}
	if err := s.session.Start(ctx); err != nil {
		return err
	}
	s.startAudio(ctx)

	s.logger.Infow("monitoring started",
		"url", s.session.URL(),
		"quality", settings.Quality,
		"framerate", cfg.FPS,
	)
	return nil
}

func (s *MonitorService) startAudio(ctx context.Context) {
	if err := s.audio.Start(ctx); err != nil {
		s.logger.Warnw("audio analysis unavailable", "error", err)
	}
}

// StopMonitoring stops audio analysis and releases the session.
func (s *MonitorService) StopMonitoring(ctx context.Context) {
	s.audio.Stop()
	s.session.Release(ctx)
	s.logger.Infow("monitoring stopped")
}

// AttachSurface routes preview video to surface.
func (s *MonitorService) AttachSurface(surface ports.Surface) {
	s.session.AttachSurface(surface)
}

// DetachSurface stops preview rendering.
func (s *MonitorService) DetachSurface() {
	s.session.DetachSurface()
}

// SwitchCamera toggles the capture source.
func (s *MonitorService) SwitchCamera() error {
	return s.session.SwitchCaptureSource()
}

// ToggleLight flips the auxiliary light and returns its new state.
func (s *MonitorService) ToggleLight() bool {
	return s.session.ToggleAuxiliaryLight()
}

// ResetAlert clears the cry alert.
func (s *MonitorService) ResetAlert() {
	s.audio.ResetAlert()
}

// Status returns the current session status.
func (s *MonitorService) Status() domain.SessionStatus {
	return s.hub.Snapshot()
}

// Subscribe streams status updates until the returned cancel is called.
func (s *MonitorService) Subscribe() (<-chan domain.SessionStatus, func()) {
	return s.hub.Subscribe()
}

// Viewers returns the connected viewers.
func (s *MonitorService) Viewers() []domain.ViewerInfo {
	return s.viewers.Viewers()
}

// Settings returns the persisted stream preferences.
func (s *MonitorService) Settings(ctx context.Context) (domain.StreamSettings, error) {
	return s.settings.Get(ctx)
}

// UpdateSettings validates and persists new preferences. They take effect on
// the next StartMonitoring.
func (s *MonitorService) UpdateSettings(ctx context.Context, settings domain.StreamSettings) error {
	quality, err := domain.ParseQuality(string(settings.Quality))
	if err != nil {
		return err
	}
	settings.Quality = quality

	if err := validation.ValidateStreamSettings(string(quality), settings.Framerate, settings.AudioBitrate, settings.Port); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if err := s.settings.Save(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	s.logger.Infow("settings updated",
		"quality", settings.Quality,
		"framerate", settings.Framerate,
		"audio_bitrate", settings.AudioBitrate,
		"port", settings.Port,
	)
	return nil
}

// Close stops monitoring and the session event dispatcher.
func (s *MonitorService) Close(ctx context.Context) {
	s.StopMonitoring(ctx)
	s.session.Close()
}
