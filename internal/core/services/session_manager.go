package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sessionEventBuffer = 256

// SessionManager drives the lifecycle of the single streaming session:
// Idle -> Initialized -> Prepared -> Streaming, and back to Idle on Stop.
//
// Lifecycle operations are serialized by mu. Transport events are applied by
// a dispatcher goroutine in arrival order and never take mu. Each media
// server gets a generation number; events stamped with an older generation
// are discarded, so a torn-down server cannot leak state into the next one.
type SessionManager struct {
	factory ports.MediaServerFactory
	viewers *ViewerRegistry
	hub     *StatusHub
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	state     domain.SessionState
	server    ports.MediaServer
	cfg       domain.StreamConfig
	hasConfig bool
	surface   ports.Surface
	url       string
	sessionID string

	// applyMu orders generation bumps against in-flight event application.
	applyMu    sync.Mutex
	generation atomic.Uint64

	events    chan domain.TransportEvent
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSessionManager creates an idle session and starts its event dispatcher.
func NewSessionManager(
	factory ports.MediaServerFactory,
	viewers *ViewerRegistry,
	hub *StatusHub,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *SessionManager {
	m := &SessionManager{
		factory: factory,
		viewers: viewers,
		hub:     hub,
		metrics: metricsOrNop(metrics),
		logger:  logger,
		state:   domain.StateIdle,
		events:  make(chan domain.TransportEvent, sessionEventBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// observe opens a lifecycle span and returns a finisher that records the
// outcome in the span and the metrics.
func (m *SessionManager) observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.TraceLifecycle(ctx, op, m.sessionID)
	return ctx, func(err error) {
		tracing.EndWithError(span, err)
		m.metrics.ObserveLifecycle(op, time.Since(start), err)
	}
}

// Initialize acquires the capture device and binds the transport server.
// surface may be nil for headless operation.
func (m *SessionManager) Initialize(ctx context.Context, cfg domain.StreamConfig, surface ports.Surface) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, finish := m.observe(ctx, "initialize")
	defer func() { finish(err) }()

	if verr := cfg.Validate(); verr != nil {
		initErr := &domain.InitError{Cause: verr}
		m.publishLocked(func(s *domain.SessionStatus) { s.ErrorMessage = initErr.Error() })
		return initErr
	}

	if m.state == domain.StateStreaming && m.server != nil {
		if sameSurface(m.surface, surface) {
			m.logger.Debugw("already streaming with the same surface, skipping initialization")
			return nil
		}
		m.logger.Infow("stream running, re-attaching preview surface")
		m.attachLocked(surface)
		return nil
	}

	if m.server != nil {
		m.logger.Infow("re-initializing session, releasing previous server", "state", m.state)
		m.teardownLocked(ctx)
		m.viewers.Clear()
	}

	gen := m.generation.Add(1)
	server, openErr := m.factory.Open(ctx, cfg, surface, m.sinkFor(gen))
	if openErr != nil {
		initErr := &domain.InitError{Cause: openErr}
		m.state = domain.StateIdle
		m.logger.Errorw("failed to initialize session", "port", cfg.Port, "error", openErr)
		m.publishLocked(func(s *domain.SessionStatus) {
			s.IsStreaming = false
			s.ConnectedViewers = 0
			s.ErrorMessage = initErr.Error()
		})
		return initErr
	}

	m.server = server
	m.cfg = cfg
	m.hasConfig = true
	m.surface = surface
	m.url = server.URL()
	m.sessionID = uuid.New().String()
	m.state = domain.StateInitialized

	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(m.sessionID), tracing.PortKey.Int(cfg.Port))
	m.logger.Infow("session initialized",
		"session_id", m.sessionID,
		"url", m.url,
		"preview", surface != nil,
		"width", cfg.Width,
		"height", cfg.Height,
	)
	m.publishLocked(func(s *domain.SessionStatus) {
		s.IsStreaming = false
		s.ConnectedViewers = 0
		s.Bitrate = 0
		s.ErrorMessage = ""
	})
	return nil
}

// Prepare negotiates video then audio encoding. A failure leaves no partial
// preparation behind: committed video is rolled back when audio fails.
func (m *SessionManager) Prepare(ctx context.Context, cfg domain.StreamConfig) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, finish := m.observe(ctx, "prepare")
	defer func() { finish(err) }()

	switch m.state {
	case domain.StateStreaming:
		m.logger.Debugw("already streaming, skipping prepare")
		return nil
	case domain.StateInitialized, domain.StatePrepared:
	default:
		return m.prepareFailedLocked(&domain.PrepareError{Component: domain.ComponentSession, Cause: domain.ErrNotInitialized}, m.state)
	}

	if verr := cfg.Validate(); verr != nil {
		return m.prepareFailedLocked(&domain.PrepareError{Component: domain.ComponentSession, Cause: verr}, m.state)
	}

	video := ports.VideoParams{Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS, Bitrate: cfg.VideoBitrate}
	if verr := m.server.PrepareVideo(ctx, video); verr != nil {
		return m.prepareFailedLocked(&domain.PrepareError{Component: domain.ComponentVideo, Cause: verr}, domain.StateInitialized)
	}

	audio := ports.AudioParams{Bitrate: cfg.AudioBitrate, SampleRate: cfg.AudioSampleRate, Stereo: cfg.Stereo}
	if aerr := m.server.PrepareAudio(ctx, audio); aerr != nil {
		prepErr := &domain.PrepareError{Component: domain.ComponentAudio, Cause: aerr}
		if rerr := m.server.ReleaseVideo(); rerr != nil {
			m.state = domain.StateError
			m.logger.Errorw("failed to roll back video preparation", "error", rerr)
			m.publishLocked(func(s *domain.SessionStatus) {
				s.ErrorMessage = fmt.Sprintf("%v (video rollback failed: %v)", prepErr, rerr)
			})
			return prepErr
		}
		return m.prepareFailedLocked(prepErr, domain.StateInitialized)
	}

	m.cfg = cfg
	m.hasConfig = true
	m.state = domain.StatePrepared
	m.logger.Infow("stream prepared",
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"video_bitrate", cfg.VideoBitrate,
		"audio_bitrate", cfg.AudioBitrate,
		"sample_rate", cfg.AudioSampleRate,
	)
	m.publishLocked(func(s *domain.SessionStatus) { s.ErrorMessage = "" })
	return nil
}

func (m *SessionManager) prepareFailedLocked(prepErr *domain.PrepareError, next domain.SessionState) error {
	m.state = next
	m.logger.Errorw("failed to prepare stream", "component", prepErr.Component, "error", prepErr.Cause)
	m.publishLocked(func(s *domain.SessionStatus) { s.ErrorMessage = prepErr.Error() })
	return prepErr
}

// Start begins transmission. It is a no-op while already streaming.
func (m *SessionManager) Start(ctx context.Context) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, finish := m.observe(ctx, "start")
	defer func() { finish(err) }()

	switch m.state {
	case domain.StateStreaming:
		m.logger.Debugw("already streaming")
		return nil
	case domain.StatePrepared:
	default:
		cause := domain.ErrNotPrepared
		if m.server == nil {
			cause = domain.ErrNotInitialized
		}
		startErr := &domain.StartError{Cause: cause}
		m.logger.Warnw("start rejected", "state", m.state, "error", cause)
		m.publishLocked(func(s *domain.SessionStatus) { s.ErrorMessage = startErr.Error() })
		return startErr
	}

	if serr := m.server.StartStream(ctx); serr != nil {
		startErr := &domain.StartError{Cause: serr}
		m.logger.Errorw("failed to start stream", "error", serr)
		m.publishLocked(func(s *domain.SessionStatus) { s.ErrorMessage = startErr.Error() })
		return startErr
	}

	m.state = domain.StateStreaming
	m.metrics.SetStreaming(true)
	m.logger.Infow("stream started", "session_id", m.sessionID, "url", m.url)
	m.publishLocked(func(s *domain.SessionStatus) {
		s.IsStreaming = true
		s.ErrorMessage = ""
	})
	return nil
}

// Stop releases the server and clears viewers. It blocks until the media
// goroutine has exited and always ends in Idle.
func (m *SessionManager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, finish := m.observe(ctx, "stop")
	m.stopLocked(ctx)
	finish(nil)
}

func (m *SessionManager) stopLocked(ctx context.Context) {
	m.teardownLocked(ctx)
	m.viewers.Clear()
	m.state = domain.StateIdle

	m.metrics.SetStreaming(false)
	m.metrics.SetViewers(0)
	m.metrics.SetBitrate(0)
	m.publishLocked(func(s *domain.SessionStatus) {
		s.IsStreaming = false
		s.ConnectedViewers = 0
		s.Bitrate = 0
		s.ErrorMessage = ""
	})
	m.logger.Infow("stream stopped")
}

// teardownLocked invalidates the current generation before stopping the
// server so that its late events are dropped.
func (m *SessionManager) teardownLocked(ctx context.Context) {
	if m.server == nil {
		return
	}

	m.applyMu.Lock()
	m.generation.Add(1)
	m.applyMu.Unlock()

	server := m.server
	m.server = nil

	if err := server.StopStream(ctx); err != nil {
		m.logger.Warnw("error stopping stream", "error", err)
	}
	if err := server.Close(); err != nil {
		m.logger.Warnw("error closing media server", "error", err)
	}
}

// Release stops the session and forgets config, surface and URL. It is safe
// to call from any state.
func (m *SessionManager) Release(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, finish := m.observe(ctx, "release")
	m.stopLocked(ctx)

	m.cfg = domain.StreamConfig{}
	m.hasConfig = false
	m.surface = nil
	m.url = ""
	m.sessionID = ""
	m.publishLocked(nil)
	finish(nil)
}

// AttachSurface re-routes preview rendering without touching transmission.
func (m *SessionManager) AttachSurface(surface ports.Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachLocked(surface)
}

// DetachSurface stops preview rendering without touching transmission.
func (m *SessionManager) DetachSurface() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachLocked(nil)
}

func (m *SessionManager) attachLocked(surface ports.Surface) {
	m.surface = surface
	if m.server != nil {
		m.server.SetSurface(surface)
	}
	if surface != nil {
		m.logger.Infow("preview surface attached", "surface_id", surface.ID())
	} else {
		m.logger.Infow("preview surface detached")
	}
	m.publishLocked(nil)
}

// SwitchCaptureSource toggles between the front and back cameras.
func (m *SessionManager) SwitchCaptureSource() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return domain.ErrNotInitialized
	}
	return m.server.SwitchCamera()
}

// ToggleAuxiliaryLight flips the capture light and returns its new state.
func (m *SessionManager) ToggleAuxiliaryLight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return false
	}
	on := !m.server.LightEnabled()
	if err := m.server.SetLight(on); err != nil {
		m.logger.Warnw("error toggling light", "error", err)
		return false
	}
	return on
}

// State returns the lifecycle state.
func (m *SessionManager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HasPreview reports whether a surface is attached.
func (m *SessionManager) HasPreview() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface != nil
}

// Config returns the active stream config; ok is false after Release.
// Config returns the config of the current session, if any.
func (m *SessionManager) Config() (cfg domain.StreamConfig, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, m.hasConfig
}

// URL returns the stream URL. Release clears it.
func (m *SessionManager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// Close releases the session and stops the event dispatcher.
func (m *SessionManager) Close() {
	m.Release(context.Background())
	m.closeOnce.Do(func() {
		close(m.quit)
		<-m.done
	})
}

// publishLocked copies lifecycle-owned fields into the hub and applies fn.
func (m *SessionManager) publishLocked(fn func(*domain.SessionStatus)) {
	m.metrics.SetSessionState(m.state)
	m.hub.Update(func(s *domain.SessionStatus) {
		s.SessionID = m.sessionID
		s.State = m.state
		s.HasPreview = m.surface != nil
		s.StreamURL = m.url
		if fn != nil {
			fn(s)
		}
	})
}

func (m *SessionManager) sinkFor(gen uint64) ports.EventSink {
	return func(ev domain.TransportEvent) {
		ev.Generation = gen
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		select {
		case m.events <- ev:
		case <-m.quit:
		}
	}
}

func (m *SessionManager) dispatch() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		case <-m.quit:
			return
		}
	}
}

func (m *SessionManager) apply(ev domain.TransportEvent) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if ev.Generation != m.generation.Load() {
		m.logger.Debugw("dropping event from released server", "kind", ev.Kind.String(), "generation", ev.Generation)
		return
	}
	m.metrics.RecordTransportEvent(ev.Kind)

	switch ev.Kind {
	case domain.EventConnectionStarted:
		m.logger.Debugw("connection started", "url", ev.URL)
		if ev.URL != "" {
			m.hub.Update(func(s *domain.SessionStatus) { s.StreamURL = ev.URL })
		}

	case domain.EventConnectionSuccess:
		m.logger.Infow("connection success")
		m.metrics.SetStreaming(true)
		m.hub.Update(func(s *domain.SessionStatus) {
			s.IsStreaming = true
			s.ErrorMessage = ""
		})

	case domain.EventConnectionFailed:
		failure := &domain.ConnectionFailure{Reason: ev.Reason}
		m.logger.Errorw("connection failed", "reason", ev.Reason)
		m.metrics.SetStreaming(false)
		m.hub.Update(func(s *domain.SessionStatus) {
			s.IsStreaming = false
			s.ErrorMessage = failure.Error()
		})

	case domain.EventDisconnected:
		m.logger.Infow("disconnected")
		m.metrics.SetStreaming(false)
		m.hub.Update(func(s *domain.SessionStatus) { s.IsStreaming = false })

	case domain.EventAuthError:
		authErr := &domain.AuthError{Address: ev.Address}
		m.logger.Warnw("auth error", "remote_addr", ev.Address)
		m.hub.Update(func(s *domain.SessionStatus) { s.ErrorMessage = authErr.Error() })

	case domain.EventAuthSuccess:
		m.logger.Debugw("auth success", "remote_addr", ev.Address)

	case domain.EventBitrateChanged:
		m.metrics.SetBitrate(ev.Bitrate)
		m.hub.Update(func(s *domain.SessionStatus) { s.Bitrate = ev.Bitrate })

	case domain.EventViewerConnected:
		m.viewers.AddViewer(ev.Address)
		m.viewersChanged("viewer connected", ev.Address)

	case domain.EventViewerDisconnected:
		m.viewers.RemoveViewer(ev.Address)
		m.viewersChanged("viewer disconnected", ev.Address)
	}
}

func (m *SessionManager) viewersChanged(msg, address string) {
	count := m.viewers.Count()
	m.logger.Infow(msg, "remote_addr", address, "viewers", count)
	m.metrics.SetViewers(count)
	m.hub.Update(func(s *domain.SessionStatus) { s.ConnectedViewers = count })
}

func sameSurface(a, b ports.Surface) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
