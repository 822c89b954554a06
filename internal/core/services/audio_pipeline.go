package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultAudioStopTimeout is how long Stop waits before closing the input.
const DefaultAudioStopTimeout = 2 * time.Second

// ErrAudioLoopStuck is returned by Start while a read loop abandoned by Stop
// has not exited yet.
var ErrAudioLoopStuck = errors.New("previous audio read loop has not exited")

// AlertSink receives alert transitions. Notify must not block.
type AlertSink interface {
	Notify(event domain.AlertEvent) bool
}

// AudioPipelineConfig tunes the AudioPipeline.
type AudioPipelineConfig struct {
	// StopTimeout bounds how long Stop waits for the read loop before
	// force-closing the input.
	StopTimeout time.Duration
}

// DefaultAudioPipelineConfig returns the default pipeline settings.
func DefaultAudioPipelineConfig() AudioPipelineConfig {
	return AudioPipelineConfig{StopTimeout: DefaultAudioStopTimeout}
}

// AudioPipeline reads raw 16 kHz mono PCM, feeds it to the CryClassifier and
// publishes level and alert state into the StatusHub.
type AudioPipeline struct {
	factory    ports.AudioInputFactory
	classifier *CryClassifier
	hub        *StatusHub
	alerts     AlertSink
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger
	cfg        AudioPipelineConfig

	mu     sync.Mutex
	input  ports.AudioInput
	cancel context.CancelFunc
	done   chan struct{}
	// abandoned is the done channel of a loop that outlived Stop.
	abandoned chan struct{}
}

// NewAudioPipeline creates a stopped pipeline.
func NewAudioPipeline(
	factory ports.AudioInputFactory,
	classifier *CryClassifier,
	hub *StatusHub,
	alerts AlertSink,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
	cfg AudioPipelineConfig,
) *AudioPipeline {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultAudioStopTimeout
	}
	return &AudioPipeline{
		factory:    factory,
		classifier: classifier,
		hub:        hub,
		alerts:     alerts,
		metrics:    metricsOrNop(metrics),
		logger:     logger,
		cfg:        cfg,
	}
}

// Start opens the audio input and launches the read loop. It is a no-op
// while the loop is running. A missing model is not an error: the pipeline
// still reports audio levels.
func (p *AudioPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		select {
		case <-p.done:
			p.finishLocked()
		default:
			return nil
		}
	}
	if p.abandoned != nil {
		select {
		case <-p.abandoned:
			p.abandoned = nil
		default:
			return &domain.CaptureError{Cause: ErrAudioLoopStuck}
		}
	}

	if !p.factory.HasPermission() {
		return &domain.CaptureError{Cause: domain.ErrPermissionDenied}
	}

	minBuffer, err := p.factory.MinBufferSize(CrySampleRate, 1)
	if err != nil {
		return &domain.CaptureError{Cause: err}
	}
	if minBuffer <= 0 {
		return &domain.CaptureError{Cause: fmt.Errorf("invalid minimum buffer size %d", minBuffer)}
	}
	bufferBytes := max(2*minBuffer, minBuffer)

	input, err := p.factory.Open(ctx, ports.AudioInputConfig{
		SampleRate:  CrySampleRate,
		Channels:    1,
		BufferBytes: bufferBytes,
	})
	if err != nil {
		return &domain.CaptureError{Cause: err}
	}

	if err := p.classifier.Initialize(ctx); err != nil {
		p.logger.Warnw("cry detection disabled", "error", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.input = input
	p.cancel = cancel
	p.done = make(chan struct{})

	p.hub.Update(func(s *domain.SessionStatus) { s.IsAnalyzing = true })

	chunkSamples := max(bufferBytes/2, 1)
	go p.run(loopCtx, input, chunkSamples, p.done)

	p.logger.Infow("audio analysis started",
		"sample_rate", CrySampleRate,
		"buffer_bytes", bufferBytes,
		"detection", p.classifier.Ready(),
	)
	return nil
}

func (p *AudioPipeline) run(ctx context.Context, input ports.AudioInput, chunkSamples int, done chan struct{}) {
	defer close(done)
	defer input.Close()

	buf := make([]int16, chunkSamples)
	prev := p.classifier.Snapshot()

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := input.Read(buf)
		if n > 0 {
			prev = p.handleChunk(buf[:n], prev)
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.logger.Infow("audio input ended")
			case ctx.Err() != nil:
			default:
				p.logger.Warnw("audio read failed", "error", err)
			}
			p.hub.Update(func(s *domain.SessionStatus) {
				s.IsAnalyzing = false
				s.AudioLevel = 0
			})
			return
		}
	}
}

func (p *AudioPipeline) handleChunk(samples []int16, prev domain.AlertSnapshot) domain.AlertSnapshot {
	level := RMSLevel(samples)
	snap := p.classifier.ProcessChunk(samples)

	p.metrics.SetAudioLevel(level)
	p.hub.Update(func(s *domain.SessionStatus) {
		s.AudioLevel = level
		s.CryDetected = snap.Detected
		s.CryConfidence = snap.Confidence
		s.LastAlertAt = snap.LastAlertAt
	})

	switch {
	case snap.Detected && (!prev.Detected || !snap.LastAlertAt.Equal(prev.LastAlertAt)):
		p.emitAlert(domain.AlertRaised, snap, level)
	case !snap.Detected && prev.Detected:
		p.emitAlert(domain.AlertCleared, snap, level)
	}
	return snap
}

func (p *AudioPipeline) emitAlert(kind domain.AlertKind, snap domain.AlertSnapshot, level float32) {
	p.metrics.RecordAlert(kind)

	at := snap.LastAlertAt
	if kind == domain.AlertCleared || at.IsZero() {
		at = time.Now()
	}
	event := domain.AlertEvent{
		ID:         uuid.New().String(),
		Kind:       kind,
		Confidence: snap.Confidence,
		AudioLevel: level,
		At:         at,
	}
	p.logger.Infow("cry alert transition", "kind", kind, "confidence", snap.Confidence)

	if p.alerts != nil {
		p.alerts.Notify(event)
	}
}

// Stop cancels the read loop and waits for it to exit, then releases the
// classifier. It is safe to call when not running.
func (p *AudioPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		return
	}
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warnw("audio loop did not stop in time, closing input", "timeout", p.cfg.StopTimeout)
		_ = p.input.Close()
		select {
		case <-p.done:
		case <-time.After(p.cfg.StopTimeout):
			p.logger.Errorw("audio loop still blocked after closing input")
			p.abandoned = p.done
		}
	}

	p.finishLocked()
	p.logger.Infow("audio analysis stopped")
}

func (p *AudioPipeline) finishLocked() {
	if p.cancel != nil {
		p.cancel()
	}
	p.input = nil
	p.cancel = nil
	p.done = nil

	p.classifier.Release()
	p.metrics.SetAudioLevel(0)
	p.hub.Update(func(s *domain.SessionStatus) {
		s.IsAnalyzing = false
		s.AudioLevel = 0
		s.CryDetected = false
		s.CryConfidence = 0
	})
}

// Running reports whether the read loop is active.
func (p *AudioPipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ResetAlert clears the current alert without waiting for the cooldown.
func (p *AudioPipeline) ResetAlert() {
	p.classifier.ResetAlert()
	p.hub.Update(func(s *domain.SessionStatus) {
		s.CryDetected = false
		s.CryConfidence = 0
	})
}
