package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// CryWindowSamples is 0.975 s of audio at CrySampleRate.
	CryWindowSamples = 15600
	CrySampleRate    = 16000

	DefaultCryThreshold float32 = 0.15
	DefaultCryCooldown          = 10 * time.Second

	pcm16Scale = 32768.0
)

// AudioSet class indices for baby cry, crying/sobbing and whimper.
var DefaultCryClasses = []int{23, 20, 24}

// CryClassifierConfig tunes detection sensitivity.
type CryClassifierConfig struct {
	Threshold     float32
	Cooldown      time.Duration
	ClassIndices  []int
	WindowSamples int
	// Clock is used for alert timestamps; defaults to time.Now.
	Clock func() time.Time
}

// DefaultCryClassifierConfig returns the YAMNet cry classes, threshold 0.15 and a 10s cooldown.
func DefaultCryClassifierConfig() CryClassifierConfig {
	return CryClassifierConfig{
		Threshold:     DefaultCryThreshold,
		Cooldown:      DefaultCryCooldown,
		ClassIndices:  DefaultCryClasses,
		WindowSamples: CryWindowSamples,
	}
}

// CryClassifier runs windowed inference over a 16 kHz mono stream and keeps a
// debounced alert. Without a loaded model every chunk is a no-op.
type CryClassifier struct {
	cfg     CryClassifierConfig
	loader  ports.ModelLoader
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	model  ports.AudioModel
	window []float32
	pos    int
	alert  domain.AlertSnapshot
}

// NewCryClassifier creates an uninitialized classifier.
func NewCryClassifier(cfg CryClassifierConfig, loader ports.ModelLoader, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *CryClassifier {
	def := DefaultCryClassifierConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if len(cfg.ClassIndices) == 0 {
		cfg.ClassIndices = def.ClassIndices
	}
	if cfg.WindowSamples <= 1 {
		cfg.WindowSamples = def.WindowSamples
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &CryClassifier{
		cfg:     cfg,
		loader:  loader,
		metrics: metricsOrNop(metrics),
		logger:  logger,
	}
}

// Initialize loads the model. It is a no-op when already loaded.
func (c *CryClassifier) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != nil {
		return nil
	}
	if c.loader == nil {
		return &domain.ModelLoadError{Cause: domain.ErrModelUnavailable}
	}

	model, err := c.loader.Load(ctx)
	if err != nil {
		var loadErr *domain.ModelLoadError
		if errors.As(err, &loadErr) {
			return err
		}
		return &domain.ModelLoadError{Cause: err}
	}

	c.model = model
	c.window = make([]float32, c.cfg.WindowSamples)
	c.pos = 0
	c.logger.Infow("cry classifier ready",
		"window_samples", c.cfg.WindowSamples,
		"threshold", c.cfg.Threshold,
		"cooldown", c.cfg.Cooldown,
	)
	return nil
}

// Ready reports whether a model is loaded.
func (c *CryClassifier) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model != nil
}

// ProcessChunk appends samples to the window, running inference each time it
// fills. After an inference the newest half is kept, so consecutive windows
// overlap by 50%.
func (c *CryClassifier) ProcessChunk(samples []int16) domain.AlertSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model == nil {
		return domain.AlertSnapshot{}
	}

	for len(samples) > 0 {
		n := len(c.window) - c.pos
		if n > len(samples) {
			n = len(samples)
		}
		dst := c.window[c.pos : c.pos+n]
		for i, s := range samples[:n] {
			dst[i] = float32(s) / pcm16Scale
		}
		c.pos += n
		samples = samples[n:]

		if c.pos == len(c.window) {
			c.classifyLocked()
			half := len(c.window) / 2
			kept := copy(c.window, c.window[half:])
			c.pos = kept
		}
	}

	return c.alert
}

func (c *CryClassifier) classifyLocked() {
	start := time.Now()
	scores, err := c.model.Run(c.window)
	if err != nil {
		c.logger.Warnw("cry inference failed", "error", err)
		return
	}

	score := c.fuse(scores)
	c.metrics.ObserveInference(time.Since(start), score)
	if c.logger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		c.logger.Debugw("audio classes", "top", topClasses(scores, 5), "cry_score", score)
	}

	now := c.cfg.Clock()
	switch {
	case score >= c.cfg.Threshold:
		if c.alert.Detected && now.Sub(c.alert.LastAlertAt) < c.cfg.Cooldown {
			c.alert.Confidence = score
			return
		}
		if !c.alert.Detected {
			c.logger.Infow("cry detected", "confidence", score)
		}
		c.alert = domain.AlertSnapshot{Detected: true, Confidence: score, LastAlertAt: now}
	case c.alert.Detected && now.Sub(c.alert.LastAlertAt) >= c.cfg.Cooldown:
		c.alert.Detected = false
		c.alert.Confidence = 0
		c.logger.Infow("cry alert cleared")
	}
}

// fuse takes the max over the configured classes; out-of-range indices score 0.
func (c *CryClassifier) fuse(scores []float32) float32 {
	var best float32
	for _, idx := range c.cfg.ClassIndices {
		if idx >= 0 && idx < len(scores) && scores[idx] > best {
			best = scores[idx]
		}
	}
	return best
}

// ResetAlert clears the alert without waiting for the cooldown.
func (c *CryClassifier) ResetAlert() {
	c.mu.Lock()
	c.alert.Detected = false
	c.alert.Confidence = 0
	c.mu.Unlock()
}

// Snapshot returns the current alert state.
func (c *CryClassifier) Snapshot() domain.AlertSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alert
}

// Release frees the model and returns the classifier to its inert state.
func (c *CryClassifier) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != nil {
		if err := c.model.Close(); err != nil {
			c.logger.Warnw("failed to close classifier model", "error", err)
		}
	}
	c.model = nil
	c.window = nil
	c.pos = 0
	c.alert = domain.AlertSnapshot{}
}

// RMSLevel is the root-mean-square loudness of a PCM16 chunk in [0,1].
func RMSLevel(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum/float64(len(samples))) / pcm16Scale
	if rms > 1 {
		return 1
	}
	return float32(rms)
}

type classScore struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

func topClasses(scores []float32, n int) []classScore {
	all := make([]classScore, len(scores))
	for i, s := range scores {
		all[i] = classScore{Index: i, Score: s}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > n {
		all = all[:n]
	}
	return all
}
