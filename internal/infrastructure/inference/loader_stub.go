//go:build !tflite

package inference

import (
	"context"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
)

// Loader is built without a TensorFlow Lite runtime. Load always fails, which
// leaves the classifier inert; build with -tags tflite to enable detection.
type Loader struct {
	cfg Config
}

func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg}
}

func (l *Loader) Load(ctx context.Context) (ports.AudioModel, error) {
	if err := checkArtifact(l.cfg.ModelPath); err != nil {
		return nil, err
	}
	return nil, &domain.ModelLoadError{Path: l.cfg.ModelPath, Cause: domain.ErrModelUnavailable}
}
