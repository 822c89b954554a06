package ports

import "context"

// AudioInputConfig describes the PCM stream to open.
type AudioInputConfig struct {
	SampleRate  int
	Channels    int
	BufferBytes int
}

// AudioInput is a raw PCM16 capture stream. Read blocks until at least one
// sample is available.
type AudioInput interface {
	Read(buf []int16) (int, error)
	Close() error
}

// AudioInputFactory opens microphone inputs.
type AudioInputFactory interface {
	HasPermission() bool
	// MinBufferSize is the platform's minimum buffer in bytes.
	MinBufferSize(sampleRate, channels int) (int, error)
	Open(ctx context.Context, cfg AudioInputConfig) (AudioInput, error)
}

// AudioModel maps one normalized waveform window to per-class scores.
type AudioModel interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// ModelLoader loads the audio classification model.
type ModelLoader interface {
	Load(ctx context.Context) (AudioModel, error)
}
