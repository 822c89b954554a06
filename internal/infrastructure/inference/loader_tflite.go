//go:build tflite

package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"

	"github.com/mattn/go-tflite"
)

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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := tflite.NewModelFromFile(l.cfg.ModelPath)
	if model == nil {
		return nil, &domain.ModelLoadError{Path: l.cfg.ModelPath, Cause: errors.New("cannot parse flatbuffer")}
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(l.cfg.Threads, 1))
	defer options.Delete()

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, &domain.ModelLoadError{Path: l.cfg.ModelPath, Cause: errors.New("cannot create interpreter")}
	}

	m := &tfliteModel{model: model, interpreter: interpreter}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		m.Close()
		return nil, &domain.ModelLoadError{Path: l.cfg.ModelPath, Cause: fmt.Errorf("allocate tensors: status %d", status)}
	}
	return m, nil
}

// tfliteModel serializes access to one interpreter.
type tfliteModel struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	inputLen    int
}

func (m *tfliteModel) Run(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return nil, errors.New("model closed")
	}
	if len(input) != m.inputLen {
		if status := m.interpreter.ResizeInputTensor(0, []int32{int32(len(input))}); status != tflite.OK {
			return nil, fmt.Errorf("resize input: status %d", status)
		}
		if status := m.interpreter.AllocateTensors(); status != tflite.OK {
			return nil, fmt.Errorf("allocate tensors: status %d", status)
		}
		m.inputLen = len(input)
	}

	in := m.interpreter.GetInputTensor(0)
	copy(in.Float32s(), input)
	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("invoke: status %d", status)
	}

	// Output 0 holds [frames, classes]; one window yields one frame.
	out := m.interpreter.GetOutputTensor(0)
	classes := out.Dim(out.NumDims() - 1)
	scores := out.Float32s()
	if len(scores) < classes {
		return nil, fmt.Errorf("unexpected output size %d", len(scores))
	}
	return append([]float32(nil), scores[:classes]...), nil
}

func (m *tfliteModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}
