package services

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
)

// fakeModel returns a fixed score vector and records every window it sees.
type fakeModel struct {
	mu     sync.Mutex
	scores []float32
	err    error
	inputs [][]float32
	closed bool
}

func newFakeModel(classScores map[int]float32) *fakeModel {
	m := &fakeModel{}
	m.setScores(classScores)
	return m
}

func (m *fakeModel) setScores(classScores map[int]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = make([]float32, 521)
	for idx, s := range classScores {
		m.scores[idx] = s
	}
}

func (m *fakeModel) Run(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]float32(nil), input...))
	if m.err != nil {
		return nil, m.err
	}
	return m.scores, nil
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

type fakeLoader struct {
	model *fakeModel
	err   error
	loads int
}

func (l *fakeLoader) Load(ctx context.Context) (ports.AudioModel, error) {
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

// fakeAudioInput serves queued chunks, then blocks until closed or EOF.
type fakeAudioInput struct {
	chunks   chan []int16
	closed   chan struct{}
	once     sync.Once
	eofAfter bool
	// hang, when set, makes Read ignore Close until hang is closed.
	hang chan struct{}
}

func newFakeAudioInput(eofAfter bool, chunks ...[]int16) *fakeAudioInput {
	in := &fakeAudioInput{
		chunks:   make(chan []int16, len(chunks)+16),
		closed:   make(chan struct{}),
		eofAfter: eofAfter,
	}
	for _, c := range chunks {
		in.chunks <- c
	}
	return in
}

func (in *fakeAudioInput) Read(buf []int16) (int, error) {
	if in.hang != nil {
		<-in.hang
		return 0, errors.New("input closed")
	}
	select {
	case c := <-in.chunks:
		return copy(buf, c), nil
	default:
	}
	if in.eofAfter {
		return 0, io.EOF
	}
	select {
	case c := <-in.chunks:
		return copy(buf, c), nil
	case <-in.closed:
		return 0, errors.New("input closed")
	}
}

func (in *fakeAudioInput) Close() error {
	in.once.Do(func() { close(in.closed) })
	return nil
}

func (in *fakeAudioInput) isClosed() bool {
	select {
	case <-in.closed:
		return true
	default:
		return false
	}
}

type fakeAudioFactory struct {
	permission bool
	minBuffer  int
	minErr     error
	openErr    error
	input      *fakeAudioInput
	opened     []ports.AudioInputConfig
}

func (f *fakeAudioFactory) HasPermission() bool { return f.permission }

func (f *fakeAudioFactory) MinBufferSize(sampleRate, channels int) (int, error) {
	return f.minBuffer, f.minErr
}

func (f *fakeAudioFactory) Open(ctx context.Context, cfg ports.AudioInputConfig) (ports.AudioInput, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, cfg)
	return f.input, nil
}

// fakeMediaServer is a scriptable MediaServer that records its calls.
type fakeMediaServer struct {
	mu sync.Mutex

	sink    ports.EventSink
	surface ports.Surface
	url     string

	videoErr   error
	audioErr   error
	releaseErr error
	startErr   error

	videoPrepared bool
	audioPrepared bool
	streaming     bool
	light         bool
	closed        bool

	startCalls   int
	stopCalls    int
	switchCalls  int
	releaseCalls int
}

func (s *fakeMediaServer) PrepareVideo(ctx context.Context, p ports.VideoParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoErr != nil {
		return s.videoErr
	}
	s.videoPrepared = true
	return nil
}

func (s *fakeMediaServer) PrepareAudio(ctx context.Context, p ports.AudioParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioErr != nil {
		return s.audioErr
	}
	s.audioPrepared = true
	return nil
}

func (s *fakeMediaServer) ReleaseVideo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.videoPrepared = false
	return nil
}

func (s *fakeMediaServer) StartStream(ctx context.Context) error {
	s.mu.Lock()
	s.startCalls++
	if s.startErr != nil {
		s.mu.Unlock()
		return s.startErr
	}
	s.streaming = true
	sink := s.sink
	s.mu.Unlock()

	sink(domain.ConnectionStarted(s.url))
	sink(domain.ConnectionSuccess())
	return nil
}

func (s *fakeMediaServer) StopStream(ctx context.Context) error {
	s.mu.Lock()
	s.stopCalls++
	wasStreaming := s.streaming
	s.streaming = false
	sink := s.sink
	s.mu.Unlock()

	if wasStreaming {
		sink(domain.Disconnected())
	}
	return nil
}

func (s *fakeMediaServer) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *fakeMediaServer) SetSurface(surface ports.Surface) {
	s.mu.Lock()
	s.surface = surface
	s.mu.Unlock()
}

func (s *fakeMediaServer) currentSurface() ports.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

func (s *fakeMediaServer) SwitchCamera() error {
	s.mu.Lock()
	s.switchCalls++
	s.mu.Unlock()
	return nil
}

func (s *fakeMediaServer) SetLight(on bool) error {
	s.mu.Lock()
	s.light = on
	s.mu.Unlock()
	return nil
}

func (s *fakeMediaServer) LightEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.light
}

func (s *fakeMediaServer) NumClients() int { return 0 }

func (s *fakeMediaServer) URL() string { return s.url }

func (s *fakeMediaServer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeMediaServer) emit(ev domain.TransportEvent) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	sink(ev)
}

// fakeServerFactory hands out scripted servers, one per Open call.
type fakeServerFactory struct {
	mu      sync.Mutex
	openErr error
	prepare func(*fakeMediaServer)
	servers []*fakeMediaServer
}

func (f *fakeServerFactory) Open(ctx context.Context, cfg domain.StreamConfig, surface ports.Surface, sink ports.EventSink) (ports.MediaServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeMediaServer{
		sink:    sink,
		surface: surface,
		url:     "rtsp://192.168.1.20:" + strconv.Itoa(cfg.Port) + "/",
	}
	if f.prepare != nil {
		f.prepare(s)
	}
	f.servers = append(f.servers, s)
	return s, nil
}

func (f *fakeServerFactory) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.servers)
}

func (f *fakeServerFactory) last() *fakeMediaServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.servers) == 0 {
		return nil
	}
	return f.servers[len(f.servers)-1]
}

type fakeSurface struct{ id string }

func (s fakeSurface) ID() string { return s.id }
func (s fakeSurface) RenderVideo(au []byte, pts time.Duration) {}

type fakePublisher struct {
	mu     sync.Mutex
	name   string
	err    error
	events []domain.AlertEvent
}

func (p *fakePublisher) Name() string { return p.name }

func (p *fakePublisher) PublishAlert(ctx context.Context, ev domain.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) received() []domain.AlertEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AlertEvent(nil), p.events...)
}
