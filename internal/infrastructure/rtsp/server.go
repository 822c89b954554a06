package rtsp

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/internal/infrastructure/capture"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	videoPayloadType = 96
	audioPayloadType = 97
	videoClockRate   = 90000
	rtpHeaderSize    = 12
	bitrateInterval  = time.Second
)

// Server streams one capture device over RTSP. Viewers pull H.264 video and
// L16 audio over interleaved TCP.
type Server struct {
	cfg     Config
	port    int
	url     string
	device  ports.CaptureDevice
	sink    ports.EventSink
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
	srv     *gortsplib.Server

	surfaceMu sync.RWMutex
	surface   ports.Surface

	connMu sync.Mutex
	conns  map[string]int

	mu        sync.Mutex
	video     *ports.VideoParams
	audio     ports.AudioParams
	hasAudio  bool
	stream    *gortsplib.ServerStream
	cancel    context.CancelFunc
	done      chan struct{}
	streaming atomic.Bool
	closed    bool
}

var _ ports.MediaServer = (*Server)(nil)

func newServer(
	cfg Config,
	port int,
	device ports.CaptureDevice,
	surface ports.Surface,
	sink ports.EventSink,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		cfg:     cfg,
		port:    port,
		device:  device,
		surface: surface,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With("port", port),
		conns:   make(map[string]int),
	}
}

func (s *Server) emit(ev domain.TransportEvent) {
	if s.sink != nil {
		s.sink(ev)
	}
}

// PrepareVideo checks params against the device and commits them.
func (s *Server) PrepareVideo(ctx context.Context, p ports.VideoParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caps := s.device.Capabilities()
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return fmt.Errorf("%w: %dx%d@%d", domain.ErrInvalidConfig, p.Width, p.Height, p.FPS)
	}
	if (caps.MaxWidth > 0 && p.Width > caps.MaxWidth) ||
		(caps.MaxHeight > 0 && p.Height > caps.MaxHeight) ||
		(caps.MaxFPS > 0 && p.FPS > caps.MaxFPS) {
		return fmt.Errorf("%w: %dx%d@%d exceeds device limit %dx%d@%d",
			domain.ErrUnsupported, p.Width, p.Height, p.FPS, caps.MaxWidth, caps.MaxHeight, caps.MaxFPS)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.video = &p
	return nil
}

func (s *Server) PrepareAudio(ctx context.Context, p ports.AudioParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caps := s.device.Capabilities()
	if !slices.Contains(caps.SampleRates, p.SampleRate) {
		return fmt.Errorf("%w: sample rate %d", domain.ErrUnsupported, p.SampleRate)
	}
	if p.Channels() > caps.MaxChannels {
		return fmt.Errorf("%w: %d channels", domain.ErrUnsupported, p.Channels())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = p
	s.hasAudio = true
	return nil
}

func (s *Server) ReleaseVideo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video = nil
	return nil
}

// StartStream starts capture and publishes the stream. It is a no-op when
// already streaming.
func (s *Server) StartStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming.Load() {
		return nil
	}
	if s.closed {
		return fmt.Errorf("%w: server closed", domain.ErrNotInitialized)
	}
	if s.video == nil || !s.hasAudio {
		return domain.ErrNotPrepared
	}

	s.emit(domain.ConnectionStarted(s.url))

	frames, err := s.device.Start(ctx, *s.video, s.audio)
	if err != nil {
		s.emit(domain.ConnectionFailed(err.Error()))
		return err
	}

	videoMedia := &description.Media{
		Type:    description.MediaTypeVideo,
		Formats: []format.Format{&format.H264{PayloadTyp: videoPayloadType, PacketizationMode: 1}},
	}
	audioMedia := &description.Media{
		Type: description.MediaTypeAudio,
		Formats: []format.Format{&format.LPCM{
			PayloadTyp:   audioPayloadType,
			BitDepth:     16,
			SampleRate:   s.audio.SampleRate,
			ChannelCount: s.audio.Channels(),
		}},
	}
	stream := gortsplib.NewServerStream(s.srv, &description.Session{
		Title:  "vigil",
		Medias: []*description.Media{videoMedia, audioMedia},
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stream = stream
	s.cancel = cancel
	s.done = make(chan struct{})
	s.streaming.Store(true)

	p := &publisher{
		server:      s,
		stream:      stream,
		videoMedia:  videoMedia,
		audioMedia:  audioMedia,
		videoFormat: videoMedia.Formats[0].(*format.H264),
		video: rtp.NewPacketizer(uint16(s.cfg.MTU), videoPayloadType, rand.Uint32(),
			&codecs.H264Payloader{}, rtp.NewRandomSequencer(), videoClockRate),
		audio: rtp.NewPacketizer(uint16(s.cfg.MTU), audioPayloadType, rand.Uint32(),
			lpcmPayloader{}, rtp.NewRandomSequencer(), uint32(s.audio.SampleRate)),
		videoBase:  rand.Uint32(),
		audioBase:  rand.Uint32(),
		audioRate:  s.audio.SampleRate,
		audioChunk: lpcmChunkBytes(s.cfg.MTU, s.audio.Channels()),
	}
	go p.run(runCtx, frames, s.done)

	s.emit(domain.ConnectionSuccess())
	s.logger.Infow("stream started",
		"url", s.url,
		"width", s.video.Width,
		"height", s.video.Height,
		"fps", s.video.FPS,
		"sample_rate", s.audio.SampleRate,
	)
	return nil
}

// StopStream stops capture and waits for the media goroutine. The wait
// ignores ctx: the stream is never closed under a running publisher.
func (s *Server) StopStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Server) stopLocked() error {
	if s.stream == nil {
		return nil
	}

	s.cancel()
	err := s.device.Stop()
	<-s.done

	s.stream.Close()
	s.stream = nil
	s.streaming.Store(false)
	s.emit(domain.Disconnected())
	s.logger.Infow("stream stopped", "url", s.url)
	return err
}

func (s *Server) currentStream() *gortsplib.ServerStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *Server) audioClockRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.audio.SampleRate)
}

func (s *Server) IsStreaming() bool {
	return s.streaming.Load()
}

func (s *Server) SetSurface(surface ports.Surface) {
	s.surfaceMu.Lock()
	s.surface = surface
	s.surfaceMu.Unlock()
}

func (s *Server) currentSurface() ports.Surface {
	s.surfaceMu.RLock()
	defer s.surfaceMu.RUnlock()
	return s.surface
}

func (s *Server) SwitchCamera() error {
	return s.device.SwitchSource()
}

func (s *Server) SetLight(on bool) error {
	return s.device.SetLight(on)
}

func (s *Server) LightEnabled() bool {
	return s.device.LightEnabled()
}

// NumClients counts open RTSP connections, or distinct hosts when viewers
// are deduplicated.
func (s *Server) NumClients() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

func (s *Server) URL() string {
	return s.url
}

// Close stops streaming, closes the listener and releases the device.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.stopLocked()
	s.mu.Unlock()

	s.srv.Close()
	err = multierr.Append(err, s.device.Close())
	s.logger.Infow("rtsp server closed")
	return err
}

// publisher moves capture frames onto the RTSP stream.
type publisher struct {
	server      *Server
	stream      *gortsplib.ServerStream
	videoMedia  *description.Media
	audioMedia  *description.Media
	videoFormat *format.H264
	video       rtp.Packetizer
	audio       rtp.Packetizer
	videoBase   uint32
	audioBase   uint32
	audioRate   int
	audioChunk  int

	bytes atomic.Int64
}

func (p *publisher) run(ctx context.Context, frames <-chan ports.MediaFrame, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(bitrateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bps := p.bytes.Swap(0) * 8 * int64(time.Second/bitrateInterval)
			p.server.emit(domain.BitrateChanged(bps))
		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				reason := "capture ended"
				if err := p.server.device.Err(); err != nil {
					reason = err.Error()
				}
				p.server.logger.Warnw("capture stopped unexpectedly", "reason", reason)
				p.server.streaming.Store(false)
				p.server.emit(domain.ConnectionFailed(reason))
				return
			}
			switch frame.Kind {
			case ports.FrameVideo:
				p.writeVideo(frame)
			case ports.FrameAudio:
				p.writeAudio(frame)
			}
		}
	}
}

func (p *publisher) writeVideo(frame ports.MediaFrame) {
	if sps, pps := capture.ParameterSets(frame.Data); sps != nil && pps != nil {
		p.videoFormat.SafeSetParams(sps, pps)
	}
	if surface := p.server.currentSurface(); surface != nil {
		surface.RenderVideo(frame.Data, frame.PTS)
	}

	ts := p.videoBase + uint32(frame.PTS.Seconds()*videoClockRate)
	for _, pkt := range p.video.Packetize(frame.Data, 0) {
		pkt.Timestamp = ts
		p.write(p.videoMedia, pkt)
	}
}

func (p *publisher) writeAudio(frame ports.MediaFrame) {
	ts := p.audioBase + uint32(frame.PTS.Seconds()*float64(p.audioRate))
	frameBytes := len(frame.Data) / max(frame.Samples, 1)

	for off := 0; off < len(frame.Data); off += p.audioChunk {
		end := min(off+p.audioChunk, len(frame.Data))
		for _, pkt := range p.audio.Packetize(frame.Data[off:end], 0) {
			pkt.Timestamp = ts + uint32(off/max(frameBytes, 1))
			pkt.Marker = false
			p.write(p.audioMedia, pkt)
		}
	}
}

func (p *publisher) write(medi *description.Media, pkt *rtp.Packet) {
	if err := p.stream.WritePacketRTP(medi, pkt); err != nil {
		p.server.logger.Debugw("failed to write rtp packet", "media", medi.Type, "error", err)
		return
	}
	p.bytes.Add(int64(len(pkt.Payload) + rtpHeaderSize))
}
