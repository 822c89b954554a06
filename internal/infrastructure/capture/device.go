package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	audioChunk     = 20 * time.Millisecond
	toneFrequency  = 440
	frameQueueSize = 64
)

var supportedSampleRates = []int{8000, 16000, 22050, 32000, 44100, 48000}

type Config struct {
	VideoCommand     string
	VideoCommandBack string
	VideoFile        string
	AudioCommand     string
	LightPath        string
	MaxWidth         int
	MaxHeight        int
	MaxFPS           int
}

// Provider hands out the single capture device. A second Acquire fails until
// the first device is closed.
type Provider struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu    sync.Mutex
	inUse bool
}

func NewProvider(cfg Config, logger *zap.SugaredLogger) *Provider {
	return &Provider{cfg: cfg, logger: logger}
}

func (p *Provider) Acquire(ctx context.Context) (ports.CaptureDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse {
		return nil, fmt.Errorf("%w: already in use", domain.ErrDeviceUnavailable)
	}

	front, err := p.frontSource()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	d := &Device{
		cfg:     p.cfg,
		sources: []videoSource{front},
		logger:  p.logger,
	}
	if p.cfg.VideoCommandBack != "" {
		d.sources = append(d.sources, &commandSource{name: "back", command: p.cfg.VideoCommandBack})
	}
	if p.cfg.LightPath != "" {
		d.light = &sysfsLight{path: p.cfg.LightPath}
	}
	d.release = func() {
		p.mu.Lock()
		p.inUse = false
		p.mu.Unlock()
	}

	p.inUse = true
	p.logger.Debugw("capture device acquired", "source", front.Name(), "sources", len(d.sources))
	return d, nil
}

func (p *Provider) frontSource() (videoSource, error) {
	if p.cfg.VideoFile != "" {
		if _, err := os.Stat(p.cfg.VideoFile); err != nil {
			return nil, err
		}
		return &fileSource{path: p.cfg.VideoFile}, nil
	}
	if !commandAvailable(p.cfg.VideoCommand) {
		return nil, fmt.Errorf("video command %q not found", p.cfg.VideoCommand)
	}
	return &commandSource{name: "front", command: p.cfg.VideoCommand}, nil
}

// Device captures H.264 access units from the active video source and PCM
// audio from a command or a tone generator.
type Device struct {
	cfg     Config
	sources []videoSource
	light   *sysfsLight
	logger  *zap.SugaredLogger

	releaseOnce sync.Once
	release     func()

	mu        sync.Mutex
	active    int
	running   bool
	switching bool
	video     io.ReadCloser
	cancel    context.CancelFunc
	err       error
	wg        sync.WaitGroup
}

func (d *Device) Capabilities() ports.DeviceCapabilities {
	return ports.DeviceCapabilities{
		MaxWidth:    d.cfg.MaxWidth,
		MaxHeight:   d.cfg.MaxHeight,
		MaxFPS:      d.cfg.MaxFPS,
		SampleRates: slices.Clone(supportedSampleRates),
		MaxChannels: 2,
	}
}

// Start opens the active source. The capture goroutines outlive ctx; Stop
// ends them.
func (d *Device) Start(ctx context.Context, video ports.VideoParams, audio ports.AudioParams) (<-chan ports.MediaFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil, errors.New("capture already running")
	}
	if video.FPS <= 0 || audio.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: fps and sample rate must be > 0", domain.ErrInvalidConfig)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src := d.sources[d.active]
	rc, err := src.Open(runCtx, video)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: open %s source: %v", domain.ErrDeviceUnavailable, src.Name(), err)
	}

	var mic io.ReadCloser
	if d.cfg.AudioCommand != "" {
		mic, err = startCommand(runCtx, d.cfg.AudioCommand, map[string]string{
			"rate":     strconv.Itoa(audio.SampleRate),
			"channels": strconv.Itoa(audio.Channels()),
		})
		if err != nil {
			d.logger.Warnw("audio command failed, streaming a test tone", "error", err)
			mic = nil
		}
	}

	frames := make(chan ports.MediaFrame, frameQueueSize)
	d.video = rc
	d.cancel = cancel
	d.err = nil
	d.running = true

	d.wg.Add(2)
	go d.runVideo(runCtx, cancel, rc, video, frames)
	go d.runAudio(runCtx, mic, audio, frames)
	go func() {
		d.wg.Wait()
		close(frames)
	}()

	d.logger.Infow("capture started",
		"source", src.Name(),
		"width", video.Width,
		"height", video.Height,
		"fps", video.FPS,
		"sample_rate", audio.SampleRate,
		"channels", audio.Channels(),
	)
	return frames, nil
}

func (d *Device) runVideo(ctx context.Context, cancel context.CancelFunc, rc io.ReadCloser, p ports.VideoParams, out chan<- ports.MediaFrame) {
	defer d.wg.Done()
	defer cancel()

	interval := time.Second / time.Duration(p.FPS)
	started := time.Now()
	var frameIndex int64

	for {
		d.mu.Lock()
		paced := d.sources[d.active].Paced()
		d.mu.Unlock()

		err := d.pumpVideo(ctx, NewAccessUnitReader(rc), paced, interval, started, &frameIndex, out)
		rc.Close()
		if ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		switching := d.switching
		d.switching = false
		src := d.sources[d.active]
		d.mu.Unlock()

		if !switching && !(paced && errors.Is(err, io.EOF)) {
			if err == nil || errors.Is(err, io.EOF) {
				err = errors.New("video source ended")
			}
			d.fail(err)
			return
		}

		rc, err = src.Open(ctx, p)
		if err != nil {
			d.fail(fmt.Errorf("reopen %s source: %w", src.Name(), err))
			return
		}
		d.mu.Lock()
		d.video = rc
		if d.switching {
			// Switched again while reopening.
			rc.Close()
		}
		d.mu.Unlock()
	}
}

func (d *Device) pumpVideo(
	ctx context.Context,
	r *AccessUnitReader,
	paced bool,
	interval time.Duration,
	started time.Time,
	frameIndex *int64,
	out chan<- ports.MediaFrame,
) error {
	var ticker *time.Ticker
	if paced {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for {
		au, err := r.Next()
		if err != nil {
			return err
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		pts := time.Since(started)
		if paced {
			pts = time.Duration(*frameIndex) * interval
		}
		*frameIndex++

		select {
		case out <- ports.MediaFrame{Kind: ports.FrameVideo, Data: au, PTS: pts}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Device) runAudio(ctx context.Context, mic io.ReadCloser, p ports.AudioParams, out chan<- ports.MediaFrame) {
	defer d.wg.Done()

	frames := p.SampleRate * int(audioChunk) / int(time.Second)
	channels := p.Channels()
	var sent int64

	emit := func(data []byte) bool {
		n := len(data) / (2 * channels)
		frame := ports.MediaFrame{
			Kind:    ports.FrameAudio,
			Data:    data,
			PTS:     time.Duration(sent) * time.Second / time.Duration(p.SampleRate),
			Samples: n,
		}
		sent += int64(n)
		select {
		case out <- frame:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if mic != nil {
		defer mic.Close()
		for {
			buf := make([]byte, frames*channels*2)
			n, err := io.ReadFull(mic, buf)
			if n > 0 && !emit(buf[:n-n%(2*channels)]) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Warnw("audio command ended, streaming a test tone", "error", err)
				break
			}
		}
	}

	tone := newToneGenerator(p.SampleRate, channels, toneFrequency)
	ticker := time.NewTicker(audioChunk)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !emit(tone.Next(frames)) {
				return
			}
		}
	}
}

func (d *Device) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.logger.Warnw("capture failed", "error", err)
}

// Stop ends capture and waits for the capture goroutines.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	if d.video != nil {
		d.video.Close()
	}
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	d.running = false
	d.video = nil
	d.mu.Unlock()
	return nil
}

func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// SwitchSource toggles between the front and back commands. A running
// capture reopens on the new source.
func (d *Device) SwitchSource() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.sources) < 2 {
		return fmt.Errorf("%w: no second video source", domain.ErrUnsupported)
	}
	d.active = (d.active + 1) % len(d.sources)
	if d.running && d.video != nil {
		d.switching = true
		d.video.Close()
	}
	d.logger.Infow("video source switched", "source", d.sources[d.active].Name())
	return nil
}

func (d *Device) SetLight(on bool) error {
	if d.light == nil {
		return fmt.Errorf("%w: no light configured", domain.ErrUnsupported)
	}
	return d.light.Set(on)
}

func (d *Device) LightEnabled() bool {
	return d.light != nil && d.light.Enabled()
}

// Close stops capture, turns the light off and frees the device for the
// next Acquire.
func (d *Device) Close() error {
	err := d.Stop()
	if d.LightEnabled() {
		err = multierr.Append(err, d.light.Set(false))
	}
	d.releaseOnce.Do(d.release)
	return err
}
