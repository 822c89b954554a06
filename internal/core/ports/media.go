package ports

import (
	"context"
	"time"

	"vigil/internal/core/domain"
)

// Surface is an optional local preview target. RenderVideo receives one
// Annex-B access unit and must not block the media goroutine.
type Surface interface {
	ID() string
	RenderVideo(accessUnit []byte, pts time.Duration)
}

// VideoParams are the negotiated video encoder settings.
type VideoParams struct {
	Width   int
	Height  int
	FPS     int
	Bitrate int
}

// AudioParams are the negotiated audio encoder settings.
type AudioParams struct {
	Bitrate    int
	SampleRate int
	Stereo     bool
}

func (p AudioParams) Channels() int {
	if p.Stereo {
		return 2
	}
	return 1
}

// EventSink receives transport notifications in the order they were raised.
type EventSink func(domain.TransportEvent)

// MediaServer is the capture + encode + RTSP transport bundle for one session.
type MediaServer interface {
	PrepareVideo(ctx context.Context, params VideoParams) error
	PrepareAudio(ctx context.Context, params AudioParams) error
	// ReleaseVideo rolls back a committed PrepareVideo.
	ReleaseVideo() error
	StartStream(ctx context.Context) error
	// StopStream blocks until the media goroutine has exited.
	StopStream(ctx context.Context) error
	IsStreaming() bool
	SetSurface(surface Surface)
	SwitchCamera() error
	SetLight(on bool) error
	LightEnabled() bool
	NumClients() int
	URL() string
	Close() error
}

// MediaServerFactory acquires the capture device and binds the transport port.
type MediaServerFactory interface {
	Open(ctx context.Context, cfg domain.StreamConfig, surface Surface, sink EventSink) (MediaServer, error)
}

// FrameKind tells video and audio frames apart.
type FrameKind int

const (
	FrameVideo FrameKind = iota
	FrameAudio
)

// MediaFrame is one unit produced by a capture device. Video frames carry an
// Annex-B access unit, audio frames interleaved little-endian PCM16.
type MediaFrame struct {
	Kind    FrameKind
	Data    []byte
	PTS     time.Duration
	Samples int
}

// DeviceCapabilities are the limits reported by a capture device.
type DeviceCapabilities struct {
	MaxWidth    int
	MaxHeight   int
	MaxFPS      int
	SampleRates []int
	MaxChannels int
}

// CaptureDevice produces encoded video and raw audio for the transport.
type CaptureDevice interface {
	Capabilities() DeviceCapabilities
	// Start begins capture. The returned channel is closed when capture ends;
	// Err reports why.
	Start(ctx context.Context, video VideoParams, audio AudioParams) (<-chan MediaFrame, error)
	Stop() error
	Err() error
	SwitchSource() error
	SetLight(on bool) error
	LightEnabled() bool
	Close() error
}

// CaptureDeviceProvider hands out the capture device.
type CaptureDeviceProvider interface {
	Acquire(ctx context.Context) (CaptureDevice, error)
}
