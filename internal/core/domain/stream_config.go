package domain

import (
	"fmt"
	"strings"
)

// Quality is a named resolution/bitrate tier.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// QualityPreset holds the encoder targets for a tier.
type QualityPreset struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Bitrate int `json:"bitrate"`
}

var qualityPresets = map[Quality]QualityPreset{
	QualityLow:    {Width: 640, Height: 480, Bitrate: 1_000_000},
	QualityMedium: {Width: 1280, Height: 720, Bitrate: 2_000_000},
	QualityHigh:   {Width: 1920, Height: 1080, Bitrate: 4_000_000},
}

// ParseQuality accepts the tier name in any case.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := qualityPresets[q]; !ok {
		return "", fmt.Errorf("%w: unknown quality %q", ErrInvalidConfig, s)
	}
	return q, nil
}

// Preset returns the tier targets. Unknown tiers resolve to medium.
func (q Quality) Preset() QualityPreset {
	if p, ok := qualityPresets[q]; ok {
		return p
	}
	return qualityPresets[QualityMedium]
}

const (
	DefaultFramerate       = 30
	DefaultAudioBitrate    = 128_000
	DefaultAudioSampleRate = 44_100
	DefaultPort            = 8554
)

// StreamConfig is the immutable description of one streaming session.
// Overrides return modified copies and never touch the receiver.
type StreamConfig struct {
	Width           int  `json:"width" yaml:"width"`
	Height          int  `json:"height" yaml:"height"`
	FPS             int  `json:"fps" yaml:"fps"`
	VideoBitrate    int  `json:"video_bitrate" yaml:"video_bitrate"`
	AudioBitrate    int  `json:"audio_bitrate" yaml:"audio_bitrate"`
	AudioSampleRate int  `json:"audio_sample_rate" yaml:"audio_sample_rate"`
	Stereo          bool `json:"stereo" yaml:"stereo"`
	Port            int  `json:"port" yaml:"port"`
}

// DefaultStreamConfig is the medium tier at 30 fps on port 8554.
func DefaultStreamConfig() StreamConfig {
	return StreamConfigFromQuality(QualityMedium, DefaultFramerate)
}

// StreamConfigFromQuality builds a config from a tier preset.
func StreamConfigFromQuality(q Quality, fps int) StreamConfig {
	p := q.Preset()
	return StreamConfig{
		Width:           p.Width,
		Height:          p.Height,
		FPS:             fps,
		VideoBitrate:    p.Bitrate,
		AudioBitrate:    DefaultAudioBitrate,
		AudioSampleRate: DefaultAudioSampleRate,
		Stereo:          true,
		Port:            DefaultPort,
	}
}

// WithPort returns a copy listening on port.
func (c StreamConfig) WithPort(port int) StreamConfig {
	c.Port = port
	return c
}

// WithAudioBitrate returns a copy with the given audio bitrate.
func (c StreamConfig) WithAudioBitrate(bitrate int) StreamConfig {
	c.AudioBitrate = bitrate
	return c
}

// Channels returns the audio channel count.
func (c StreamConfig) Channels() int {
	if c.Stereo {
		return 2
	}
	return 1
}

// Validate checks that the config describes a session that can be opened.
func (c StreamConfig) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range 1..65535", ErrInvalidConfig, c.Port)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case c.FPS <= 0:
		return fmt.Errorf("%w: fps must be > 0", ErrInvalidConfig)
	case c.VideoBitrate <= 0:
		return fmt.Errorf("%w: video bitrate must be > 0", ErrInvalidConfig)
	case c.AudioBitrate <= 0:
		return fmt.Errorf("%w: audio bitrate must be > 0", ErrInvalidConfig)
	case c.AudioSampleRate <= 0:
		return fmt.Errorf("%w: audio sample rate must be > 0", ErrInvalidConfig)
	}
	return nil
}

// StreamSettings are the user-editable preferences persisted between runs.
type StreamSettings struct {
	Quality      Quality `json:"quality"`
	Framerate    int     `json:"framerate"`
	AudioBitrate int     `json:"audio_bitrate"`
	Port         int     `json:"port"`
}

// DefaultStreamSettings returns the preferences used before any are saved.
func DefaultStreamSettings() StreamSettings {
	return StreamSettings{
		Quality:      QualityMedium,
		Framerate:    DefaultFramerate,
		AudioBitrate: DefaultAudioBitrate,
		Port:         DefaultPort,
	}
}

// ToStreamConfig applies the preferences on top of the quality preset.
func (s StreamSettings) ToStreamConfig() StreamConfig {
	fps := s.Framerate
	if fps <= 0 {
		fps = DefaultFramerate
	}
	cfg := StreamConfigFromQuality(s.Quality, fps)
	if s.Port > 0 {
		cfg = cfg.WithPort(s.Port)
	}
	if s.AudioBitrate > 0 {
		cfg = cfg.WithAudioBitrate(s.AudioBitrate)
	}
	return cfg
}
