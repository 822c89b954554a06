package domain

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle position of the streaming session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateInitialized
	StatePrepared
	StateStreaming
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitialized:
		return "initialized"
	case StatePrepared:
		return "prepared"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateError; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// SessionStatus is the observable snapshot consumed by the control surface.
// Session fields are written by the session manager, audio fields by the
// audio pipeline.
type SessionStatus struct {
	SessionID        string       `json:"session_id,omitempty"`
	State            SessionState `json:"state"`
	IsStreaming      bool         `json:"is_streaming"`
	HasPreview       bool         `json:"has_preview"`
	ConnectedViewers int          `json:"connected_viewers"`
	StreamURL        string       `json:"stream_url,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	Bitrate          int64        `json:"bitrate"`

	IsAnalyzing   bool      `json:"is_analyzing"`
	AudioLevel    float32   `json:"audio_level"`
	CryDetected   bool      `json:"cry_detected"`
	CryConfidence float32   `json:"cry_confidence"`
	LastAlertAt   time.Time `json:"last_alert_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ViewerInfo is one connected remote consumer.
type ViewerInfo struct {
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}
