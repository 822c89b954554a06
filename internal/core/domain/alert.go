package domain

import "time"

// AlertSnapshot is the debounced cry alert state.
type AlertSnapshot struct {
	Detected    bool      `json:"detected"`
	Confidence  float32   `json:"confidence"`
	LastAlertAt time.Time `json:"last_alert_at,omitempty"`
}

// AlertKind is the alert transition type.
type AlertKind string

const (
	AlertRaised  AlertKind = "alert.raised"
	AlertCleared AlertKind = "alert.cleared"
)

// AlertEvent is a raise or clear transition fanned out to notifiers.
type AlertEvent struct {
	ID         string    `json:"id"`
	Kind       AlertKind `json:"kind"`
	Confidence float32   `json:"confidence"`
	AudioLevel float32   `json:"audio_level"`
	At         time.Time `json:"at"`
}
