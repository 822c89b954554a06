package ports

import (
	"time"

	"vigil/internal/core/domain"
)

// MetricsRecorder receives session, audio and transport measurements.
type MetricsRecorder interface {
	SetSessionState(state domain.SessionState)
	SetStreaming(streaming bool)
	SetViewers(count int)
	RecordTransportEvent(kind domain.TransportEventKind)
	SetBitrate(bps int64)
	ObserveLifecycle(op string, d time.Duration, err error)
	SetAudioLevel(level float32)
	ObserveInference(d time.Duration, score float32)
	RecordAlert(kind domain.AlertKind)
	RecordViewerReport(address string, fractionLost float64, jitter time.Duration)
}
