package services

import (
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
)

// NopMetrics discards every observation.
type NopMetrics struct{}

var _ ports.MetricsRecorder = NopMetrics{}

func (NopMetrics) SetSessionState(domain.SessionState) {}
func (NopMetrics) SetStreaming(bool) {}
func (NopMetrics) SetViewers(int) {}
func (NopMetrics) RecordTransportEvent(domain.TransportEventKind) {}
func (NopMetrics) SetBitrate(int64) {}
func (NopMetrics) ObserveLifecycle(string, time.Duration, error) {}
func (NopMetrics) SetAudioLevel(float32) {}
func (NopMetrics) ObserveInference(time.Duration, float32) {}
func (NopMetrics) RecordAlert(domain.AlertKind) {}
func (NopMetrics) RecordViewerReport(string, float64, time.Duration) {}

func metricsOrNop(m ports.MetricsRecorder) ports.MetricsRecorder {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
