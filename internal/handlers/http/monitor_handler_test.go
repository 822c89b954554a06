package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/internal/infrastructure/monitoring"
	"vigil/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) StartMonitoring(ctx context.Context, surface ports.Surface) error {
	args := m.Called(ctx, surface)
	return args.Error(0)
}

func (m *MockMonitor) StopMonitoring(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockMonitor) SwitchCamera() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMonitor) ToggleLight() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMonitor) ResetAlert() {
	m.Called()
}

func (m *MockMonitor) Status() domain.SessionStatus {
	args := m.Called()
	return args.Get(0).(domain.SessionStatus)
}

func (m *MockMonitor) Subscribe() (<-chan domain.SessionStatus, func()) {
	args := m.Called()
	return args.Get(0).(<-chan domain.SessionStatus), args.Get(1).(func())
}

func (m *MockMonitor) Viewers() []domain.ViewerInfo {
	args := m.Called()
	return args.Get(0).([]domain.ViewerInfo)
}

func (m *MockMonitor) Settings(ctx context.Context) (domain.StreamSettings, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.StreamSettings), args.Error(1)
}

func (m *MockMonitor) UpdateSettings(ctx context.Context, settings domain.StreamSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

type staticSurfaceSource struct {
	surface ports.Surface
}

func (s staticSurfaceSource) Current() ports.Surface { return s.surface }

type namedSurface string

func (s namedSurface) ID() string { return string(s) }
func (s namedSurface) RenderVideo([]byte, time.Duration) {}

func newTestRouter(t *testing.T, monitor *MockMonitor, preview SurfaceSource) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	log := zaptest.NewLogger(t)
	checker := monitoring.NewHealthChecker()
	checker.AddCheck("settings", func(context.Context) error { return nil }, time.Second)

	return Router{
		Config:  cfg,
		Monitor: NewMonitorHandler(monitor, preview),
		Status:  NewStatusStream(monitor, time.Second, 2*time.Second, log.Sugar()),
		Health:  NewHealthHandler(checker, prometheus.NewRegistry()),
		Logger:  log,
	}.Engine()
}

func do(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func streamingStatus() domain.SessionStatus {
	return domain.SessionStatus{
		State:       domain.StateStreaming,
		IsStreaming: true,
		StreamURL:   "rtsp://192.168.1.20:8554/",
	}
}

func TestMonitorHandler_GetStatus(t *testing.T) {
	monitor := &MockMonitor{}
	monitor.On("Status").Return(streamingStatus())
	router := newTestRouter(t, monitor, nil)

	w := do(router, http.MethodGet, "/api/v1/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.SessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "rtsp://192.168.1.20:8554/", got.StreamURL)
	assert.True(t, got.IsStreaming)
}

func TestMonitorHandler_StartMonitoring(t *testing.T) {
	t.Run("passes attached preview surface", func(t *testing.T) {
		monitor := &MockMonitor{}
		monitor.On("StartMonitoring", mock.Anything, namedSurface("preview-1")).Return(nil)
		monitor.On("Status").Return(streamingStatus())
		router := newTestRouter(t, monitor, staticSurfaceSource{surface: namedSurface("preview-1")})

		w := do(router, http.MethodPost, "/api/v1/monitor/start", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		monitor.AssertExpectations(t)
	})

	t.Run("headless without preview", func(t *testing.T) {
		monitor := &MockMonitor{}
		monitor.On("StartMonitoring", mock.Anything, nil).Return(nil)
		monitor.On("Status").Return(streamingStatus())
		router := newTestRouter(t, monitor, staticSurfaceSource{})

		w := do(router, http.MethodPost, "/api/v1/monitor/start", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		monitor.AssertExpectations(t)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"port in use", &domain.InitError{Cause: domain.ErrPortInUse}, http.StatusServiceUnavailable},
		{"invalid config", &domain.InitError{Cause: fmt.Errorf("%w: port 0", domain.ErrInvalidConfig)}, http.StatusBadRequest},
		{"prepare rejected", &domain.PrepareError{Component: domain.ComponentVideo, Cause: domain.ErrUnsupported}, http.StatusConflict},
		{"start failed", &domain.StartError{Cause: errors.New("encoder")}, http.StatusConflict},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			monitor := &MockMonitor{}
			monitor.On("StartMonitoring", mock.Anything, nil).Return(tc.err)
			router := newTestRouter(t, monitor, nil)

			w := do(router, http.MethodPost, "/api/v1/monitor/start", nil)

			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestMonitorHandler_StopMonitoring(t *testing.T) {
	monitor := &MockMonitor{}
	monitor.On("StopMonitoring", mock.Anything).Return()
	monitor.On("Status").Return(domain.SessionStatus{State: domain.StateIdle})
	router := newTestRouter(t, monitor, nil)

	w := do(router, http.MethodPost, "/api/v1/monitor/stop", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
	monitor.AssertExpectations(t)
}

func TestMonitorHandler_Controls(t *testing.T) {
	monitor := &MockMonitor{}
	monitor.On("SwitchCamera").Return(fmt.Errorf("%w: no second video source", domain.ErrUnsupported))
	monitor.On("ToggleLight").Return(true)
	monitor.On("ResetAlert").Return()
	monitor.On("Status").Return(streamingStatus())
	router := newTestRouter(t, monitor, nil)

	w := do(router, http.MethodPost, "/api/v1/camera/switch", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = do(router, http.MethodPost, "/api/v1/light/toggle", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":true}`, w.Body.String())

	w = do(router, http.MethodPost, "/api/v1/alert/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	monitor.AssertCalled(t, "ResetAlert")
}

func TestMonitorHandler_Viewers(t *testing.T) {
	monitor := &MockMonitor{}
	monitor.On("Viewers").Return([]domain.ViewerInfo{{Address: "192.168.1.30"}})
	router := newTestRouter(t, monitor, nil)

	w := do(router, http.MethodGet, "/api/v1/viewers", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), "192.168.1.30")
}

func TestMonitorHandler_Settings(t *testing.T) {
	stored := domain.StreamSettings{Quality: domain.QualityLow, Framerate: 15, AudioBitrate: 64000, Port: 8600}

	t.Run("get", func(t *testing.T) {
		monitor := &MockMonitor{}
		monitor.On("Settings", mock.Anything).Return(stored, nil)
		router := newTestRouter(t, monitor, nil)

		w := do(router, http.MethodGet, "/api/v1/settings", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"quality":"low","framerate":15,"audio_bitrate":64000,"port":8600}`, w.Body.String())
	})

	t.Run("get store down", func(t *testing.T) {
		monitor := &MockMonitor{}
		monitor.On("Settings", mock.Anything).Return(domain.StreamSettings{}, errors.New("connection refused"))
		router := newTestRouter(t, monitor, nil)

		w := do(router, http.MethodGet, "/api/v1/settings", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("put", func(t *testing.T) {
		monitor := &MockMonitor{}
		monitor.On("UpdateSettings", mock.Anything, stored).Return(nil)
		monitor.On("Settings", mock.Anything).Return(stored, nil)
		router := newTestRouter(t, monitor, nil)

		w := do(router, http.MethodPut, "/api/v1/settings", map[string]interface{}{
			"quality": "low", "framerate": 15, "audio_bitrate": 64000, "port": 8600,
		})

		assert.Equal(t, http.StatusOK, w.Code)
		monitor.AssertExpectations(t)
	})

	t.Run("put malformed", func(t *testing.T) {
		monitor := &MockMonitor{}
		router := newTestRouter(t, monitor, nil)

		w := do(router, http.MethodPut, "/api/v1/settings", map[string]interface{}{"quality": "low", "port": 70000})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		monitor.AssertNotCalled(t, "UpdateSettings", mock.Anything, mock.Anything)
	})

	t.Run("put rejected by service", func(t *testing.T) {
		monitor := &MockMonitor{}
		monitor.On("UpdateSettings", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: unknown quality", domain.ErrInvalidConfig))
		router := newTestRouter(t, monitor, nil)

		w := do(router, http.MethodPut, "/api/v1/settings", map[string]interface{}{
			"quality": "4k", "framerate": 30, "audio_bitrate": 128000, "port": 8554,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_INPUT")
	})
}

func TestHealthHandler(t *testing.T) {
	router := newTestRouter(t, &MockMonitor{}, nil)

	w := do(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = do(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler_NotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := monitoring.NewHealthChecker()
	checker.AddCheck("settings", func(context.Context) error { return errors.New("redis down") }, time.Second)
	engine := gin.New()
	NewHealthHandler(checker, nil).SetupRoutes(engine)

	w := do(engine, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(engine, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusStream_PushesSnapshots(t *testing.T) {
	updates := make(chan domain.SessionStatus, 1)
	unsubscribed := make(chan struct{})
	monitor := &MockMonitor{}
	monitor.On("Status").Return(domain.SessionStatus{State: domain.StateIdle})
	monitor.On("Subscribe").Return((<-chan domain.SessionStatus)(updates), func() { close(unsubscribed) })

	ts := httptest.NewServer(newTestRouter(t, monitor, nil))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/status/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var first domain.SessionStatus
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, domain.StateIdle, first.State)

	updates <- streamingStatus()
	var second domain.SessionStatus
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, domain.StateStreaming, second.State)

	conn.Close()
	select {
	case <-unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected unsubscribe after client disconnect")
	}
}
