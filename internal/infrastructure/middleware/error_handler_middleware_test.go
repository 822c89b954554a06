package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"vigil/internal/core/domain"
	apperrors "vigil/pkg/errors"
	"vigil/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"invalid config", fmt.Errorf("%w: fps 0", domain.ErrInvalidConfig), http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"init", &domain.InitError{Cause: domain.ErrPortInUse}, http.StatusServiceUnavailable, apperrors.ErrCodeServiceUnavailable},
		{"prepare", &domain.PrepareError{Component: domain.ComponentVideo, Cause: errors.New("encoder busy")}, http.StatusConflict, apperrors.ErrCodeConflict},
		{"start", &domain.StartError{Cause: errors.New("boom")}, http.StatusConflict, apperrors.ErrCodeConflict},
		{"capture", &domain.CaptureError{Cause: domain.ErrPermissionDenied}, http.StatusServiceUnavailable, apperrors.ErrCodeServiceUnavailable},
		{"unsupported", fmt.Errorf("%w: no back camera", domain.ErrUnsupported), http.StatusNotImplemented, apperrors.ErrCodeUnsupported},
		{"not prepared", domain.ErrNotPrepared, http.StatusConflict, apperrors.ErrCodeConflict},
		{"app error passthrough", apperrors.New(apperrors.ErrCodeNotFound, "settings not found"), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			assert.Equal(t, tt.status, got.HTTPStatus)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestMapError_PrepareCarriesComponent(t *testing.T) {
	got := MapError(&domain.PrepareError{Component: domain.ComponentAudio, Cause: domain.ErrUnsupported})

	assert.Equal(t, "audio", got.Context["component"])
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware(), ErrorHandlerMiddleware(logger.NewContextLogger(zaptest.NewLogger(t))))
	router.POST("/start", func(c *gin.Context) {
		c.Error(&domain.StartError{Cause: errors.New("encoder gone")})
	})
	router.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/start", nil))

	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "CONFLICT", body["error"])
	assert.Contains(t, body["message"], "encoder gone")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("nil surface")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRequestIDMiddleware_KeepsIncomingID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware(), TracingMiddleware())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetHeader("X-Request-ID"))
	})

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", w.Body.String())
}
