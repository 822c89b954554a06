package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{ErrCodeUnsupported, http.StatusNotImplemented},
		{ErrorCode("TEAPOT"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.code.HTTPStatus())
			assert.Equal(t, tt.status, New(tt.code, "x").HTTPStatus)
		})
	}
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidInput, NewInvalidInputError("bad port").Code)
	assert.Equal(t, http.StatusTooManyRequests, NewRateLimitError().HTTPStatus)
	assert.Equal(t, "camera busy", NewServiceUnavailableError("camera busy").Message)
}

func TestWrap(t *testing.T) {
	cause := errors.New("address already in use")
	err := Wrap(cause, ErrCodeServiceUnavailable, "media server failed to start")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
	assert.Equal(t, "SERVICE_UNAVAILABLE: media server failed to start (caused by: address already in use)", err.Error())
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeConflict, "session not prepared").
		WithContext("state", "initialized").
		WithContext("operation", "start")

	assert.Equal(t, map[string]interface{}{"state": "initialized", "operation": "start"}, err.Context)
}

func TestGetAppError(t *testing.T) {
	assert.Nil(t, GetAppError(nil))
	assert.Nil(t, GetAppError(errors.New("plain")))

	appErr := NewInvalidInputError("bad port")
	wrapped := fmt.Errorf("update settings: %w", appErr)

	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)
}
