package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("invalid stream config")
	ErrPortInUse         = errors.New("port already in use")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrNotInitialized    = errors.New("session not initialized")
	ErrNotPrepared       = errors.New("session not prepared")
	ErrPermissionDenied  = errors.New("capture permission denied")
	ErrModelUnavailable  = errors.New("classifier model unavailable")
	ErrUnsupported       = errors.New("unsupported by capture device")
)

// MediaComponent tags which half of the encoder setup failed.
type MediaComponent string

const (
	ComponentVideo   MediaComponent = "video"
	ComponentAudio   MediaComponent = "audio"
	ComponentSession MediaComponent = "session"
)

// InitError means the capture device or transport server could not be acquired.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize session: %v", e.Cause)
}

func (e *InitError) Unwrap() error { return e.Cause }

// PrepareError means the encoder rejected the requested parameters.
type PrepareError struct {
	Component MediaComponent
	Cause     error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare %s: %v", e.Component, e.Cause)
}

func (e *PrepareError) Unwrap() error { return e.Cause }

// StartError means transmission could not begin.
type StartError struct {
	Cause error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start stream: %v", e.Cause)
}

func (e *StartError) Unwrap() error { return e.Cause }

// CaptureError means the raw audio input could not be opened or read.
type CaptureError struct {
	Cause error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio capture: %v", e.Cause)
}

func (e *CaptureError) Unwrap() error { return e.Cause }

// ModelLoadError means the classifier model artifact is missing or corrupt.
// Detection is disabled; streaming is unaffected.
type ModelLoadError struct {
	Path  string
	Cause error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load classifier model: %v", e.Cause)
	}
	return fmt.Sprintf("load classifier model %s: %v", e.Path, e.Cause)
}

func (e *ModelLoadError) Unwrap() error { return e.Cause }

// ConnectionFailure is an asynchronous transport failure.
type ConnectionFailure struct {
	Reason string
}

func (e *ConnectionFailure) Error() string {
	return "connection failed: " + e.Reason
}

// AuthError is a rejected viewer credential.
type AuthError struct {
	Address string
}

func (e *AuthError) Error() string {
	if e.Address == "" {
		return "authentication error"
	}
	return "authentication error from " + e.Address
}
