package middleware

import (
	stderrors "errors"
	"net/http"

	"vigil/internal/core/domain"
	"vigil/pkg/errors"
	"vigil/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MapError converts service errors into an AppError with the matching HTTP
// status. Unknown errors become INTERNAL_ERROR.
func MapError(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	var (
		initErr    *domain.InitError
		prepareErr *domain.PrepareError
		startErr   *domain.StartError
		captureErr *domain.CaptureError
	)
	switch {
	case stderrors.Is(err, domain.ErrInvalidConfig):
		return errors.Wrap(err, errors.ErrCodeInvalidInput, err.Error())
	case stderrors.As(err, &initErr):
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, err.Error())
	case stderrors.As(err, &prepareErr):
		return errors.Wrap(err, errors.ErrCodeConflict, err.Error()).
			WithContext("component", string(prepareErr.Component))
	case stderrors.As(err, &startErr):
		return errors.Wrap(err, errors.ErrCodeConflict, err.Error())
	case stderrors.As(err, &captureErr):
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, err.Error())
	case stderrors.Is(err, domain.ErrUnsupported):
		return errors.Wrap(err, errors.ErrCodeUnsupported, err.Error())
	case stderrors.Is(err, domain.ErrNotInitialized), stderrors.Is(err, domain.ErrNotPrepared):
		return errors.Wrap(err, errors.ErrCodeConflict, err.Error())
	case stderrors.Is(err, domain.ErrDeviceUnavailable),
		stderrors.Is(err, domain.ErrPermissionDenied),
		stderrors.Is(err, domain.ErrModelUnavailable),
		stderrors.Is(err, domain.ErrPortInUse):
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, err.Error())
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "Internal server error")
}

// ErrorHandlerMiddleware renders the last error attached with c.Error.
func ErrorHandlerMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		appErr := MapError(c.Errors.Last().Err)

		ctx := c.Request.Context()
		fields := []zap.Field{
			zap.String("code", string(appErr.Code)),
			zap.Int("status", appErr.HTTPStatus),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.LogError(ctx, appErr.Cause, "request failed", fields...)
		} else {
			if appErr.Cause != nil {
				fields = append(fields, zap.NamedError("error", appErr.Cause))
			}
			log.WithContext(ctx).Warn("request rejected", fields...)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorw("panic recovered",
					"error", rec,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", logger.RequestID(c.Request.Context()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
