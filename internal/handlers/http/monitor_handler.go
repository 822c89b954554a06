package http

import (
	"context"
	"net/http"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/pkg/errors"

	"github.com/gin-gonic/gin"
)

// MonitorController is the part of services.MonitorService the HTTP layer
// drives.
type MonitorController interface {
	StartMonitoring(ctx context.Context, surface ports.Surface) error
	StopMonitoring(ctx context.Context)
	SwitchCamera() error
	ToggleLight() bool
	ResetAlert()
	Status() domain.SessionStatus
	Subscribe() (<-chan domain.SessionStatus, func())
	Viewers() []domain.ViewerInfo
	Settings(ctx context.Context) (domain.StreamSettings, error)
	UpdateSettings(ctx context.Context, settings domain.StreamSettings) error
}

// SurfaceSource yields the preview surface to keep attached across restarts.
type SurfaceSource interface {
	Current() ports.Surface
}

type MonitorHandler struct {
	monitor MonitorController
	preview SurfaceSource
}

func NewMonitorHandler(monitor MonitorController, preview SurfaceSource) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, preview: preview}
}

func (h *MonitorHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/status", h.GetStatus)
	api.GET("/viewers", h.ListViewers)

	api.POST("/monitor/start", h.StartMonitoring)
	api.POST("/monitor/stop", h.StopMonitoring)

	api.POST("/camera/switch", h.SwitchCamera)
	api.POST("/light/toggle", h.ToggleLight)
	api.POST("/alert/reset", h.ResetAlert)

	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.UpdateSettings)
}

func (h *MonitorHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) ListViewers(c *gin.Context) {
	viewers := h.monitor.Viewers()
	c.JSON(http.StatusOK, gin.H{
		"viewers": viewers,
		"count":   len(viewers),
	})
}

func (h *MonitorHandler) StartMonitoring(c *gin.Context) {
	var surface ports.Surface
	if h.preview != nil {
		surface = h.preview.Current()
	}

	if err := h.monitor.StartMonitoring(c.Request.Context(), surface); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) StopMonitoring(c *gin.Context) {
	h.monitor.StopMonitoring(c.Request.Context())
	c.JSON(http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) SwitchCamera(c *gin.Context) {
	if err := h.monitor.SwitchCamera(); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "switched"})
}

func (h *MonitorHandler) ToggleLight(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.monitor.ToggleLight()})
}

func (h *MonitorHandler) ResetAlert(c *gin.Context) {
	h.monitor.ResetAlert()
	c.JSON(http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) GetSettings(c *gin.Context) {
	settings, err := h.monitor.Settings(c.Request.Context())
	if err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeServiceUnavailable, "settings store unavailable"))
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *MonitorHandler) UpdateSettings(c *gin.Context) {
	var req struct {
		Quality      string `json:"quality" binding:"required"`
		Framerate    int    `json:"framerate" binding:"required,min=1,max=120"`
		AudioBitrate int    `json:"audio_bitrate" binding:"required,min=8000"`
		Port         int    `json:"port" binding:"required,min=1,max=65535"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	settings := domain.StreamSettings{
		Quality:      domain.Quality(req.Quality),
		Framerate:    req.Framerate,
		AudioBitrate: req.AudioBitrate,
		Port:         req.Port,
	}
	if err := h.monitor.UpdateSettings(c.Request.Context(), settings); err != nil {
		c.Error(err)
		return
	}

	saved, err := h.monitor.Settings(c.Request.Context())
	if err != nil {
		saved = settings
	}
	c.JSON(http.StatusOK, saved)
}
