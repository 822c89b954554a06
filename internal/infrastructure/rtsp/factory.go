package rtsp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/internal/infrastructure/netinfo"

	"github.com/bluenviron/gortsplib/v4"
	"go.uber.org/zap"
)

const (
	defaultMTU     = 1400
	defaultTimeout = 10 * time.Second
)

type Config struct {
	// PublicHost overrides the advertised host. Empty means the first
	// private IPv4 address of an active interface.
	PublicHost    string
	Username      string
	Password      string
	DedupeViewers bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MTU           int
}

// Factory opens one RTSP media server per session over the shared capture
// device provider.
type Factory struct {
	cfg     Config
	devices ports.CaptureDeviceProvider
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

var _ ports.MediaServerFactory = (*Factory)(nil)

func NewFactory(cfg Config, devices ports.CaptureDeviceProvider, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *Factory {
	if cfg.MTU <= 0 {
		cfg.MTU = defaultMTU
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultTimeout
	}
	return &Factory{cfg: cfg, devices: devices, metrics: metrics, logger: logger}
}

// Open acquires the capture device and binds the RTSP listener on
// cfg.Port. The device is released again when the bind fails.
func (f *Factory) Open(ctx context.Context, cfg domain.StreamConfig, surface ports.Surface, sink ports.EventSink) (ports.MediaServer, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d", domain.ErrInvalidConfig, cfg.Port)
	}

	device, err := f.devices.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	host := f.cfg.PublicHost
	if host == "" {
		host = netinfo.LocalIPv4OrFallback()
	}

	s := newServer(f.cfg, cfg.Port, device, surface, sink, f.metrics, f.logger)
	s.url = fmt.Sprintf("rtsp://%s/", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	s.srv = &gortsplib.Server{
		Handler:      s,
		RTSPAddress:  ":" + strconv.Itoa(cfg.Port),
		ReadTimeout:  f.cfg.ReadTimeout,
		WriteTimeout: f.cfg.WriteTimeout,
	}

	if err := s.srv.Start(); err != nil {
		closeErr := device.Close()
		if isAddrInUse(err) {
			return nil, fmt.Errorf("%w: %d", domain.ErrPortInUse, cfg.Port)
		}
		return nil, errors.Join(fmt.Errorf("start rtsp server: %w", err), closeErr)
	}

	f.logger.Infow("rtsp server listening", "url", s.url, "auth", s.authRequired())
	return s, nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use")
}
