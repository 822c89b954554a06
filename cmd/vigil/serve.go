package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigil/internal/core/ports"
	"vigil/internal/core/services"
	httphandlers "vigil/internal/handlers/http"
	settingsbackup "vigil/internal/infrastructure/backup"
	"vigil/internal/infrastructure/capture"
	"vigil/internal/infrastructure/distributed"
	"vigil/internal/infrastructure/emitter"
	"vigil/internal/infrastructure/inference"
	"vigil/internal/infrastructure/monitoring"
	"vigil/internal/infrastructure/preview"
	"vigil/internal/infrastructure/repositories"
	"vigil/internal/infrastructure/rtsp"
	"vigil/pkg/backup"
	"vigil/pkg/circuitbreaker"
	"vigil/pkg/config"
	"vigil/pkg/logger"
	"vigil/pkg/retry"
	"vigil/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"/etc/vigil/config.yaml",
	"config.yaml",
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.Load(defaultConfigPaths[0])
}

func newBackupService(cfg *config.Config) (*backup.Service, error) {
	storage, err := backup.NewFileStorage(cfg.Backup.Dir)
	if err != nil {
		return nil, err
	}
	return backup.NewService(storage, version), nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	instanceID := uuid.NewString()
	log.Infow("starting vigil", "version", version, "instance_id", instanceID)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "vigil",
		Version:     version,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	settingsRepo := repoFactory.CreateSettingsRepository()

	var backups *settingsbackup.Scheduler
	if cfg.Backup.Enabled {
		service, err := newBackupService(cfg)
		if err != nil {
			log.Warnw("settings backups disabled", "error", err)
		} else {
			backups = settingsbackup.NewScheduler(service, settingsRepo, settingsbackup.Config{
				Interval:  cfg.Backup.Interval,
				Retention: cfg.Backup.Retention,
			}, log)
			backups.Start(ctx)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusCollector(registry)

	publishers, closePublishers := buildPublishers(ctx, cfg, repoFactory, instanceID, log)
	notifier := services.NewAlertNotifier(publishers, circuitbreaker.Config{
		FailureThreshold: cfg.Alerts.BreakerFailures,
		SuccessThreshold: 1,
		Timeout:          cfg.Alerts.BreakerTimeout,
	}, log)

	devices := capture.NewProvider(capture.Config{
		VideoCommand:     cfg.Capture.VideoCommand,
		VideoCommandBack: cfg.Capture.VideoCommandBack,
		VideoFile:        cfg.Capture.VideoFile,
		AudioCommand:     cfg.Capture.AudioCommand,
		LightPath:        cfg.Capture.LightPath,
		MaxWidth:         cfg.Capture.MaxWidth,
		MaxHeight:        cfg.Capture.MaxHeight,
		MaxFPS:           cfg.Capture.MaxFPS,
	}, log)
	servers := rtsp.NewFactory(rtsp.Config{
		PublicHost:    cfg.RTSP.PublicHost,
		Username:      cfg.RTSP.Username,
		Password:      cfg.RTSP.Password,
		DedupeViewers: cfg.RTSP.DedupeViewers,
		ReadTimeout:   cfg.RTSP.ReadTimeout,
		WriteTimeout:  cfg.RTSP.WriteTimeout,
		MTU:           cfg.RTSP.MTU,
	}, devices, metrics, log)
	mics := capture.NewMicFactory(capture.MicConfig{
		Command:    cfg.Audio.Command,
		Device:     cfg.Audio.Device,
		MinLatency: cfg.Audio.MinLatency,
	})
	loader := inference.NewLoader(inference.Config{
		ModelPath: cfg.Detection.ModelPath,
		Threads:   cfg.Detection.Threads,
	})

	hub := services.NewStatusHub()
	var viewerOpts []services.ViewerRegistryOption
	if cfg.RTSP.DedupeViewers {
		viewerOpts = append(viewerOpts, services.WithDeduplication())
	}
	viewers := services.NewViewerRegistry(viewerOpts...)
	session := services.NewSessionManager(servers, viewers, hub, metrics, log)
	classifier := services.NewCryClassifier(services.CryClassifierConfig{
		Threshold:     float32(cfg.Detection.Threshold),
		Cooldown:      cfg.Detection.Cooldown,
		ClassIndices:  cfg.Detection.ClassIndices,
		WindowSamples: services.CryWindowSamples,
	}, loader, metrics, log)
	audio := services.NewAudioPipeline(mics, classifier, hub, notifier, metrics, log, services.AudioPipelineConfig{
		StopTimeout: cfg.Audio.StopTimeout,
	})
	monitor := services.NewMonitorService(session, audio, hub, viewers, settingsRepo, log)

	checker := monitoring.NewHealthChecker()
	checker.AddSettingsCheck(settingsRepo, 2*time.Second)
	if repoFactory.UsingRedis() {
		checker.AddCheck("redis", repoFactory.HealthCheck, 2*time.Second)
	}

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
	}

	previews := preview.NewServer(preview.Config{
		PingInterval: cfg.Server.PingInterval,
		PongTimeout:  cfg.Server.PongTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, monitor, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.Router{
		Config:  cfg,
		Monitor: httphandlers.NewMonitorHandler(monitor, previews),
		Status:  httphandlers.NewStatusStream(monitor, cfg.Server.PingInterval, cfg.Server.PongTimeout, log),
		Health:  httphandlers.NewHealthHandler(checker, gatherer),
		Preview: gin.WrapF(previews.HandleWebSocket),
		Logger:  zapLogger,
	}.Engine()

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: websocket streams are long-lived.
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.Stream.AutoStart {
		if err := monitor.StartMonitoring(ctx, nil); err != nil {
			log.Errorw("auto start failed", "error", err)
		}
	}

	select {
	case err := <-serverErr:
		log.Errorw("http server failed", "error", err)
	case <-ctx.Done():
		log.Infow("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	monitor.Close(shutdownCtx)
	if backups != nil {
		backups.Stop()
	}
	notifier.Close()
	closePublishers()
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error shutting down tracer", "error", err)
		}
	}

	log.Infow("vigil stopped")
	return nil
}

// buildPublishers sets up alert fan-out to redis pub/sub and MQTT when
// configured. The returned func disconnects them.
func buildPublishers(
	ctx context.Context,
	cfg *config.Config,
	repoFactory *repositories.RepositoryFactory,
	instanceID string,
	log *zap.SugaredLogger,
) ([]ports.AlertPublisher, func()) {
	var (
		publishers []ports.AlertPublisher
		closers    []func()
	)

	if client := repoFactory.RedisClient(); client != nil {
		bus := distributed.NewEventBus(client, instanceID, log)
		publishers = append(publishers, bus)

		go func() {
			err := bus.Subscribe(ctx, false, func(ev *distributed.Event) error {
				alert, err := ev.Alert()
				if err != nil {
					return err
				}
				log.Infow("alert from another monitor",
					"instance_id", ev.InstanceID,
					"type", ev.Type,
					"confidence", alert.Confidence,
				)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	if cfg.MQTT.Enabled {
		mqttEmitter := emitter.NewMQTTEmitter(emitter.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retry:       retry.DefaultConfig(),
		}, log)

		if err := mqttEmitter.Connect(ctx); err != nil {
			log.Warnw("mqtt unavailable, alerts will not be published to the broker", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			publishers = append(publishers, mqttEmitter)
			closers = append(closers, func() {
				if err := mqttEmitter.Close(); err != nil {
					log.Warnw("error closing mqtt emitter", "error", err)
				}
			})
		}
	}

	return publishers, func() {
		for _, c := range closers {
			c()
		}
	}
}
