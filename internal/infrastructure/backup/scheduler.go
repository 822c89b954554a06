// Package backup snapshots the persisted stream settings on a schedule and
// restores them on demand.
package backup

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/core/ports"
	"vigil/pkg/backup"

	"go.uber.org/zap"
)

// SettingsKind names settings snapshots in the backup store.
const SettingsKind = "settings"

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

// Scheduler takes a settings snapshot at start and then every Interval, and
// prunes snapshots older than Retention.
type Scheduler struct {
	service  *backup.Service
	settings ports.SettingsRepository
	cfg      Config
	logger   *zap.SugaredLogger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(service *backup.Service, settings ports.SettingsRepository, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		service:  service,
		settings: settings,
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.started.CompareAndSwap(false, true) {
		go s.run(ctx)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, "scheduled"); err != nil {
		s.logger.Errorw("settings backup failed", "error", err)
	}
}

// Stop ends the schedule and waits for a running backup.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

// RunOnce snapshots the current settings and prunes old snapshots.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (string, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read settings: %w", err)
	}

	name, err := s.service.Create(ctx, SettingsKind, settings, map[string]string{
		"trigger": trigger,
		"port":    strconv.Itoa(settings.Port),
	})
	if err != nil {
		return "", err
	}
	s.logger.Infow("settings backup created", "backup_name", name, "trigger", trigger)

	if s.cfg.Retention > 0 {
		removed, err := s.service.Prune(ctx, SettingsKind, s.cfg.Retention)
		for _, r := range removed {
			s.logger.Infow("deleted old backup", "backup_name", r)
		}
		if err != nil {
			s.logger.Warnw("failed to cleanup old backups", "error", err)
		}
	}
	return name, nil
}
