package main

import (
	"context"
	"fmt"
	"io"
	"os"

	settingsbackup "vigil/internal/infrastructure/backup"
	"vigil/internal/infrastructure/repositories"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage settings backups",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRestorer(cmd.Context(), func(_ *settingsbackup.Scheduler, r *settingsbackup.Restorer) error {
			names, err := r.List(cmd.Context())
			if err != nil {
				return err
			}
			return printBackups(os.Stdout, names)
		})
	},
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRestorer(cmd.Context(), func(s *settingsbackup.Scheduler, _ *settingsbackup.Restorer) error {
			name, err := s.RunOnce(cmd.Context(), "manual")
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [name]",
	Short: "Restore settings from a backup (newest when no name is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		return withRestorer(cmd.Context(), func(_ *settingsbackup.Scheduler, r *settingsbackup.Restorer) error {
			settings, err := r.Restore(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Printf("restored quality=%s framerate=%d audio_bitrate=%d port=%d\n",
				settings.Quality, settings.Framerate, settings.AudioBitrate, settings.Port)
			return nil
		})
	},
}

func init() {
	backupCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is configs/config.yaml)")
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
}

// withRestorer opens the settings store and backup directory named by the
// config. The backup directory is used even when scheduled backups are off.
func withRestorer(ctx context.Context, fn func(*settingsbackup.Scheduler, *settingsbackup.Restorer) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := zap.NewNop().Sugar()

	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	defer repoFactory.Close()
	if !repoFactory.UsingRedis() {
		fmt.Fprintln(os.Stderr, "warning: redis is not configured, settings are not persisted across restarts")
	}
	settings := repoFactory.CreateSettingsRepository()

	service, err := newBackupService(cfg)
	if err != nil {
		return err
	}
	scheduler := settingsbackup.NewScheduler(service, settings, settingsbackup.Config{Retention: cfg.Backup.Retention}, log)
	return fn(scheduler, settingsbackup.NewRestorer(service, settings, log))
}

func printBackups(w io.Writer, names []string) error {
	if len(names) == 0 {
		_, err := fmt.Fprintln(w, "no backups")
		return err
	}
	for _, name := range names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}
