// Command server is the ladder engine's entry point: load configuration,
// wire every dependency through internal/di, start the dispatcher's cron
// schedule and the admin HTTP server, then wait for a shutdown signal.
// Shaped after the teacher's cmd/server/main.go single-binary sequence.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/config"
	"github.com/martingalian/ladder-engine/internal/di"
	"github.com/martingalian/ladder-engine/internal/dispatcher"
	"github.com/martingalian/ladder-engine/internal/server"
	"github.com/martingalian/ladder-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting ladder engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("error closing databases")
		}
	}()

	schedule := dispatcher.Schedule{
		Sync:         durationToCron(cfg.DispatcherInterval),
		SmartReplace: "0 */5 * * * *",
	}
	if err := container.Dispatcher.Start(ctx, schedule); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher")
	}
	defer container.Dispatcher.Stop()

	if cfg.BackupEnabled && container.Backup != nil {
		go runBackupLoop(ctx, container, cfg.BackupInterval, log)
	}

	srv := server.New(server.Config{
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		Log:        log,
		Accounts:   container.Accounts,
		KillSwitch: container.KillSwitch,
		Positions:  container.Positions,
		Steps:      container.Steps,
		Engine:     container.Engine,
		Dispatcher: container.Dispatcher,
		Schedule:   schedule,
		Events:     container.Events,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("ladder engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}

	log.Info().Msg("ladder engine stopped")
}

// runBackupLoop runs the backup service on a fixed interval until ctx is
// cancelled. A failed run logs and retries on the next tick rather than
// crashing the process — backups are best-effort maintenance, not on the
// critical trading path.
func runBackupLoop(ctx context.Context, container *di.Container, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := container.Backup.Run(ctx); err != nil {
				log.Error().Err(err).Msg("backup run failed")
				continue
			}
			if err := container.Backup.Rotate(ctx, 30*24*time.Hour, 7); err != nil {
				log.Error().Err(err).Msg("backup rotation failed")
			}
		}
	}
}

// durationToCron converts a tick interval into a robfig/cron/v3 seconds-field
// expression. Only sub-minute and whole-minute intervals are supported,
// which covers every dispatcher interval SPEC_FULL §5 describes.
func durationToCron(d time.Duration) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		secs = 5
	}
	if secs < 60 {
		return "*/" + itoa(secs) + " * * * * *"
	}
	return "0 */" + itoa(secs/60) + " * * * *"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
