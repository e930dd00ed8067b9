package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/pdctl/internal/api"
	"codeberg.org/mutker/pdctl/internal/capture"
	"codeberg.org/mutker/pdctl/internal/config"
	"codeberg.org/mutker/pdctl/internal/device/replay"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/export"
	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/monitor"
	"codeberg.org/mutker/pdctl/internal/pid"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}

	code := run(cfg)

	if err := pid.Remove(); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	os.Exit(code)
}

func run(cfg *config.Config) int {
	captureCfg, err := cfg.CaptureSettings()
	if err != nil {
		logger.Error().Err(err).Msg("invalid capture configuration")
		return 1
	}

	drv := replay.NewDriver(replay.Config{
		DefaultPath: cfg.Replay.File,
		Speed:       cfg.Replay.Speed,
		Loop:        cfg.Replay.Loop,
	})
	session := capture.New(captureCfg, drv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("capture session stopped")
		}
	}()

	if cfg.Monitor.Interval > 0 {
		mon := monitor.New(cfg.Monitor.Interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Run(ctx)
		}()
	}

	var server *api.Server
	if cfg.HTTP.Listen != "" {
		server = api.NewServer(cfg.HTTP.Listen, session, logger.Default())
		go func() {
			if err := server.ListenAndServe(); err != nil {
				logger.Error().Err(err).Msg("HTTP server failed")
				cancel()
			}
		}()
	}

	if cfg.Capture.Autostart {
		if err := autostart(ctx, session, cfg); err != nil {
			logger.Error().Err(err).Msg("autostart failed")
		}
	}

	handleSignals(ctx, session)
	logger.Info().Msg("Received termination signal.")

	shutdown(session, cfg.Export.OnExit)
	cancel()

	if server != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(sctx); err != nil {
			logger.Error().Err(err).Msg("failed to shut down HTTP server")
		}
		scancel()
	}

	wg.Wait()
	logger.Info().Msg("Exiting...")

	return 0
}

func autostart(ctx context.Context, session *capture.Session, cfg *config.Config) error {
	if err := session.Connect(ctx, cfg.Device); err != nil {
		return err
	}

	return session.Start(ctx)
}

// handleSignals blocks until a termination signal arrives or ctx is done.
// SIGUSR1 toggles the capture.
func handleSignals(ctx context.Context, session *capture.Session) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig != syscall.SIGUSR1 {
				return
			}

			if err := session.Toggle(ctx); err != nil {
				logger.Warn().Err(err).Msg("toggle capture failed")
				continue
			}
			logger.Info().Str("state", session.Status().State).Msg("Capture toggled")
		}
	}
}

// shutdown disconnects the device and writes the on-exit snapshot, if
// configured.
func shutdown(session *capture.Session, exportPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := session.Disconnect(ctx); err != nil && !errors.HasCode(err, errors.ErrNotConnected) {
		logger.Error().Err(err).Msg("failed to disconnect device")
	}

	if exportPath == "" {
		return
	}

	protocol, measurement, err := session.Records(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to collect records for export")
		return
	}

	if err := export.ExportFile(exportPath, protocol, measurement); err != nil {
		if errors.HasCode(err, errors.ErrNothingToExport) {
			logger.Info().Msg("No records to export")
			return
		}
		logger.Error().Err(err).Str("path", exportPath).Msg("failed to export records")
		return
	}

	logger.Info().Str("path", exportPath).Msg("Records exported")
}
