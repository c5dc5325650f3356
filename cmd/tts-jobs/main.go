// main package for the tts-jobs service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/config"
	"github.com/book-expert/tts-jobs/internal/httpapi"
	"github.com/book-expert/tts-jobs/internal/jobs"
	"github.com/book-expert/tts-jobs/internal/synthesis"
	"github.com/book-expert/tts-jobs/internal/text"
	"github.com/book-expert/tts-jobs/internal/workerpool"
)

const readHeaderTimeout = 10 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "tts-jobs-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "tts-jobs.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

// serve wires the service together and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	deps, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	// The mirror outlives the manager so the final cancellations reach Redis.
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	defer stopMirror()

	// Background loops stop on runCtx, which also ends when the listener fails.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var background sync.WaitGroup

	storeOptions := []jobs.StoreOption{}
	if deps.mirror != nil {
		storeOptions = append(storeOptions, jobs.WithObserver(deps.mirror))

		background.Add(1)

		go func() {
			defer background.Done()

			deps.mirror.Run(mirrorCtx)
		}()
	}

	pool := workerpool.New(cfg.Jobs.SynthesisWorkers)

	driver := synthesis.NewDriver(synthesis.Components{
		Engine:     newEngine(cfg, log),
		Voices:     synthesis.NewVoiceResolver(cfg.Voices.PredefinedDir, cfg.Voices.ReferenceDir),
		Chunker:    text.SentenceChunker{},
		Normalizer: text.NewNormalizer(),
		Pool:       pool,
		Sink:       deps.sink,
	}, synthesis.Settings{
		OutputSampleRate: cfg.TTS.OutputSampleRate,
		MinEncodedBytes:  cfg.TTS.MinEncodedBytes,
		MaxChunkAttempts: cfg.TTS.MaxChunkAttempts,
	}, log)

	manager := jobs.NewManager(jobs.NewStore(log, storeOptions...), driver, deps.sink, jobs.ManagerConfig{
		MaxConcurrent:  cfg.Jobs.MaxConcurrent,
		RejectWhenBusy: cfg.Jobs.RejectWhenBusy,
	}, log)

	reaper := jobs.NewReaper(manager.Store(), manager, cfg.Jobs.Retention(), cfg.Jobs.CleanupInterval(), log)

	background.Add(1)

	go func() {
		defer background.Done()

		reaper.Run(runCtx)
	}()

	ingressErr := startIngress(runCtx, cfg, deps, manager, log, &background)
	if ingressErr != nil {
		cancelRun()
		stopMirror()
		background.Wait()

		return fmt.Errorf("failed to start NATS ingress: %w", ingressErr)
	}

	api := httpapi.Server{Jobs: manager, Results: deps.sink, Defaults: cfg.Defaults(), Log: log}
	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serveErr <- listenErr
		}

		close(serveErr)
	}()

	log.System("TTS-Jobs listening on %s (engine %s, storage %s, max %d concurrent jobs)",
		cfg.HTTP.ListenAddr, cfg.TTS.Backend, cfg.Storage.Backend, cfg.Jobs.MaxConcurrent)

	var runErr error

	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case listenErr := <-serveErr:
		runErr = fmt.Errorf("http server failed: %w", listenErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("HTTP server shutdown: %v", shutdownErr)
	}

	managerErr := manager.Shutdown(shutdownCtx)
	if managerErr != nil {
		log.Warn("Job manager shutdown: %v", managerErr)
	}

	cancelRun()
	pool.Wait()
	stopMirror()
	background.Wait()

	log.System("TTS-Jobs stopped")

	return runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
