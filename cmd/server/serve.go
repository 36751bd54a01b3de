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

	"tunespace/api/rest/routes"
	"tunespace/config"
	"tunespace/core/events"
	"tunespace/core/executor"
	"tunespace/core/monitoring"
	"tunespace/core/notify"
	"tunespace/core/registry"
	"tunespace/core/repository"
	"tunespace/core/scheduler"
	"tunespace/logging"
	"tunespace/providers/aws"
	"tunespace/storage"
	"tunespace/training/frameworks"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func runServer(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	monitoring.MustRegister()

	exec, err := buildExecutor(ctx, cfg, log)
	if err != nil {
		return err
	}

	memlog := events.NewMemoryLog()
	var eventLog events.Lister = memlog
	sinks := []events.Recorder{memlog}
	var closers []func() error

	if cfg.Database.URL != "" {
		db, err := repository.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		closers = append(closers, db.Close)
		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("preparing schema: %w", err)
		}
		sinks = append(sinks, repository.NewEventRepository(db))
		log.Info().Msg("database connected, recording job events")
	}

	if cfg.Redis.URL != "" {
		pub, err := notify.NewRedisPublisher(ctx, cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		closers = append(closers, pub.Close)
		sinks = append(sinks, pub)
		log.Info().Str("channel", cfg.Redis.Channel).Msg("publishing job events to redis")
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("close failed")
			}
		}
	}()

	dispatcher := events.NewDispatcher(1024, log, sinks...)

	reg := registry.New()
	sched := scheduler.NewScheduler(reg, exec,
		scheduler.WithMaxConcurrent(cfg.Jobs.MaxConcurrent),
		scheduler.WithEvents(dispatcher),
		scheduler.WithLogger(log),
	)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	monitor := monitoring.NewJobMonitor(reg, monitoring.MonitorOptions{
		Interval:   cfg.Jobs.MonitorInterval,
		StallAfter: cfg.Jobs.StallAfter,
		Retention:  cfg.Jobs.CleanupAfter,
		OnPrune:    memlog.Forget,
	}, log)
	go monitor.Start(monitorCtx)

	datasets, err := storage.NewDatasetStore(cfg.Data.Dir)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if cfg.Jobs.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Jobs.SubmitRate), cfg.Jobs.SubmitBurst)
	}

	router := routes.NewRouter(routes.Deps{
		Jobs:             sched,
		Events:           eventLog,
		Datasets:         datasets,
		DefaultOutputDir: cfg.Jobs.DefaultOutputDir,
		SubmitLimiter:    limiter,
		CORSOrigins:      cfg.Server.CORSOrigins,
		Log:              log,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("executor", cfg.Executor.Type).
			Int("max_concurrent", cfg.Jobs.MaxConcurrent).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	stopMonitor()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("jobs did not stop in time")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pending job events were not delivered")
	}

	log.Info().Msg("server exited")
	return nil
}

// buildExecutor selects the training backend and wraps it with S3 staging when enabled
func buildExecutor(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (executor.TrainingExecutor, error) {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	var exec executor.TrainingExecutor
	hub := frameworks.HubSettings{Token: cfg.HF.Token, CacheDir: cfg.HF.CacheDir}

	switch cfg.Executor.Type {
	case config.ExecutorSimulated:
		sim := executor.NewSimulated(cfg.Executor.StepInterval, cfg.Executor.StepsPerEpoch, log)
		sim.RequireDataset = cfg.Executor.RequireDataset
		exec = sim
	case config.ExecutorSubprocess:
		sub, err := executor.NewSubprocess(cfg.Executor.Command, cfg.Executor.WorkDir, cfg.Executor.NProcPerNode, log)
		if err != nil {
			return nil, err
		}
		sub.Hub = hub
		exec = sub
	case config.ExecutorDocker:
		cli, err := executor.NewDockerClient()
		if err != nil {
			return nil, err
		}
		d, err := executor.NewDocker(cli, cfg.Executor.Image, cfg.Executor.Command, log)
		if err != nil {
			return nil, err
		}
		d.Hub = hub
		exec = d
	default:
		return nil, fmt.Errorf("unknown executor type %q", cfg.Executor.Type)
	}

	if !cfg.S3.Enabled {
		return exec, nil
	}

	client, err := aws.NewClient(ctx, aws.Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("staging_dir", cfg.S3.StagingDir).Msg("s3 staging enabled")
	return executor.NewStaging(exec, aws.NewS3Store(client, log), cfg.S3.StagingDir, log), nil
}
