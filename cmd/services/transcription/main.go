package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	config "github.com/xilidan/workmate/config/transcription"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/pkg/whisper"
	"github.com/xilidan/workmate/services/transcription/clients/asr"
	"github.com/xilidan/workmate/services/transcription/clients/calendar"
	"github.com/xilidan/workmate/services/transcription/clients/llm"
	"github.com/xilidan/workmate/services/transcription/clients/speech"
	"github.com/xilidan/workmate/services/transcription/events"
	"github.com/xilidan/workmate/services/transcription/ingest"
	"github.com/xilidan/workmate/services/transcription/live"
	"github.com/xilidan/workmate/services/transcription/observability"
	"github.com/xilidan/workmate/services/transcription/pipeline"
	"github.com/xilidan/workmate/services/transcription/runlock"
	"github.com/xilidan/workmate/services/transcription/server"
	"github.com/xilidan/workmate/services/transcription/storage"
	"github.com/xilidan/workmate/services/transcription/tier"
	"github.com/xilidan/workmate/services/transcription/usecase"
)

func main() {
	cfg := config.MustLoad()

	log := logger.New(logger.Config{
		Level:      logger.ParseLevel(cfg.LogLevel),
		Output:     os.Stderr,
		AddSource:  true,
		JSONFormat: cfg.LogJSON,
	})

	ctx := logger.WithContext(context.Background(), log)

	rootCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("failed to run()", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	checks := map[string]server.HealthCheck{}

	policies, err := tier.Load(cfg.TierPolicyFile)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, log, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		locker    runlock.Locker   = runlock.NewMemory()
		publisher events.Publisher = events.NewNop()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		locker = runlock.NewRedis(rdb, cfg.RunLockTTL, log)
		publisher = events.NewRedisPublisher(rdb)
		checks["redis"] = func(ctx context.Context) bool { return rdb.Ping(ctx).Err() == nil }
		log.Info("redis run lock and events enabled", slog.String("addr", cfg.RedisAddr))
	}

	stt := whisper.New(whisper.Config{
		BaseURL: cfg.Whisper.BaseURL,
		APIKey:  cfg.Whisper.APIKey,
		Model:   cfg.Whisper.Model,
		Timeout: cfg.Whisper.Timeout,
	}, log)
	analyzer := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, log)
	cal := calendar.New(calendar.Config{
		BaseURL: cfg.Calendar.BaseURL,
		Timeout: cfg.Calendar.Timeout,
	}, log)

	asrClient, err := asr.New(cfg.ASR.Address, log)
	if err != nil {
		return err
	}
	defer asrClient.Close()
	checks["asr"] = asrClient.Healthy

	ingestor := ingest.New(cfg.UploadDir, policies, metrics, log)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Store:           store,
		Transcriber:     speech.New(stt, log),
		Analyzer:        analyzer,
		Calendar:        cal,
		Audio:           ingestor,
		Publisher:       publisher,
		Policies:        policies,
		Metrics:         metrics,
		Log:             log,
		CalendarTimeout: cfg.CalendarWindow,
	})
	runner := pipeline.NewRunner(orchestrator, cfg.Workers, cfg.QueueSize, metrics, log)
	runner.Start()

	controller := live.NewController(live.Config{
		AllowDegraded: cfg.Live.AllowDegraded,
		MaxInFlight:   cfg.Live.MaxInFlight,
		ChunkBacklog:  cfg.Live.ChunkBacklog,
		ChunkTimeout:  cfg.Live.ChunkTimeout,
	}, asrClient, store, publisher, policies, metrics, log)

	uc := usecase.New(usecase.Deps{
		Store:  store,
		Ingest: ingestor,
		Locker: locker,
		Runner: runner,
		Live:   controller,
		Log:    log,
	})

	go sweep(ctx, ingestor, cfg.SweepInterval, cfg.UploadMaxAge)

	srv := server.New(server.Options{
		Port:          cfg.Port,
		JWTSecret:     cfg.JWTSecret,
		Gatherer:      reg,
		Checks:        checks,
		ShutdownGrace: cfg.ShutdownGrace,
	}, uc, log)

	serveErr := srv.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn("pipeline did not drain before shutdown", slog.String("error", err.Error()))
	}
	orchestrator.Wait()

	return serveErr
}

// openStore picks Postgres when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger, checks map[string]server.HealthCheck) (storage.Storage, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, meeting records are kept in memory")
		return storage.NewMemory(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}

	pg := storage.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	checks["postgres"] = func(ctx context.Context) bool { return db.PingContext(ctx) == nil }
	log.Info("postgres store ready")

	return pg, func() { db.Close() }, nil
}

func sweep(ctx context.Context, ingestor *ingest.Ingestor, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	log := logger.With(ctx, slog.String("job", "upload_sweep"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := ingestor.SweepStale(ctx, maxAge)
			if err != nil && ctx.Err() == nil {
				log.Warn("stale upload sweep failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				log.Debug("stale uploads removed", slog.Int("count", removed))
			}
		}
	}
}
