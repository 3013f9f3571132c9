package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/xilidan/workmate/config/asr"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/pkg/whisper"
	"github.com/xilidan/workmate/services/asr/server"
	"github.com/xilidan/workmate/services/asr/storage"
	"github.com/xilidan/workmate/services/asr/usecase"
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
	stt := whisper.New(whisper.Config{
		BaseURL: cfg.Whisper.BaseURL,
		APIKey:  cfg.Whisper.APIKey,
		Model:   cfg.Whisper.Model,
		Timeout: cfg.Whisper.Timeout,
	}, log)

	stg := storage.New()
	usc := usecase.New(stg, stt, log)

	srv := server.NewServerOptions(usc, log)
	grpcServer, err := srv.NewServer()
	if err != nil {
		log.Error("failed to create grpc server", slog.String("error", err.Error()))
		return err
	}

	serverErrors := make(chan error, 1)

	address := fmt.Sprintf(":%d", cfg.Port)
	grpcListener, err := net.Listen("tcp", address)
	if err != nil {
		log.Error("failed to listen on grpc port", slog.String("error", err.Error()))
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}

	go func() {
		serverErrors <- grpcServer.Serve(grpcListener)
	}()
	log.Info("asr grpc service started", slog.String("address", address))

	go prune(ctx, usc, cfg.PruneInterval, cfg.MaxIdle)

	select {
	case err := <-serverErrors:
		log.Info("grpc server has closed")
		return fmt.Errorf("grpc server has closed: %w", err)
	case <-ctx.Done():
		log.Info("start shutdown", slog.String("reason", context.Cause(ctx).Error()))
		srv.Shutdown()
		grpcServer.GracefulStop()
	}

	return nil
}

func prune(ctx context.Context, usc usecase.Usecase, interval, maxIdle time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := usc.Prune(ctx, maxIdle); n == 0 {
				logger.FromContext(ctx).Debug("nothing to prune")
			}
		}
	}
}
