package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/usecase"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Options struct {
	Port      int
	JWTSecret string
	Gatherer  prometheus.Gatherer
	Checks    map[string]HealthCheck

	// ShutdownGrace bounds how long Start waits for requests and live sessions to finish.
	ShutdownGrace time.Duration
}

type Server struct {
	opts     Options
	usecase  usecase.Usecase
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(opts Options, usecase usecase.Usecase, log *slog.Logger) *Server {
	log.Debug("creating transcription server",
		slog.Int("port", opts.Port),
		slog.Int("health_checks", len(opts.Checks)))

	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		opts:    opts,
		usecase: usecase,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// origins are enforced by the CORS policy and the bearer token
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	router.Route("/api/v1", func(apiRouter chi.Router) {
		apiRouter.Get("/health", s.HealthHandler)

		apiRouter.Group(func(authRouter chi.Router) {
			authRouter.Use(s.authenticate)

			authRouter.Route("/transcription", func(tr chi.Router) {
				tr.Post("/upload", s.UploadHandler)
				tr.Post("/upload/{meeting_id}", s.UploadHandler)
				tr.Get("/live/{meeting_id}", s.LiveHandler)
				tr.Get("/{meeting_id}/status", s.StatusHandler)
				tr.Get("/{meeting_id}/transcript", s.TranscriptHandler)
				tr.Get("/{meeting_id}/analysis", s.AnalysisHandler)
				tr.Get("/{meeting_id}/documents", s.DocumentsHandler)
				tr.Get("/{meeting_id}/tasks", s.TasksHandler)
				tr.Get("/{meeting_id}/analytics", s.LiveAnalyticsHandler)
				tr.Post("/{meeting_id}/voice-command", s.VoiceCommandHandler)
			})
			authRouter.Route("/meetings", func(mr chi.Router) {
				mr.Get("/", s.MeetingsHandler)
				mr.Get("/{meeting_id}", s.MeetingHandler)
			})
			authRouter.Put("/calendar/credential", s.CalendarCredentialHandler)
		})
	})

	return router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully. Live
// sessions see the cancellation through their request context and close with
// 1001; Start waits for them to fold their summaries.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.opts.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Debug("HTTP server configured", slog.String("addr", addr))

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("transcription service started", slog.String("address", addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		s.log.Error("server error received", slog.String("error", err.Error()))
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.log.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("graceful shutdown failed", slog.String("error", err.Error()))
			if cerr := srv.Close(); cerr != nil {
				s.log.Error("force close failed", slog.String("error", cerr.Error()))
			}
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		s.waitLive(shutdownCtx)

		if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.log.Info("server stopped gracefully")
	}
	return nil
}

// waitLive blocks until hijacked live connections have finished.
func (s *Server) waitLive(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for s.usecase.LiveSessions() > 0 {
		select {
		case <-ctx.Done():
			s.log.Warn("live sessions still open at shutdown", slog.Int("count", s.usecase.LiveSessions()))
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := s.log.With(slog.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), log)))

		log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)))
	})
}
