package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/config"
	"github.com/kailas-cloud/postmap/internal/metrics"
	"github.com/kailas-cloud/postmap/internal/repository/schema"
	chiTransport "github.com/kailas-cloud/postmap/internal/transport/chi"
	"github.com/kailas-cloud/postmap/internal/version"
)

func serveCmd() *cobra.Command {
	var (
		env  string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), env, port)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "Config environment (default: $ENV or local)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default: http.port)")
	return cmd
}

func runServe(parent context.Context, env string, port int) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if port > 0 {
		cfg.HTTP.Port = port
	}
	logger := a.logger

	build := version.Get()
	logger.Info("Starting postmap API server",
		zap.String("version", build.Version),
		zap.String("commit", build.Commit),
		zap.String("env", a.env),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	if cfg.Database.AutoMigrate {
		if err := schema.AutoMigrate(ctx, a.db); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	if a.index != nil {
		// The index only serves the optional ANN backend; posts are still
		// stored and searchable exactly without it.
		if err := a.index.EnsureIndex(ctx); err != nil {
			logger.Warn("Vector index unavailable", zap.Error(err))
		}
	}
	if cfg.Backfill.OnStartup {
		go a.startupBackfill(ctx)
	}

	server := chiTransport.NewServer(a.users, a.posts, a.search, a.maps, a.backfill, a.usage, a.health, logger).
		WithSearchLimits(a.limits)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      newRouter(server, cfg, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func newRouter(server *chiTransport.Server, cfg config.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.RequestLogger(logger))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-Embedding-Tokens"},
			MaxAge:         cfg.CORS.MaxAgeSec,
		}))
	}
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())

	return chiTransport.Handler(server, chiTransport.RouterOptions{
		BaseRouter: r,
		ErrorHandlerFunc: func(w http.ResponseWriter, _ *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
				Code:    chiTransport.CodeBadRequest,
				Message: err.Error(),
			})
		},
	})
}

func (a *app) startupBackfill(ctx context.Context) {
	report, err := a.backfill.Run(ctx)
	if err != nil {
		a.logger.Error("Startup backfill failed", zap.Error(err))
		return
	}
	a.logger.Info("Startup backfill finished",
		zap.Int("embedded", report.Summary.OK),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("mirrored", report.Mirrored),
		zap.Int("mirror_failed", report.MirrorFailed),
	)
}
