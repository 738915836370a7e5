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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/config"
	dbRedis "github.com/kailas-cloud/mapcluster/internal/db/redis"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	logpkg "github.com/kailas-cloud/mapcluster/internal/logger"
	"github.com/kailas-cloud/mapcluster/internal/metrics"
	layerrepo "github.com/kailas-cloud/mapcluster/internal/repository/layer"
	chiTransport "github.com/kailas-cloud/mapcluster/internal/transport/chi"
	healthuc "github.com/kailas-cloud/mapcluster/internal/usecase/health"
	layeruc "github.com/kailas-cloud/mapcluster/internal/usecase/layer"
	viewportuc "github.com/kailas-cloud/mapcluster/internal/usecase/viewport"
	"github.com/kailas-cloud/mapcluster/internal/version"
)

// maxEvictInterval bounds how long an expired session can linger.
const maxEvictInterval = time.Minute

func main() {
	// Optional .env for local runs
	_ = godotenv.Load(".env")

	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting mapcluster API server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Redis and Valkey speak the same hash and string commands
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterMapclusterMetrics()

	layerSvc := layeruc.New(layerrepo.New(store, cfg.Storage.KeyPrefix), layeruc.Config{
		Seed:               cfg.Clustering.Seed,
		MarkerSize:         item.Size{Width: cfg.Clustering.MarkerPx, Height: cfg.Clustering.MarkerPx},
		MaxClusterSize:     cfg.Clustering.MaxClusterSize,
		MaxRestarts:        cfg.Clustering.MaxRestarts,
		MeanRepresentative: cfg.Clustering.MeanRepresentative,
		OnWrite:            cfg.Clustering.OnWrite,
		MaxBatchSize:       cfg.Viewport.MaxBatchSize,
	}, logger)

	// Cluster stored layers in the background; /health reports them until ready
	go func() {
		if err := layerSvc.LoadAll(ctx, cfg.Layers); err != nil {
			logger.Error("Failed to load layers", zap.Error(err))
		}
	}()

	ttl := time.Duration(cfg.Viewport.SessionTTLSec) * time.Second
	viewportSvc := viewportuc.New(layerSvc, viewportuc.Config{
		MaxSessions: cfg.Viewport.MaxSessions,
		TTL:         ttl,
	}, logger)
	go viewportSvc.Run(ctx, min(ttl/4, maxEvictInterval))

	healthSvc := healthuc.New(store, layerSvc)

	server := chiTransport.NewServer(layerSvc, viewportSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.ErrorCodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
