// The server binary exposes the HTTP API: metric ingestion, watcher and
// dashboard logins, threshold configuration and read endpoints. Events are
// published to NATS; evaluation and registration run in the worker binary.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"

	"greenservers-backend/internal/api"
	"greenservers-backend/internal/bus"
	"greenservers-backend/internal/identity"
	"greenservers-backend/internal/metric"
	"greenservers-backend/internal/state"
	"greenservers-backend/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := getenv("PORT", "8080")
	dsn := getenv("DATABASE_URL", "")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	natsURL := getenv("NATS_URL", nats.DefaultURL)
	identityEndpoint := getenv("IDENTITY_ENDPOINT", "")
	if identityEndpoint == "" {
		logger.Error("IDENTITY_ENDPOINT is required")
		os.Exit(1)
	}
	identityKey := getenv("IDENTITY_API_KEY", "")
	bucketPrefix := getenv("STATE_BUCKET_PREFIX", "greenservers")
	requestTimeout := time.Duration(getenvInt("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second

	ctx := context.Background()

	store, err := storage.NewStore(ctx, dsn)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	conn, err := nats.Connect(natsURL)
	if err != nil {
		logger.Error("failed to connect to nats", slog.String("url", natsURL), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	stateStore, err := state.NewKV(conn, bucketPrefix)
	if err != nil {
		logger.Error("failed to init state store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metrics := metric.New()
	metricsHandler, err := metric.NewHandler(metrics)
	if err != nil {
		logger.Error("failed to init metrics", slog.String("error", err.Error()))
		os.Exit(1)
	}

	h := &api.Handler{
		Repo:     storage.NewRepository(store),
		Bus:      bus.NewPublisher(conn, logger, metrics),
		State:    stateStore,
		Identity: identity.NewClient(identityEndpoint, identityKey, requestTimeout),
		Logger:   logger,
		Timeout:  requestTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout + 5*time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(ctx)
	}()

	logger.Info("server listening", slog.String("port", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := <-shutdownErr; err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := conn.Drain(); err != nil {
		logger.Error("nats drain error", slog.String("error", err.Error()))
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
