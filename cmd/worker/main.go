// The worker binary consumes bus events: the threshold evaluator turns
// breaching metric.pushed samples into alert emails, and the registrar turns
// watcher.login.attempt events into server records. A small admin server
// exposes health and Prometheus metrics.
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

	"github.com/nats-io/nats.go"

	"greenservers-backend/internal/alert"
	"greenservers-backend/internal/bus"
	"greenservers-backend/internal/mailer"
	"greenservers-backend/internal/metric"
	"greenservers-backend/internal/registrar"
	"greenservers-backend/internal/state"
	"greenservers-backend/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	dsn := getenv("DATABASE_URL", "")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	natsURL := getenv("NATS_URL", nats.DefaultURL)
	bucketPrefix := getenv("STATE_BUCKET_PREFIX", "greenservers")
	workers := getenvInt("BUS_WORKERS", 4)
	cooldown := time.Duration(getenvInt("ALERT_COOLDOWN_SECONDS", 0)) * time.Second
	adminPort := getenv("ADMIN_PORT", "9090")

	mailCfg, err := loadMailerConfig()
	if err != nil {
		logger.Error("failed to load mailer config", slog.String("error", err.Error()))
		os.Exit(1)
	}

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

	dispatcher := &alert.Dispatcher{
		Mailer:  mailer.NewClient(mailCfg),
		Logger:  logger,
		Metrics: metrics,
	}
	evaluator := alert.NewEvaluator(stateStore, dispatcher, logger, cooldown)
	reg := &registrar.Registrar{Repo: storage.NewRepository(store), Logger: logger}

	sub := bus.NewSubscriber(conn, logger, metrics, workers)
	if err := sub.SubscribeMetricPushed("evaluator", evaluator.HandleMetricPushed); err != nil {
		logger.Error("failed to subscribe", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := sub.SubscribeWatcherLoginAttempt("registrar", reg.HandleWatcherLogin); err != nil {
		logger.Error("failed to subscribe", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metricsHandler)
	admin := &http.Server{
		Addr:              ":" + adminPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", slog.String("error", err.Error()))
		}
	}()

	logger.Info("worker running",
		slog.Int("workers", workers),
		slog.Duration("cooldown", cooldown))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)

	sub.Close()
	if err := conn.Drain(); err != nil {
		logger.Error("nats drain error", slog.String("error", err.Error()))
	}
}

// loadMailerConfig reads MAILER_CONFIG_PATH when set, otherwise assembles
// the config from MAILER_* env vars.
func loadMailerConfig() (mailer.Config, error) {
	if path := os.Getenv("MAILER_CONFIG_PATH"); path != "" {
		return mailer.LoadConfig(path)
	}
	cfg := mailer.Config{
		Endpoint:       getenv("MAILER_ENDPOINT", "https://api.resend.com"),
		APIKey:         getenv("MAILER_API_KEY", ""),
		From:           getenv("MAILER_FROM", ""),
		TimeoutSeconds: getenvInt("MAILER_TIMEOUT_SECONDS", 10),
	}
	if cfg.From == "" {
		return mailer.Config{}, errors.New("MAILER_FROM is required")
	}
	return cfg, nil
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
