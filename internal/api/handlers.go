// Package api implements the HTTP endpoints of the metrics pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"greenservers-backend/internal/bus"
	"greenservers-backend/internal/identity"
	"greenservers-backend/internal/state"
	"greenservers-backend/internal/storage"
)

// Repository is the slice of the durable store the handlers use.
type Repository interface {
	GetServer(ctx context.Context, userID, hostname string) (storage.ServerRecord, error)
	GetServerByID(ctx context.Context, id string) (storage.ServerRecord, error)
	ListServers(ctx context.Context, userID string) ([]storage.ServerRecord, error)
	InsertMetric(ctx context.Context, sample storage.MetricSample) error
	LatestMetrics(ctx context.Context, serverID string, limit int) ([]storage.MetricSample, error)
	UpsertThresholds(ctx context.Context, rec storage.ThresholdRecord) error
	GetThresholds(ctx context.Context, userID string) (storage.ThresholdRecord, error)
}

// EventPublisher publishes validated events to the bus.
type EventPublisher interface {
	Publish(topic bus.Topic, payload any) error
}

type Handler struct {
	Repo     Repository
	Bus      EventPublisher
	State    state.Store
	Identity identity.Provider
	Logger   *slog.Logger
	Timeout  time.Duration
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/push_metrics", h.handlePushMetrics)
	r.Post("/watcher-login", h.handleWatcherLogin)
	r.Post("/set-threshold", h.handleSetThreshold)
	r.Get("/get-thresholds", h.handleGetThresholds)
	r.Post("/login", h.handleLogin)
	r.Post("/register", h.handleRegister)
	r.Get("/list-servers", h.handleListServers)
	r.Get("/fetch_metrics/{serverId}", h.handleFetchMetrics)
}

type pushMetricsRequest struct {
	Hostname string   `json:"hostname"`
	CPU      *float64 `json:"cpu"`
	Memory   *float64 `json:"memory"`
	Disk     *float64 `json:"disk"`
	Uptime   *float64 `json:"uptime"`
}

func (r pushMetricsRequest) valid() bool {
	if len(r.Hostname) < 3 {
		return false
	}
	for _, v := range []*float64{r.CPU, r.Memory, r.Disk, r.Uptime} {
		if v == nil {
			return false
		}
	}
	return true
}

// handlePushMetrics accepts one sample from an authenticated watcher. Each
// step is a hard precondition for the next; the metric.pushed event is only
// published once the sample row is durable.
func (h *Handler) handlePushMetrics(w http.ResponseWriter, r *http.Request) {
	var req pushMetricsRequest
	if err := decodeJSON(r, &req); err != nil || !req.valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid input"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	token, sess, ok := h.currentSession(ctx, r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	server, err := h.Repo.GetServer(ctx, sess.UserID, req.Hostname)
	if err != nil {
		h.Logger.Error("server not found for user",
			slog.String("userId", sess.UserID),
			slog.String("hostname", req.Hostname))
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Server not found"})
		return
	}

	sample := storage.MetricSample{
		ServerID: server.ID,
		CPU:      *req.CPU,
		Memory:   *req.Memory,
		Disk:     *req.Disk,
		Uptime:   *req.Uptime,
	}
	if err := h.Repo.InsertMetric(ctx, sample); err != nil {
		h.Logger.Error("error inserting metrics", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to store metrics"})
		return
	}

	h.Logger.Info("metrics pushed",
		slog.Float64("cpu", sample.CPU),
		slog.Float64("memory", sample.Memory),
		slog.Float64("disk", sample.Disk),
		slog.Float64("uptime", sample.Uptime))

	if err := h.Bus.Publish(bus.TopicMetricPushed, bus.MetricPushedEvent{
		UserID:        sess.UserID,
		Hostname:      req.Hostname,
		AuthToken:     token,
		CurrentCPU:    sample.CPU,
		CurrentMemory: sample.Memory,
		CurrentDisk:   sample.Disk,
	}); err != nil {
		// The sample is durable; a lost event only skips this evaluation.
		h.Logger.Error("failed to publish metric.pushed", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Metrics received"})
}

type watcherLoginRequest struct {
	Email    string `json:"email"`
	Hostname string `json:"hostname"`
	Password string `json:"password"`
}

// handleWatcherLogin authenticates a watcher and publishes the login attempt
// for the registrar. Hostname uniqueness is deliberately left to the
// consumer.
func (h *Handler) handleWatcherLogin(w http.ResponseWriter, r *http.Request) {
	var req watcherLoginRequest
	if err := decodeJSON(r, &req); err != nil || !validEmail(req.Email) || len(req.Hostname) < 3 || len(req.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid input"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	token, user, ok := h.authenticate(ctx, w, req.Email, req.Password)
	if !ok {
		return
	}

	if err := state.SetSession(ctx, h.State, token, state.Session{
		UserID:     user.ID,
		Email:      user.Email,
		Attributes: user.Metadata,
	}); err != nil {
		h.Logger.Error("failed to cache session", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Login failed"})
		return
	}

	if err := h.Bus.Publish(bus.TopicWatcherLoginAttempt, bus.WatcherLoginAttemptEvent{
		UserID:    user.ID,
		Hostname:  req.Hostname,
		Success:   true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		h.Logger.Error("failed to publish watcher.login.attempt", slog.String("error", err.Error()))
	}

	h.Logger.Info("watcher login successful", slog.String("email", req.Email))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Login successful", "token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || !validEmail(req.Email) || len(req.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid input"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	token, user, ok := h.authenticate(ctx, w, req.Email, req.Password)
	if !ok {
		return
	}

	if err := state.SetSession(ctx, h.State, token, state.Session{
		UserID:     user.ID,
		Email:      user.Email,
		Attributes: user.Metadata,
	}); err != nil {
		h.Logger.Error("failed to cache session", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Login failed"})
		return
	}

	h.Logger.Info("user logged in successfully", slog.String("email", user.Email))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Login successful", "token": token})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Email) < 3 || len(req.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid input"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	userID, err := h.Identity.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		h.Logger.Error("user registration failed",
			slog.String("email", req.Email),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Registration failed"})
		return
	}

	h.Logger.Info("user registered", slog.String("userId", userID))
	writeJSON(w, http.StatusOK, map[string]any{"message": "User registered successfully", "userId": userID})
}

type setThresholdRequest struct {
	CPUThreshold    *float64 `json:"cpuThreshold"`
	MemoryThreshold *float64 `json:"memoryThreshold"`
	DiskThreshold   *float64 `json:"diskThreshold"`
}

// handleSetThreshold upserts the durable threshold record, then refreshes
// the cached copy. A failed cache write is logged and accepted; the two
// copies reconverge on the next successful call.
func (h *Handler) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req setThresholdRequest
	if err := decodeJSON(r, &req); err != nil || !validThreshold(req.CPUThreshold) || !validThreshold(req.MemoryThreshold) || !validThreshold(req.DiskThreshold) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid input"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	_, sess, ok := h.currentSession(ctx, r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	rec := storage.ThresholdRecord{
		UserID: sess.UserID,
		CPU:    *req.CPUThreshold,
		Memory: *req.MemoryThreshold,
		Disk:   *req.DiskThreshold,
	}
	if err := h.Repo.UpsertThresholds(ctx, rec); err != nil {
		h.Logger.Error("error upserting thresholds for user",
			slog.String("userId", sess.UserID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to set thresholds"})
		return
	}

	if err := state.SetThresholds(ctx, h.State, sess.UserID, state.Thresholds{
		CPU:    rec.CPU,
		Memory: rec.Memory,
		Disk:   rec.Disk,
	}); err != nil {
		h.Logger.Error("failed to cache thresholds",
			slog.String("userId", sess.UserID),
			slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Thresholds set successfully"})
}

// handleGetThresholds reads from the durable record, not the cache; the
// durable store is the source of truth after a partial set-threshold.
func (h *Handler) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	_, sess, ok := h.currentSession(ctx, r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	rec, err := h.Repo.GetThresholds(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Thresholds not set"})
			return
		}
		h.Logger.Error("error fetching thresholds for user",
			slog.String("userId", sess.UserID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch thresholds"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cpuThreshold":    rec.CPU,
		"memoryThreshold": rec.Memory,
		"diskThreshold":   rec.Disk,
	})
}

type serverResponse struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
}

func (h *Handler) handleListServers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	_, sess, ok := h.currentSession(ctx, r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	servers, err := h.Repo.ListServers(ctx, sess.UserID)
	if err != nil {
		h.Logger.Error("error fetching servers for user",
			slog.String("userId", sess.UserID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch servers"})
		return
	}

	responses := make([]serverResponse, 0, len(servers))
	for _, server := range servers {
		responses = append(responses, serverResponse{ID: server.ID, Hostname: server.Hostname})
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": responses})
}

type metricResponse struct {
	ID        int64   `json:"id"`
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
	Disk      float64 `json:"disk"`
	Uptime    float64 `json:"uptime"`
	Timestamp string  `json:"timestamp"`
}

func (h *Handler) handleFetchMetrics(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	_, sess, ok := h.currentSession(ctx, r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	server, err := h.Repo.GetServerByID(ctx, serverID)
	if err != nil || server.UserID != sess.UserID {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Server not found"})
		return
	}

	samples, err := h.Repo.LatestMetrics(ctx, server.ID, 50)
	if err != nil {
		h.Logger.Error("error fetching metrics for server",
			slog.String("serverId", server.ID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch metrics"})
		return
	}

	responses := make([]metricResponse, 0, len(samples))
	for _, sample := range samples {
		responses = append(responses, metricResponse{
			ID:        sample.ID,
			CPU:       sample.CPU,
			Memory:    sample.Memory,
			Disk:      sample.Disk,
			Uptime:    sample.Uptime,
			Timestamp: sample.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": responses})
}

// authenticate signs the credentials in at the identity provider and
// resolves the profile behind the issued token. It writes the error
// response itself so callers can just bail out.
func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, email, password string) (string, identity.User, bool) {
	token, err := h.Identity.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.Logger.Warn("login failed", slog.String("email", email))
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
		} else {
			h.Logger.Error("identity provider error", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Login failed"})
		}
		return "", identity.User{}, false
	}

	user, err := h.Identity.User(ctx, token)
	if err != nil {
		h.Logger.Error("bearer token invalid", slog.String("error", err.Error()))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
		return "", identity.User{}, false
	}

	return token, user, true
}

// currentSession resolves the bearer token to a cached session.
func (h *Handler) currentSession(ctx context.Context, r *http.Request) (string, state.Session, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return "", state.Session{}, false
	}
	sess, err := state.GetSession(ctx, h.State, token)
	if err != nil {
		return "", state.Session{}, false
	}
	return token, sess, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

func validThreshold(value *float64) bool {
	return value != nil && *value >= 0 && *value <= 100
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
