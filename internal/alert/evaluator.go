package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"greenservers-backend/internal/bus"
	"greenservers-backend/internal/state"
)

// Evaluator consumes metric.pushed events and compares each sample against
// the owning user's thresholds. A user with no threshold record receives no
// alerts; a sample that cannot be tied to a cached session is discarded
// because there is no address to mail.
type Evaluator struct {
	State    state.Store
	Alerts   Sender
	Logger   *slog.Logger
	Cooldown time.Duration // 0 means alert on every breaching sample

	mu        sync.Mutex
	lastAlert map[string]time.Time
	now       func() time.Time
}

func NewEvaluator(store state.Store, alerts Sender, logger *slog.Logger, cooldown time.Duration) *Evaluator {
	return &Evaluator{
		State:     store,
		Alerts:    alerts,
		Logger:    logger,
		Cooldown:  cooldown,
		lastAlert: map[string]time.Time{},
		now:       time.Now,
	}
}

// HandleMetricPushed evaluates one sample. Failures here are terminal for
// the event: the bus does not retry and the HTTP caller already got its 200.
func (e *Evaluator) HandleMetricPushed(ctx context.Context, evt bus.MetricPushedEvent) {
	thresholds, err := state.GetThresholds(ctx, e.State, evt.UserID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			e.Logger.Warn("no thresholds set for user", slog.String("userId", evt.UserID))
		} else {
			e.Logger.Error("failed to load thresholds",
				slog.String("userId", evt.UserID),
				slog.String("error", err.Error()))
		}
		return
	}

	session, err := state.GetSession(ctx, e.State, evt.AuthToken)
	if err != nil {
		e.Logger.Error("user session not found for metric event",
			slog.String("userId", evt.UserID),
			slog.String("error", err.Error()))
		return
	}

	if !Breached(thresholds, evt.CurrentCPU, evt.CurrentMemory, evt.CurrentDisk) {
		return
	}

	if e.withinCooldown(evt.UserID, evt.Hostname) {
		e.Logger.Info("suppressing repeat alert within cooldown",
			slog.String("userId", evt.UserID),
			slog.String("hostname", evt.Hostname))
		return
	}

	e.Alerts.Send(ctx, session.Email, Alert{
		Hostname: evt.Hostname,
		CPU:      evt.CurrentCPU,
		Memory:   evt.CurrentMemory,
		Disk:     evt.CurrentDisk,
	})
	e.recordAlert(evt.UserID, evt.Hostname)
}

// Breached reports whether any metric strictly exceeds its threshold.
// Equality never fires.
func Breached(th state.Thresholds, cpu, memory, disk float64) bool {
	return cpu > th.CPU || memory > th.Memory || disk > th.Disk
}

func (e *Evaluator) withinCooldown(userID, hostname string) bool {
	if e.Cooldown <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastAlert[userID+"/"+hostname]
	return ok && e.now().Sub(last) < e.Cooldown
}

func (e *Evaluator) recordAlert(userID, hostname string) {
	if e.Cooldown <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAlert[userID+"/"+hostname] = e.now()
}
