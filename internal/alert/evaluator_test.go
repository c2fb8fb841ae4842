package alert

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenservers-backend/internal/bus"
	"greenservers-backend/internal/state"
)

type recordingSender struct {
	sent []struct {
		To    string
		Alert Alert
	}
}

func (r *recordingSender) Send(_ context.Context, to string, alert Alert) {
	r.sent = append(r.sent, struct {
		To    string
		Alert Alert
	}{to, alert})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func setupEvaluator(t *testing.T, cooldown time.Duration) (*Evaluator, *recordingSender, state.Store) {
	t.Helper()
	store := state.NewMemory()
	sender := &recordingSender{}
	eval := NewEvaluator(store, sender, discardLogger(), cooldown)
	return eval, sender, store
}

func seedUser(t *testing.T, store state.Store, token, userID, email string, th state.Thresholds) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, state.SetSession(ctx, store, token, state.Session{UserID: userID, Email: email}))
	require.NoError(t, state.SetThresholds(ctx, store, userID, th))
}

func metricEvent(cpu, memory, disk float64) bus.MetricPushedEvent {
	return bus.MetricPushedEvent{
		UserID:        "u1",
		Hostname:      "web-1",
		AuthToken:     "tok-1",
		CurrentCPU:    cpu,
		CurrentMemory: memory,
		CurrentDisk:   disk,
	}
}

func TestEvaluatorDispatchesOnCPUBreach(t *testing.T) {
	eval, sender, store := setupEvaluator(t, 0)
	seedUser(t, store, "tok-1", "u1", "owner@example.com", state.Thresholds{CPU: 80, Memory: 80, Disk: 90})

	eval.HandleMetricPushed(context.Background(), metricEvent(85, 50, 50))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "owner@example.com", sender.sent[0].To)
	assert.Equal(t, Alert{Hostname: "web-1", CPU: 85, Memory: 50, Disk: 50}, sender.sent[0].Alert)
}

func TestEvaluatorEqualityNeverFires(t *testing.T) {
	eval, sender, store := setupEvaluator(t, 0)
	seedUser(t, store, "tok-1", "u1", "owner@example.com", state.Thresholds{CPU: 80, Memory: 80, Disk: 90})

	eval.HandleMetricPushed(context.Background(), metricEvent(80, 80, 90))

	assert.Empty(t, sender.sent)
}

func TestEvaluatorSingleEmailForMultipleBreaches(t *testing.T) {
	eval, sender, store := setupEvaluator(t, 0)
	seedUser(t, store, "tok-1", "u1", "owner@example.com", state.Thresholds{CPU: 50, Memory: 50, Disk: 50})

	eval.HandleMetricPushed(context.Background(), metricEvent(90, 90, 90))

	assert.Len(t, sender.sent, 1)
}

func TestEvaluatorMissingThresholdsDiscards(t *testing.T) {
	eval, sender, store := setupEvaluator(t, 0)
	ctx := context.Background()
	require.NoError(t, state.SetSession(ctx, store, "tok-1", state.Session{UserID: "u1", Email: "owner@example.com"}))

	eval.HandleMetricPushed(ctx, metricEvent(99, 99, 99))

	assert.Empty(t, sender.sent)
}

func TestEvaluatorMissingSessionDiscards(t *testing.T) {
	eval, sender, store := setupEvaluator(t, 0)
	ctx := context.Background()
	require.NoError(t, state.SetThresholds(ctx, store, "u1", state.Thresholds{CPU: 80, Memory: 80, Disk: 90}))

	eval.HandleMetricPushed(ctx, metricEvent(99, 99, 99))

	assert.Empty(t, sender.sent)
}

func TestEvaluatorNoCooldownRealertsEverySample(t *testing.T) {
	eval, sender, store := setupEvaluator(t, 0)
	seedUser(t, store, "tok-1", "u1", "owner@example.com", state.Thresholds{CPU: 80, Memory: 80, Disk: 90})

	eval.HandleMetricPushed(context.Background(), metricEvent(85, 50, 50))
	eval.HandleMetricPushed(context.Background(), metricEvent(86, 50, 50))

	assert.Len(t, sender.sent, 2)
}

func TestEvaluatorCooldownSuppressesRepeats(t *testing.T) {
	eval, sender, store := setupEvaluator(t, time.Minute)
	seedUser(t, store, "tok-1", "u1", "owner@example.com", state.Thresholds{CPU: 80, Memory: 80, Disk: 90})

	current := time.Now()
	eval.now = func() time.Time { return current }

	eval.HandleMetricPushed(context.Background(), metricEvent(85, 50, 50))
	eval.HandleMetricPushed(context.Background(), metricEvent(90, 50, 50))
	require.Len(t, sender.sent, 1)

	current = current.Add(2 * time.Minute)
	eval.HandleMetricPushed(context.Background(), metricEvent(90, 50, 50))
	assert.Len(t, sender.sent, 2)
}

func TestBreached(t *testing.T) {
	th := state.Thresholds{CPU: 80, Memory: 80, Disk: 90}
	cases := []struct {
		name             string
		cpu, memory, disk float64
		want             bool
	}{
		{"all below", 50, 50, 50, false},
		{"all equal", 80, 80, 90, false},
		{"cpu above", 80.1, 50, 50, true},
		{"memory above", 50, 81, 50, true},
		{"disk above", 50, 50, 90.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Breached(th, tc.cpu, tc.memory, tc.disk))
		})
	}
}
