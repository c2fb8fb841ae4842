package bus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePayloadMetricPushed(t *testing.T) {
	cases := []struct {
		name    string
		event   MetricPushedEvent
		wantErr bool
	}{
		{
			name:  "valid",
			event: MetricPushedEvent{UserID: "u1", Hostname: "web-1", AuthToken: "tok", CurrentCPU: 85, CurrentMemory: 50, CurrentDisk: 50},
		},
		{
			name:    "missing user",
			event:   MetricPushedEvent{Hostname: "web-1", AuthToken: "tok"},
			wantErr: true,
		},
		{
			name:    "short hostname",
			event:   MetricPushedEvent{UserID: "u1", Hostname: "ab", AuthToken: "tok"},
			wantErr: true,
		},
		{
			name:    "missing token",
			event:   MetricPushedEvent{UserID: "u1", Hostname: "web-1"},
			wantErr: true,
		},
		{
			name:    "cpu out of range",
			event:   MetricPushedEvent{UserID: "u1", Hostname: "web-1", AuthToken: "tok", CurrentCPU: 120},
			wantErr: true,
		},
		{
			name:    "negative disk",
			event:   MetricPushedEvent{UserID: "u1", Hostname: "web-1", AuthToken: "tok", CurrentDisk: -1},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			require.NoError(t, err)
			err = ValidatePayload(TopicMetricPushed, data)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePayloadWatcherLogin(t *testing.T) {
	valid, _ := json.Marshal(WatcherLoginAttemptEvent{UserID: "u1", Hostname: "web-1", Success: true, Timestamp: "2026-01-01T00:00:00Z"})
	assert.NoError(t, ValidatePayload(TopicWatcherLoginAttempt, valid))

	missingID, _ := json.Marshal(WatcherLoginAttemptEvent{Hostname: "web-1", Success: true})
	assert.Error(t, ValidatePayload(TopicWatcherLoginAttempt, missingID))
}

func TestValidatePayloadRejectsUnknownFields(t *testing.T) {
	assert.Error(t, ValidatePayload(TopicMetricPushed, []byte(`{"userId":"u1","hostname":"web-1","authToken":"t","bogus":1}`)))
}

func TestValidatePayloadRejectsMalformedJSON(t *testing.T) {
	assert.Error(t, ValidatePayload(TopicMetricPushed, []byte(`{not json`)))
}

func TestValidatePayloadUnknownTopic(t *testing.T) {
	assert.Error(t, ValidatePayload(Topic("metrics.unknown"), []byte(`{}`)))
}
