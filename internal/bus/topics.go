package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Topic is a named event category. Producers publish to it, consumers
// subscribe to it. Both topics are internal-only and never exposed over
// the wire.
type Topic string

const (
	// TopicMetricPushed carries a freshly persisted metric sample.
	TopicMetricPushed Topic = "metric.pushed"
	// TopicWatcherLoginAttempt carries a successful watcher login.
	TopicWatcherLoginAttempt Topic = "watcher.login.attempt"
)

// MetricPushedEvent exists only on the bus between publish and consumption.
// It is published strictly after the corresponding sample row is durable.
type MetricPushedEvent struct {
	UserID        string  `json:"userId"`
	Hostname      string  `json:"hostname"`
	AuthToken     string  `json:"authToken"`
	CurrentCPU    float64 `json:"currentCpu"`
	CurrentMemory float64 `json:"currentMemory"`
	CurrentDisk   float64 `json:"currentDisk"`
}

func (e MetricPushedEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if len(e.Hostname) < 3 {
		return fmt.Errorf("hostname must be at least 3 characters")
	}
	if e.AuthToken == "" {
		return fmt.Errorf("authToken is required")
	}
	for name, value := range map[string]float64{
		"currentCpu":    e.CurrentCPU,
		"currentMemory": e.CurrentMemory,
		"currentDisk":   e.CurrentDisk,
	} {
		if value < 0 || value > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	return nil
}

// WatcherLoginAttemptEvent records a successful watcher login so the
// registrar can lazily create the server record.
type WatcherLoginAttemptEvent struct {
	UserID    string `json:"id"`
	Hostname  string `json:"hostname"`
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (e WatcherLoginAttemptEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("id is required")
	}
	if len(e.Hostname) < 3 {
		return fmt.Errorf("hostname must be at least 3 characters")
	}
	return nil
}

// ValidatePayload checks raw event data against the topic's declared schema.
// Unknown topics and unknown fields are rejected so malformed payloads never
// reach a handler.
func ValidatePayload(topic Topic, data []byte) error {
	switch topic {
	case TopicMetricPushed:
		var evt MetricPushedEvent
		if err := decodeStrict(data, &evt); err != nil {
			return err
		}
		return evt.Validate()
	case TopicWatcherLoginAttempt:
		var evt WatcherLoginAttemptEvent
		if err := decodeStrict(data, &evt); err != nil {
			return err
		}
		return evt.Validate()
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
