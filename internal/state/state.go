// Package state provides the namespaced key-value store backing sessions
// and cached alert thresholds. Keys are unique within a namespace, writes
// are last-write-wins and no TTL is layered on top.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Namespaces used by the pipeline.
const (
	NamespaceUser       = "user"       // session records keyed by bearer token
	NamespaceThresholds = "thresholds" // threshold records keyed by user ID
)

var ErrNotFound = errors.New("state: key not found")

// Store is the namespaced key-value contract shared by the API handlers and
// the event consumers.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// Session binds an opaque provider-issued bearer token to a user identity.
type Session struct {
	UserID     string         `json:"userId"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"userMetadata,omitempty"`
}

// Thresholds is the cached copy of a user's alert thresholds. The durable
// copy in Postgres is authoritative for reads outside the evaluator; the two
// can diverge if one of the writes fails.
type Thresholds struct {
	CPU    float64 `json:"cpuThreshold"`
	Memory float64 `json:"memoryThreshold"`
	Disk   float64 `json:"diskThreshold"`
}

// GetSession loads the session cached under the given bearer token.
func GetSession(ctx context.Context, store Store, token string) (Session, error) {
	data, err := store.Get(ctx, NamespaceUser, token)
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// SetSession caches a session under its bearer token.
func SetSession(ctx context.Context, store Store, token string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return store.Set(ctx, NamespaceUser, token, data)
}

// GetThresholds loads the cached thresholds for a user.
func GetThresholds(ctx context.Context, store Store, userID string) (Thresholds, error) {
	data, err := store.Get(ctx, NamespaceThresholds, userID)
	if err != nil {
		return Thresholds{}, err
	}
	var th Thresholds
	if err := json.Unmarshal(data, &th); err != nil {
		return Thresholds{}, fmt.Errorf("decode thresholds: %w", err)
	}
	return th, nil
}

// SetThresholds caches a user's thresholds.
func SetThresholds(ctx context.Context, store Store, userID string, th Thresholds) error {
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	return store.Set(ctx, NamespaceThresholds, userID, data)
}
