package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// KV is a Store backed by NATS JetStream key-value buckets, one bucket per
// namespace. Buckets are created lazily on first use so the server and the
// worker can share them without a provisioning step.
type KV struct {
	js           jetstream.JetStream
	bucketPrefix string

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// NewKV creates a KV store on top of an established NATS connection.
// bucketPrefix is prepended to every namespace to keep bucket names scoped
// to this application.
func NewKV(conn *nats.Conn, bucketPrefix string) (*KV, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	return &KV{
		js:           js,
		bucketPrefix: bucketPrefix,
		buckets:      map[string]jetstream.KeyValue{},
	}, nil
}

func (k *KV) bucketName(namespace string) string {
	if k.bucketPrefix == "" {
		return namespace
	}
	return k.bucketPrefix + "_" + namespace
}

// bucket returns the KV bucket for a namespace, creating it if needed.
// Two processes can race on creation; the loser falls back to the bucket
// the winner created.
func (k *KV) bucket(ctx context.Context, namespace string) (jetstream.KeyValue, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if bucket, ok := k.buckets[namespace]; ok {
		return bucket, nil
	}

	name := k.bucketName(namespace)
	bucket, err := k.js.KeyValue(ctx, name)
	if err != nil {
		bucket, err = k.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name})
		if err != nil {
			if isAlreadyExists(err) {
				bucket, err = k.js.KeyValue(ctx, name)
			}
			if err != nil {
				return nil, fmt.Errorf("kv bucket %s: %w", name, err)
			}
		}
	}

	k.buckets[namespace] = bucket
	return bucket, nil
}

func (k *KV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	bucket, err := k.bucket(ctx, namespace)
	if err != nil {
		return nil, err
	}
	entry, err := bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s/%s: %w", namespace, key, err)
	}
	return entry.Value(), nil
}

func (k *KV) Set(ctx context.Context, namespace, key string, value []byte) error {
	bucket, err := k.bucket(ctx, namespace)
	if err != nil {
		return err
	}
	if _, err := bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, namespace, key string) error {
	bucket, err := k.bucket(ctx, namespace)
	if err != nil {
		return err
	}
	if err := bucket.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("kv delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
