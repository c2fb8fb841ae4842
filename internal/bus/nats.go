// Package bus is the publish/subscribe fabric decoupling ingestion from
// alerting. Payloads are validated against the topic's schema at the publish
// boundary; validation failures are dropped and logged, never surfaced to
// the HTTP caller. Handlers run on a bounded worker pool, decoupled from the
// publisher's control flow.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"greenservers-backend/internal/metric"
)

const handlerTimeout = 30 * time.Second

// Publisher publishes validated events to NATS.
type Publisher struct {
	Conn    *nats.Conn
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewPublisher wraps an established NATS connection. The caller owns the
// connection; the same one can back the key-value state store.
func NewPublisher(conn *nats.Conn, logger *slog.Logger, metrics *metric.Metrics) *Publisher {
	return &Publisher{Conn: conn, Logger: logger, Metrics: metrics}
}

// Publish validates the payload against the topic schema and hands it to
// NATS. A payload that fails validation is dropped and logged; nil is
// returned so producers never fail a request on a schema mismatch. Transport
// errors are returned for the caller to log, not to propagate.
func (p *Publisher) Publish(topic Topic, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	if err := ValidatePayload(topic, data); err != nil {
		p.Logger.Error("dropping event failing schema validation",
			slog.String("topic", string(topic)),
			slog.String("error", err.Error()))
		p.Metrics.EventsDropped.WithLabelValues(string(topic), "validation").Inc()
		return nil
	}
	if err := p.Conn.Publish(string(topic), data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.Metrics.EventsPublished.WithLabelValues(string(topic)).Inc()
	return nil
}

type dispatch struct {
	topic   Topic
	handler string
	run     func(ctx context.Context)
}

// Subscriber delivers each published event to every registered handler.
// Handler invocations are queued onto a fixed pool of workers so they run
// concurrently with each other and with incoming requests; a panicking
// handler is recovered and logged without affecting other handlers.
type Subscriber struct {
	Conn    *nats.Conn
	Logger  *slog.Logger
	Metrics *metric.Metrics

	queue  chan dispatch
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewSubscriber wraps an established NATS connection. The caller owns the
// connection and closes it after Close returns.
func NewSubscriber(conn *nats.Conn, logger *slog.Logger, metrics *metric.Metrics, workers int) *Subscriber {
	return newSubscriber(conn, logger, metrics, workers)
}

func newSubscriber(conn *nats.Conn, logger *slog.Logger, metrics *metric.Metrics, workers int) *Subscriber {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		Conn:    conn,
		Logger:  logger,
		Metrics: metrics,
		queue:   make(chan dispatch, 128),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Subscriber) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case d := <-s.queue:
			s.invoke(d)
		}
	}
}

func (s *Subscriber) invoke(d dispatch) {
	ctx, cancel := context.WithTimeout(s.ctx, handlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("event handler panicked",
				slog.String("topic", string(d.topic)),
				slog.String("handler", d.handler),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			s.Metrics.HandlerFailures.WithLabelValues(string(d.topic), d.handler).Inc()
		}
	}()
	d.run(ctx)
}

// deliver is the consume boundary: the payload is re-validated here so
// handlers only ever see schema-conforming data, then the invocation is
// queued onto the worker pool.
func (s *Subscriber) deliver(topic Topic, handler string, data []byte, fn func(ctx context.Context, data []byte)) {
	if err := ValidatePayload(topic, data); err != nil {
		s.Logger.Error("dropping event failing schema validation",
			slog.String("topic", string(topic)),
			slog.String("handler", handler),
			slog.String("error", err.Error()))
		s.Metrics.EventsDropped.WithLabelValues(string(topic), "validation").Inc()
		return
	}
	select {
	case s.queue <- dispatch{topic: topic, handler: handler, run: func(ctx context.Context) { fn(ctx, data) }}:
	case <-s.ctx.Done():
	}
}

// subscribe registers a raw handler for a topic.
func (s *Subscriber) subscribe(topic Topic, handler string, fn func(ctx context.Context, data []byte)) error {
	sub, err := s.Conn.Subscribe(string(topic), func(msg *nats.Msg) {
		s.deliver(topic, handler, msg.Data, fn)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return nil
}

// SubscribeMetricPushed registers a typed handler for metric.pushed.
func (s *Subscriber) SubscribeMetricPushed(handler string, fn func(ctx context.Context, evt MetricPushedEvent)) error {
	return s.subscribe(TopicMetricPushed, handler, func(ctx context.Context, data []byte) {
		var evt MetricPushedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.Metrics.EventsDropped.WithLabelValues(string(TopicMetricPushed), "decode").Inc()
			return
		}
		fn(ctx, evt)
	})
}

// SubscribeWatcherLoginAttempt registers a typed handler for
// watcher.login.attempt.
func (s *Subscriber) SubscribeWatcherLoginAttempt(handler string, fn func(ctx context.Context, evt WatcherLoginAttemptEvent)) error {
	return s.subscribe(TopicWatcherLoginAttempt, handler, func(ctx context.Context, data []byte) {
		var evt WatcherLoginAttemptEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.Metrics.EventsDropped.WithLabelValues(string(TopicWatcherLoginAttempt), "decode").Inc()
			return
		}
		fn(ctx, evt)
	})
}
