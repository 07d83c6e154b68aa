package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// Sink receives audit events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	s.logger.InfoContext(ctx, "AUDIT",
		"event_type", event.Kind,
		"transaction_id", event.TransactionID,
		"account", event.Account,
		"status", event.Status,
		"event", string(data),
	)
	return nil
}

// RedisSink pushes events onto a Redis list for downstream consumers.
type RedisSink struct {
	redis *redis.Client
	queue string
}

func NewRedisSink(redis *redis.Client, queue string) *RedisSink {
	return &RedisSink{redis: redis, queue: queue}
}

func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.redis.RPush(ctx, s.queue, data).Err()
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
