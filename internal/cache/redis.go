// Package cache shares ingest state between service instances through Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aboutPJS/price-api/internal/config"
)

// IngestEvent is broadcast after every ingest cycle.
type IngestEvent struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Records    int       `json:"records"`
	FinishedAt time.Time `json:"finished_at"`
	Earliest   time.Time `json:"earliest,omitempty"`
	Latest     time.Time `json:"latest,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewClient opens a Redis client and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisTracker stores the last successful ingest and publishes ingest events.
type RedisTracker struct {
	rdb     *redis.Client
	logger  zerolog.Logger
	keyLast string
	channel string
}

// NewRedisTracker wraps an open client.
func NewRedisTracker(rdb *redis.Client, prefix, channel string, logger zerolog.Logger) *RedisTracker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "priceapi"
	}
	if strings.TrimSpace(channel) == "" {
		channel = prefix + ":ingest"
	}
	return &RedisTracker{
		rdb:     rdb,
		logger:  logger.With().Str("component", "redis_tracker").Logger(),
		keyLast: prefix + ":last_ingest",
		channel: channel,
	}
}

func (t *RedisTracker) Close() error { return t.rdb.Close() }

// Publish records a successful ingest timestamp and fans the event out.
func (t *RedisTracker) Publish(ctx context.Context, ev IngestEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	pipe := t.rdb.TxPipeline()
	if ev.Status == "success" {
		pipe.Set(ctx, t.keyLast, ev.FinishedAt.UTC().Format(time.RFC3339Nano), 0)
	}
	pipe.Publish(ctx, t.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish ingest event: %w", err)
	}
	return nil
}

// LastIngest returns the last successful ingest, zero when none is known.
func (t *RedisTracker) LastIngest(ctx context.Context) (time.Time, error) {
	raw, err := t.rdb.Get(ctx, t.keyLast).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last ingest: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last ingest: %w", err)
	}
	return ts.UTC(), nil
}

// Subscribe streams events published by any instance until ctx ends.
func (t *RedisTracker) Subscribe(ctx context.Context) <-chan IngestEvent {
	out := make(chan IngestEvent, 16)
	sub := t.rdb.Subscribe(ctx, t.channel)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					t.logger.Warn().Err(err).Msg("dropping malformed ingest event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func encodeEvent(ev IngestEvent) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode ingest event: %w", err)
	}
	return string(b), nil
}

func decodeEvent(payload string) (IngestEvent, error) {
	var ev IngestEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return IngestEvent{}, fmt.Errorf("decode ingest event: %w", err)
	}
	return ev, nil
}
