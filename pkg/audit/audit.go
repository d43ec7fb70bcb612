// Package audit keeps a capped per-identity log of verification attempts
// in Redis.
package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Attempt is one recorded verification outcome.
type Attempt struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Identity  string    `json:"identity"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason"`
	Distance  float64   `json:"distance,omitempty"`
	At        time.Time `json:"at"`
	Evidence  []byte    `json:"evidence,omitempty"`
}

// NewAttempt creates an attempt stamped with a fresh ID and the current time.
func NewAttempt(sessionID, identity, outcome, reason string) Attempt {
	return Attempt{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Identity:  identity,
		Outcome:   outcome,
		Reason:    reason,
		At:        time.Now().UTC(),
	}
}

// Recorder stores attempts.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// Discard drops every attempt.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(ctx context.Context, a Attempt) error { return nil }

// ListClient is the part of the Redis client used by RedisRecorder.
type ListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient connects to the configured Redis server.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       cfg.DB,
	})
}

// FromConfig returns a Redis recorder when the attempt log is enabled and
// Discard otherwise. The close function releases the Redis connection.
func FromConfig(cfg *config.Config) (Recorder, func() error) {
	if !cfg.Audit.Enabled {
		return Discard{}, func() error { return nil }
	}
	client := NewRedisClient(cfg.Redis)
	return NewRedisRecorder(client, cfg.Audit), client.Close
}

// RedisRecorder keeps the newest attempts of each identity in a Redis list.
type RedisRecorder struct {
	client     ListClient
	keyPrefix  string
	maxEntries int
}

// NewRedisRecorder creates a recorder using the audit config section.
func NewRedisRecorder(client ListClient, cfg config.AuditConfig) *RedisRecorder {
	return &RedisRecorder{
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		maxEntries: cfg.MaxEntries,
	}
}

func (r *RedisRecorder) key(identity string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, identity)
}

// Record pushes a to the front of the identity's list and trims it.
func (r *RedisRecorder) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	key := r.key(a.Identity)
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if err := r.client.LTrim(ctx, key, 0, int64(r.maxEntries-1)).Err(); err != nil {
		return fmt.Errorf("failed to trim attempt log: %w", err)
	}

	logging.WithFields(logging.Fields{
		"component":  "audit",
		"attempt_id": a.ID,
		"identity":   a.Identity,
		"outcome":    a.Outcome,
	}).Debug("Attempt recorded")
	return nil
}

// List returns up to limit attempts of identity, newest first. A limit of
// zero or less returns the whole log.
func (r *RedisRecorder) List(ctx context.Context, identity string, limit int) ([]Attempt, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	raw, err := r.client.LRange(ctx, r.key(identity), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read attempt log: %w", err)
	}

	attempts := make([]Attempt, 0, len(raw))
	for _, item := range raw {
		var a Attempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			logging.WithError(err).Warn("Skipping malformed attempt record")
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// Clear deletes the attempt log of identity.
func (r *RedisRecorder) Clear(ctx context.Context, identity string) error {
	if err := r.client.Del(ctx, r.key(identity)).Err(); err != nil {
		return fmt.Errorf("failed to clear attempt log: %w", err)
	}
	return nil
}
