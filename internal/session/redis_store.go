// Package session keeps snapshots of live review sessions in Redis so a
// restarted process can pick them back up.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"redline/api/internal/review"
)

var ErrNotFound = errors.New("review session not found or expired")

// Record is what gets stored for each review session.
type Record struct {
	ReviewID string `json:"review_id"`
	UserID   string `json:"user_id"`
	// AnalysisKey is the id the current analysis is stored under in
	// PostgreSQL; it differs from the analysis id for local-only analyses.
	AnalysisKey string          `json:"analysis_key,omitempty"`
	Snapshot    review.Snapshot `json:"snapshot"`
	SavedAt     time.Time       `json:"saved_at"`
}

// RedisStore stores review session snapshots under review:<id> with a TTL
// that is refreshed on every save.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "review:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(reviewID string) string {
	return s.prefix + reviewID
}

func (s *RedisStore) Save(ctx context.Context, record Record) error {
	if record.SavedAt.IsZero() {
		record.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal review session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(record.ReviewID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save review session: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, reviewID string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(reviewID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load review session: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("unmarshal review session: %w", err)
	}
	return record, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *RedisStore) Delete(ctx context.Context, reviewID string) error {
	if err := s.client.Del(ctx, s.key(reviewID)).Err(); err != nil {
		return fmt.Errorf("delete review session: %w", err)
	}
	return nil
}

// IDs lists the ids of every stored session.
func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan review sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
