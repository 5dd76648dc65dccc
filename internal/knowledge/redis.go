package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/circuitbreaker"
	"github.com/colloquyhq/colloquy/internal/metrics"
)

// RedisConfig holds settings for the Redis knowledge backend
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RedisStore keeps each run's entries in a Redis list so sequential rounds
// can read everything written so far in insertion order.
type RedisStore struct {
	rdb *circuitbreaker.RedisWrapper
	ttl time.Duration
	log *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection before returning
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	wrapper := circuitbreaker.NewRedisWrapper(client, "knowledge-redis", logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapper.Ping(ctx).Err(); err != nil {
		wrapper.Close()
		return nil, fmt.Errorf("knowledge redis: ping %s: %w", cfg.Addr, err)
	}

	return &RedisStore{rdb: wrapper, ttl: cfg.TTL, log: logger.Named("knowledge.redis")}, nil
}

func runKey(runID string) string {
	return "colloquy:run:" + runID + ":entries"
}

// Write appends one entry to the run's list and refreshes its TTL
func (s *RedisStore) Write(ctx context.Context, entry Entry) error {
	start := time.Now()

	buf, err := json.Marshal(entry)
	if err != nil {
		metrics.RecordStoreOperation("redis", "write", "error", time.Since(start).Seconds())
		return fmt.Errorf("knowledge redis: encode entry: %w", err)
	}

	key := runKey(entry.RunID)
	if err := s.rdb.RPush(ctx, key, buf).Err(); err != nil {
		metrics.RecordStoreOperation("redis", "write", "error", time.Since(start).Seconds())
		return fmt.Errorf("knowledge redis: write: %w", err)
	}

	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
			s.log.Warn("Failed to refresh entry TTL", zap.String("key", key), zap.Error(err))
		}
	}

	metrics.RecordStoreOperation("redis", "write", "ok", time.Since(start).Seconds())
	return nil
}

// Query returns the run's entries in insertion order, narrowed by topic
func (s *RedisStore) Query(ctx context.Context, q QueryRequest) ([]Entry, error) {
	start := time.Now()

	raws, err := s.rdb.LRange(ctx, runKey(q.RunID), 0, -1).Result()
	if err != nil {
		metrics.RecordStoreOperation("redis", "query", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("knowledge redis: query: %w", err)
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			metrics.RecordStoreOperation("redis", "query", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("knowledge redis: decode entry: %w", err)
		}
		entries = append(entries, e)
	}

	entries = tailLimit(filterByTopic(entries, q.Topic), q.Limit)
	metrics.RecordStoreOperation("redis", "query", "ok", time.Since(start).Seconds())
	return entries, nil
}

// Ping checks Redis connectivity for health reporting
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
