package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/logger"
)

// client is the part of the Redis API the cache needs
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ResultCache stores anonymized outputs in Redis so that re-running the
// same export with the same rule set is free. Any Redis failure degrades
// to a miss; callers just recompute.
type ResultCache struct {
	client client
	config Config
	logger *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a Redis backed result cache
func New(config Config, log *logger.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB != 0 {
		opts.DB = config.DB
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	rc := newResultCache(redis.NewClient(opts), config, log)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rc.client.Ping(ctx).Err(); err != nil {
		_ = rc.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rc.logger.Info("Result cache initialized",
		zap.String("redis_url", logger.MaskURL(config.RedisURL)),
		zap.Duration("ttl", config.TTL))

	return rc, nil
}

func newResultCache(c client, config Config, log *logger.Logger) *ResultCache {
	if log == nil {
		log = logger.NewNop()
	}
	return &ResultCache{
		client: c,
		config: config,
		logger: log.WithComponent("cache"),
	}
}

// Key derives the cache key of a run from its input bytes, the rule set
// fingerprint and any option that changes the output
func (rc *ResultCache) Key(input []byte, fingerprint string, variant ...string) string {
	hasher := sha256.New()
	hasher.Write(input)
	hasher.Write([]byte{0})
	hasher.Write([]byte(fingerprint))
	for _, v := range variant {
		hasher.Write([]byte{0})
		hasher.Write([]byte(v))
	}
	return rc.config.KeyPrefix + "result:" + hex.EncodeToString(hasher.Sum(nil))
}

// Get looks up a cached result
func (rc *ResultCache) Get(ctx context.Context, key string) (*Entry, bool) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		rc.misses.Add(1)
		rc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false
	}
	if err != nil {
		rc.errors.Add(1)
		rc.misses.Add(1)
		rc.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		rc.errors.Add(1)
		rc.misses.Add(1)
		rc.logger.Warn("Dropping corrupted cache entry", zap.String("key", key), zap.Error(err))
		rc.client.Del(ctx, key)
		return nil, false
	}

	rc.hits.Add(1)
	rc.logger.Debug("Cache hit", zap.String("key", key))
	return &entry, true
}

// Set stores a result with the configured TTL
func (rc *ResultCache) Set(ctx context.Context, key string, entry *Entry) error {
	entry.StoredAt = time.Now().UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := rc.client.Set(ctx, key, data, rc.config.TTL).Err(); err != nil {
		rc.errors.Add(1)
		return fmt.Errorf("failed to cache result: %w", err)
	}

	rc.logger.Debug("Result cached", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Stats returns cache performance statistics
func (rc *ResultCache) Stats() Stats {
	stats := Stats{
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
		Errors: rc.errors.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Close closes the Redis connection
func (rc *ResultCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}
