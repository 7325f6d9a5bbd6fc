// Package cache implements the two-tier response cache: a fresh entry
// served on hits and a longer-lived stale entry consulted only when
// the upstream provider is down.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/keywordlab/trendpulse/internal/telemetry"
)

const (
	keyPrefix  = "trend"
	keyVersion = "v4"

	staleSuffix = ":stale"

	// DefaultPattern matches every cache key this service writes,
	// stale entries included.
	DefaultPattern = keyPrefix + ":" + keyVersion + ":*"
)

// Fingerprint identifies one logical query. Two requests with the same
// fingerprint are interchangeable for caching purposes.
type Fingerprint struct {
	Keyword      string
	Country      string
	WindowDays   int
	BaselineDays int
}

// Key renders the fresh cache key. The keyword is lowercased and
// trimmed so display casing does not fragment the cache; the version
// tag isolates payload schema changes.
func (fp Fingerprint) Key() string {
	keyword := strings.ToLower(strings.TrimSpace(fp.Keyword))
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d",
		keyPrefix, keyVersion, keyword, fp.Country, fp.WindowDays, fp.BaselineDays)
}

// StaleKey renders the key of the stale backup entry.
func (fp Fingerprint) StaleKey() string {
	return fp.Key() + staleSuffix
}

// Config holds the two-tier TTLs.
type Config struct {
	FreshTTL time.Duration
	StaleTTL time.Duration
}

// DefaultConfig returns 24h fresh, 48h stale.
func DefaultConfig() Config {
	return Config{
		FreshTTL: 24 * time.Hour,
		StaleTTL: 48 * time.Hour,
	}
}

// staleEnvelope wraps the payload with its write time so the fallback
// path can report the data's age.
type staleEnvelope struct {
	Data     json.RawMessage `json:"data"`
	CachedAt int64           `json:"cached_at"` // unix milliseconds
}

// StaleEntry is a hit on the stale tier.
type StaleEntry struct {
	Payload  []byte
	CachedAt time.Time
	Age      time.Duration
}

// Cache wraps a Redis client with the fingerprint key scheme and the
// dual fresh/stale write. Methods return errors for the caller to log;
// the engine treats read failures as misses and write failures as
// non-fatal.
type Cache struct {
	client  *redis.Client
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	now func() time.Time
}

// New wraps client. TTLs outside their valid range fall back to the
// defaults.
func New(client *redis.Client, cfg Config, logger zerolog.Logger, metrics *telemetry.Metrics) *Cache {
	def := DefaultConfig()
	if cfg.FreshTTL <= 0 {
		cfg.FreshTTL = def.FreshTTL
	}
	if cfg.StaleTTL < cfg.FreshTTL {
		cfg.StaleTTL = 2 * cfg.FreshTTL
	}

	return &Cache{
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "cache").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Open dials Redis and verifies connectivity before handing the client
// out. url accepts the redis://[:password@]host:port/db form.
func Open(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// FreshTTL reports the configured fresh-tier TTL.
func (c *Cache) FreshTTL() time.Duration {
	return c.cfg.FreshTTL
}

// GetFresh returns the fresh payload for fp, or a miss.
func (c *Cache) GetFresh(ctx context.Context, fp Fingerprint) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, fp.Key()).Result()
	if err != nil {
		if err == redis.Nil {
			c.metrics.RecordCacheOp("get_fresh", "miss")
			return nil, false, nil
		}
		c.metrics.RecordCacheOp("get_fresh", "error")
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	c.metrics.RecordCacheOp("get_fresh", "hit")
	return []byte(val), true, nil
}

// GetStale returns the stale backup for fp along with its age, or a
// miss. The stale tier outlives the fresh entry, so a hit here usually
// means the fresh entry already expired.
func (c *Cache) GetStale(ctx context.Context, fp Fingerprint) (*StaleEntry, bool, error) {
	val, err := c.client.Get(ctx, fp.StaleKey()).Result()
	if err != nil {
		if err == redis.Nil {
			c.metrics.RecordCacheOp("get_stale", "miss")
			return nil, false, nil
		}
		c.metrics.RecordCacheOp("get_stale", "error")
		return nil, false, fmt.Errorf("redis get stale: %w", err)
	}

	var envelope staleEnvelope
	if err := json.Unmarshal([]byte(val), &envelope); err != nil {
		c.metrics.RecordCacheOp("get_stale", "error")
		return nil, false, fmt.Errorf("corrupt stale entry %s: %w", fp.StaleKey(), err)
	}

	cachedAt := time.UnixMilli(envelope.CachedAt).UTC()
	age := c.now().Sub(cachedAt)
	if age < 0 {
		age = 0
	}

	c.metrics.RecordCacheOp("get_stale", "hit")
	return &StaleEntry{
		Payload:  []byte(envelope.Data),
		CachedAt: cachedAt,
		Age:      age,
	}, true, nil
}

// Set writes both tiers: the payload under the fresh key and a
// timestamped envelope under the stale key. A fresh-tier failure
// aborts before the stale write so the tiers never hold entries of
// different generations.
func (c *Cache) Set(ctx context.Context, fp Fingerprint, payload []byte) error {
	if err := c.client.Set(ctx, fp.Key(), payload, c.cfg.FreshTTL).Err(); err != nil {
		c.metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("redis set: %w", err)
	}

	envelope, err := json.Marshal(staleEnvelope{
		Data:     payload,
		CachedAt: c.now().UnixMilli(),
	})
	if err != nil {
		c.metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("encode stale entry: %w", err)
	}

	if err := c.client.Set(ctx, fp.StaleKey(), envelope, c.cfg.StaleTTL).Err(); err != nil {
		c.metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("redis set stale: %w", err)
	}

	c.metrics.RecordCacheOp("set", "success")
	return nil
}

// TTL reports the remaining seconds of the fresh entry, or -1 when it
// is absent.
func (c *Cache) TTL(ctx context.Context, fp Fingerprint) (int, error) {
	d, err := c.client.TTL(ctx, fp.Key()).Result()
	if err != nil {
		return -1, fmt.Errorf("redis ttl: %w", err)
	}
	if d < 0 {
		// -2 means no key, -1 means no expiry; neither holds a
		// countable remainder.
		return -1, nil
	}
	return int(d / time.Second), nil
}

// Delete removes the fresh entry only. The stale backup stays for the
// fallback path.
func (c *Cache) Delete(ctx context.Context, fp Fingerprint) error {
	if err := c.client.Del(ctx, fp.Key()).Err(); err != nil {
		c.metrics.RecordCacheOp("delete", "error")
		return fmt.Errorf("redis delete: %w", err)
	}
	c.metrics.RecordCacheOp("delete", "success")
	return nil
}

// KeyInfo describes one cached key for the dev cache-info endpoint.
type KeyInfo struct {
	Key        string `json:"key"`
	TTLSeconds int    `json:"ttl_seconds"`
	SizeBytes  int    `json:"size_bytes"`
}

// Info lists keys matching pattern with their TTLs and payload sizes.
func (c *Cache) Info(ctx context.Context, pattern string) ([]KeyInfo, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	keys, err := c.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}

	infos := make([]KeyInfo, 0, len(keys))
	for _, key := range keys {
		info := KeyInfo{Key: key, TTLSeconds: -1}

		if d, err := c.client.TTL(ctx, key).Result(); err == nil && d >= 0 {
			info.TTLSeconds = int(d / time.Second)
		}
		if n, err := c.client.StrLen(ctx, key).Result(); err == nil {
			info.SizeBytes = int(n)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Clear deletes every key matching pattern and returns them. Backs the
// dev clear-cache endpoint.
func (c *Cache) Clear(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	keys, err := c.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("redis clear: %w", err)
	}

	c.logger.Info().Str("pattern", pattern).Int("deleted", len(keys)).Msg("cache cleared")
	return keys, nil
}

// Ping tests connectivity for the health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
