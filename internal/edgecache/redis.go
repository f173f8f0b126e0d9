package edgecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is the shared key-value edge cache backend. Every operation is
// best-effort: an I/O failure is swallowed and the method behaves as a
// miss or no-op, so a degraded Redis never makes the service unavailable
// (spec §4.5).
type Redis struct {
	client *redis.Client
}

// NewRedis builds a Redis-backed edge cache against the given connection
// URL (e.g. "redis://host:6379/0").
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (r *Redis) Name() string { return "redis" }

type redisEntry struct {
	Bytes       []byte    `json:"bytes"`
	ContentType string    `json:"content_type"`
	CachedAt    time.Time `json:"cached_at"`
}

func (r *Redis) Get(key string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := r.client.Get(ctx, namespaced(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("edgecache: redis get failed, treating as miss")
		}
		return Entry{}, false
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return Entry{Bytes: e.Bytes, ContentType: e.ContentType, CachedAt: e.CachedAt}, true
}

func (r *Redis) Set(key string, entry Entry, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := json.Marshal(redisEntry{Bytes: entry.Bytes, ContentType: entry.ContentType, CachedAt: entry.CachedAt})
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, namespaced(key), payload, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("edgecache: redis set failed")
	}
}

func (r *Redis) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Del(ctx, namespaced(key)).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("edgecache: redis delete failed")
	}
}

func (r *Redis) DeleteByPrefix(prefix string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pattern := namespaced(prefix) + "*"
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Debug().Err(err).Str("prefix", prefix).Msg("edgecache: redis scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		log.Debug().Err(err).Str("prefix", prefix).Msg("edgecache: redis delete-by-prefix failed")
	}
}

func (r *Redis) HealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}
