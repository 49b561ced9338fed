// Package cache adds a Redis read-through cache for payloads in front of any
// storage backend.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Config configures the cache.
type Config struct {
	RedisURL string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // expiry of cached payloads, 0 keeps them until evicted
	// MaxItemBytes caps what is cached; larger payloads always go to the backend.
	MaxItemBytes int64
}

const (
	defaultMaxItemBytes = 4 << 20
	redisTimeout        = 2 * time.Second
)

// Store decorates a backend. Rows stay authoritative: a cached payload is
// only served after the row has been read in the caller's session, and the
// cache key carries the row's checksum, so a payload can never be served for
// a row it does not belong to.
//
// Redis failures degrade to uncached operation; they are logged, never returned.
type Store struct {
	backend storage.Backend
	client  *redis.Client
	ttl     time.Duration
	maxSize int64
	log     *slog.Logger
}

var (
	_ storage.Backend = (*Store)(nil)
	_ storage.Wrapper = (*Store)(nil)
)

// New connects to Redis (fail-fast) and wraps backend.
func New(backend storage.Backend, cfg Config, log *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(backend, client, cfg, log), nil
}

// NewWithClient wraps backend using an existing client.
func NewWithClient(backend storage.Backend, client *redis.Client, cfg Config, log *slog.Logger) *Store {
	maxSize := cfg.MaxItemBytes
	if maxSize <= 0 {
		maxSize = defaultMaxItemBytes
	}
	return &Store{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		maxSize: maxSize,
		log:     storage.LoggerOr(log),
	}
}

func (s *Store) Unwrap() storage.Backend { return s.backend }

func (s *Store) Kind() types.BackendKind { return s.backend.Kind() }

// Close releases the Redis connection pool.
func (s *Store) Close() error { return s.client.Close() }

func cacheKey(item *meta.Item) string {
	return fmt.Sprintf("av:item:%s:%s", item.ID, item.Checksum)
}

// Save does not populate the cache: the caller's transaction may still roll
// the row back. The first Load fills it instead.
func (s *Store) Save(ctx context.Context, db *gorm.DB, name string, data []byte) (*meta.Item, error) {
	return s.backend.Save(ctx, db, name, data)
}

func (s *Store) Load(ctx context.Context, db *gorm.DB, id types.ItemID) ([]byte, error) {
	item, err := storage.LoadRow(ctx, db, id, s.backend.Kind(), false)
	if err != nil {
		return nil, err
	}
	key := cacheKey(item)

	// 1. Cache
	if item.Size <= s.maxSize {
		data, err := s.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if int64(len(data)) == item.Size {
				return data, nil
			}
		case errors.Is(err, redis.Nil):
		case ctx.Err() != nil:
			return nil, storage.Unavailable("load content", ctx.Err())
		default:
			s.log.Warn("redis get failed, falling back to backend", slog.String("key", key), slog.String("err", err.Error()))
		}
	}

	// 2. Backend
	data, err := s.backend.Load(ctx, db, id)
	if err != nil {
		return nil, err
	}

	// 3. Fill
	if int64(len(data)) <= s.maxSize {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
		defer cancel()
		if err := s.client.Set(fillCtx, key, data, s.ttl).Err(); err != nil {
			s.log.Warn("redis fill failed", slog.String("key", key), slog.String("err", err.Error()))
		}
	}
	return data, nil
}

// Delete removes the item through the backend and drops the cached payload.
func (s *Store) Delete(ctx context.Context, db *gorm.DB, id types.ItemID) error {
	item, err := storage.LoadRow(ctx, db, id, s.backend.Kind(), false)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, db, id); err != nil {
		return err
	}

	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
	defer cancel()
	if err := s.client.Del(delCtx, cacheKey(item)).Err(); err != nil {
		s.log.Warn("redis invalidate failed", slog.String("key", cacheKey(item)), slog.String("err", err.Error()))
	}
	return nil
}
