package users

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Cache holds recently authenticated users keyed by email. Implementations
// must treat failures as misses.
type Cache interface {
	Get(ctx context.Context, email string) (user.User, bool)
	Set(ctx context.Context, u user.User)
	Invalidate(ctx context.Context, email string)
}

type noCache struct{}

func (noCache) Get(context.Context, string) (user.User, bool) { return user.User{}, false }
func (noCache) Set(context.Context, user.User)                {}
func (noCache) Invalidate(context.Context, string)            {}

const cacheKeyPrefix = "contactbook:user:"

// RedisCache stores users in Redis as JSON. Secrets are never written
// because the user JSON view omits them.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCache creates a cache with the given entry lifetime.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisCache {
	if log == nil {
		log = logger.NewDefault("user-cache")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func (c *RedisCache) Get(ctx context.Context, email string) (user.User, bool) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+email).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Debug("user cache read failed")
		}
		return user.User{}, false
	}
	var u user.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return user.User{}, false
	}
	return u, true
}

func (c *RedisCache) Set(ctx context.Context, u user.User) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+u.Email, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("user cache write failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, email string) {
	if err := c.client.Del(ctx, cacheKeyPrefix+email).Err(); err != nil {
		c.log.WithError(err).Debug("user cache invalidate failed")
	}
}
