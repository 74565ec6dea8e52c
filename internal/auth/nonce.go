package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dchest/uniuri"
	"github.com/redis/go-redis/v9"

	"sai/internal/cache"
)

const nonceLen = 16

var errNonceMissing = errors.New("nonce missing")

// NonceStore keeps one pending challenge nonce per public key. Take consumes it.
type NonceStore interface {
	Put(ctx context.Context, key, nonce string, ttl time.Duration) error
	Take(ctx context.Context, key string) (string, error)
}

func newNonce() string {
	return uniuri.NewLen(nonceLen)
}

type RedisNonces struct {
	rdb *redis.Client
}

func NewRedisNonces(rdb *redis.Client) *RedisNonces {
	return &RedisNonces{rdb: rdb}
}

func nonceKey(key string) string {
	return "nonce@" + key
}

func (r *RedisNonces) Put(ctx context.Context, key, nonce string, ttl time.Duration) error {
	return r.rdb.Set(ctx, nonceKey(key), nonce, ttl).Err()
}

func (r *RedisNonces) Take(ctx context.Context, key string) (string, error) {
	nonce, err := r.rdb.GetDel(ctx, nonceKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errNonceMissing
	}
	return nonce, err
}

// CacheNonces keeps nonces in process; only valid for a single replica.
type CacheNonces struct {
	mu    sync.Mutex
	cache cache.Provider
}

func NewCacheNonces(c cache.Provider) *CacheNonces {
	return &CacheNonces{cache: c}
}

func (c *CacheNonces) Put(_ context.Context, key, nonce string, ttl time.Duration) error {
	c.cache.SetTTL(nonceKey(key), []byte(nonce), ttl)
	return nil
}

func (c *CacheNonces) Take(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := nonceKey(key)
	v, ok := c.cache.Get(k)
	if !ok {
		return "", errNonceMissing
	}
	c.cache.Del(k)
	return string(v), nil
}
