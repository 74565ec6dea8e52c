// Package cache wraps freecache for the short-lived projections and nonces kept in process.
package cache

import (
	"time"
	"unsafe"

	"github.com/coocood/freecache"
	"github.com/rs/zerolog"
)

type Config struct {
	Enabled bool
	SizeMB  int
	TTL     time.Duration
}

type Provider interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	SetTTL(key string, value []byte, ttl time.Duration)
	Del(key string) bool
}

type FreeCache struct {
	cache *freecache.Cache
	ttl   int
}

func New(conf Config, log zerolog.Logger) Provider {
	if !conf.Enabled || conf.SizeMB <= 0 {
		log.Info().Msg("cache disabled")
		return &noopCache{}
	}
	ttl := max(int(conf.TTL.Seconds()), 1)
	log.Info().Int("size_mb", conf.SizeMB).Int("ttl_s", ttl).Msg("cache initialized")
	return &FreeCache{cache: freecache.NewCache(conf.SizeMB * 1024 * 1024), ttl: ttl}
}

// unsafeStringToBytes avoids a copy; freecache only reads the key.
func unsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func (c *FreeCache) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get(unsafeStringToBytes(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *FreeCache) Set(key string, value []byte) {
	_ = c.cache.Set(unsafeStringToBytes(key), value, c.ttl)
}

func (c *FreeCache) SetTTL(key string, value []byte, ttl time.Duration) {
	_ = c.cache.Set(unsafeStringToBytes(key), value, max(int(ttl.Seconds()), 1))
}

func (c *FreeCache) Del(key string) bool {
	return c.cache.Del(unsafeStringToBytes(key))
}

type noopCache struct{}

func (n *noopCache) Get(_ string) ([]byte, bool)                { return nil, false }
func (n *noopCache) Set(_ string, _ []byte)                     {}
func (n *noopCache) SetTTL(_ string, _ []byte, _ time.Duration) {}
func (n *noopCache) Del(_ string) bool                          { return false }
