package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sai/internal/cache"
)

func TestCacheNonces(t *testing.T) {
	n := NewCacheNonces(cache.New(cache.Config{Enabled: true, SizeMB: 1, TTL: time.Minute}, zerolog.Nop()))
	ctx := context.Background()

	_, err := n.Take(ctx, "wallet")
	assert.ErrorIs(t, err, errNonceMissing)

	require.NoError(t, n.Put(ctx, "wallet", "first", time.Minute))
	require.NoError(t, n.Put(ctx, "wallet", "second", time.Minute))

	nonce, err := n.Take(ctx, "wallet")
	require.NoError(t, err)
	assert.Equal(t, "second", nonce)

	_, err = n.Take(ctx, "wallet")
	assert.ErrorIs(t, err, errNonceMissing)
}

func TestNewNonce(t *testing.T) {
	a, b := newNonce(), newNonce()
	assert.Len(t, a, nonceLen)
	assert.NotEqual(t, a, b)
}
