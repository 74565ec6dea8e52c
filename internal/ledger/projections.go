package ledger

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"sai/internal/cache"
	"sai/internal/store"
)

const (
	leaderboardKey     = "projection:leaderboard"
	referralRankingKey = "projection:referral_ranking"
)

// Projections serves the leaderboard and the referral ranking from a short-lived cache
// that writers invalidate.
type Projections struct {
	store store.Store
	cache cache.Provider
	limit int
	log   zerolog.Logger
}

var _ Invalidator = (*Projections)(nil)

func NewProjections(s store.Store, c cache.Provider, limit int, log zerolog.Logger) *Projections {
	if limit <= 0 {
		limit = 100
	}
	return &Projections{store: s, cache: c, limit: limit, log: log.With().Str("component", "projections").Logger()}
}

func (p *Projections) Leaderboard(ctx context.Context) ([]store.LeaderboardEntry, error) {
	var out []store.LeaderboardEntry
	if p.cached(leaderboardKey, &out) {
		return out, nil
	}
	out, err := p.store.Leaderboard(ctx, p.limit)
	if err != nil {
		return nil, storageError("leaderboard", err)
	}
	if out == nil {
		out = []store.LeaderboardEntry{}
	}
	p.put(leaderboardKey, out)
	return out, nil
}

func (p *Projections) ReferralRanking(ctx context.Context) ([]store.ReferralRankingEntry, error) {
	var out []store.ReferralRankingEntry
	if p.cached(referralRankingKey, &out) {
		return out, nil
	}
	out, err := p.store.ReferralRanking(ctx, p.limit)
	if err != nil {
		return nil, storageError("referral ranking", err)
	}
	if out == nil {
		out = []store.ReferralRankingEntry{}
	}
	p.put(referralRankingKey, out)
	return out, nil
}

func (p *Projections) InvalidateLeaderboard() {
	p.cache.Del(leaderboardKey)
}

func (p *Projections) InvalidateReferralRanking() {
	p.cache.Del(referralRankingKey)
}

func (p *Projections) cached(key string, v interface{}) bool {
	raw, ok := p.cache.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("drop undecodable cache entry")
		p.cache.Del(key)
		return false
	}
	return true
}

func (p *Projections) put(key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("encode cache entry")
		return
	}
	p.cache.Set(key, raw)
}
