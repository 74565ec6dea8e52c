package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sai/internal/store"
)

func seed(t *testing.T, s *Store, id, code string) {
	t.Helper()
	created, err := s.CreateIdentity(context.Background(), &store.Identity{Id: id, ReferralCode: code, CurrentTier: "None"})
	require.NoError(t, err)
	require.True(t, created)
}

func TestCreateIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "AAAAAA")

	created, err := s.CreateIdentity(ctx, &store.Identity{Id: "alice", ReferralCode: "BBBBBB"})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.CreateIdentity(ctx, &store.Identity{Id: "bob", ReferralCode: "AAAAAA"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestAtomicCommitsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "AAAAAA")

	boom := errors.New("boom")
	err := s.Atomic(ctx, []string{"alice"}, func(tx store.Tx) error {
		ident, err := tx.Identity("alice")
		require.NoError(t, err)
		ident.TotalPoints = 99
		require.NoError(t, tx.SaveIdentity(ident))
		require.NoError(t, tx.PutDailyPoints("alice", "2024-01-01", 99))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		ident, err := tx.Identity("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), ident.TotalPoints)
		sum, err := tx.SumDailyPoints("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), sum)
		return nil
	}))
}

func TestTxReadsItsOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "AAAAAA")

	require.NoError(t, s.Atomic(ctx, []string{"alice"}, func(tx store.Tx) error {
		require.NoError(t, tx.PutDailyPoints("alice", "2024-01-01", 5))
		require.NoError(t, tx.PutDailyPoints("alice", "2024-01-02", 7))
		require.NoError(t, tx.PutDailyPoints("alice", "2024-01-02", 8))

		sum, err := tx.SumDailyPoints("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(13), sum)

		days, err := tx.CountActiveDays("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(2), days)

		granted, err := tx.GrantTierBonus("alice", "Tier 1", 100)
		require.NoError(t, err)
		assert.True(t, granted)
		granted, err = tx.GrantTierBonus("alice", "Tier 1", 100)
		require.NoError(t, err)
		assert.False(t, granted)
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		got, err := tx.DailyPointsIn("alice", []string{"2024-01-02", "2024-01-03"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"2024-01-02": 8}, got)

		bonus, err := tx.SumTierBonuses("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), bonus)
		return nil
	}))
}

func TestViewIsReadOnly(t *testing.T) {
	s := New()
	seed(t, s, "alice", "AAAAAA")
	err := s.View(context.Background(), func(tx store.Tx) error {
		return tx.PutDailyPoints("alice", "2024-01-01", 1)
	})
	assert.ErrorIs(t, err, store.ErrReadOnly)
}

func TestRecordReferralOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "AAAAAA")
	seed(t, s, "bob", "BBBBBB")

	ev := &store.ReferralEvent{RefereeId: "bob", ReferrerId: "alice", Code: "AAAAAA", Bonus: 50}
	require.NoError(t, s.Atomic(ctx, []string{"alice", "bob"}, func(tx store.Tx) error {
		return tx.RecordReferral(ev)
	}))
	err := s.Atomic(ctx, []string{"alice", "bob"}, func(tx store.Tx) error {
		return tx.RecordReferral(ev)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestExternalAccountUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "AAAAAA")
	seed(t, s, "bob", "BBBBBB")

	link := func(id string) error {
		return s.Atomic(ctx, []string{id}, func(tx store.Tx) error {
			ident, err := tx.Identity(id)
			if err != nil {
				return err
			}
			acct := "1234"
			ident.ExternalAccountId = &acct
			return tx.SaveIdentity(ident)
		})
	}
	require.NoError(t, link("alice"))
	assert.ErrorIs(t, link("bob"), store.ErrDuplicate)

	ident, err := s.IdentityByExternalAccount(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.Id)

	linked, err := s.ListLinkedIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, linked, 1)
}

func TestConcurrentAtomicIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "AAAAAA")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Atomic(ctx, []string{"alice"}, func(tx store.Tx) error {
				ident, err := tx.Identity("alice")
				if err != nil {
					return err
				}
				ident.TotalPoints++
				return tx.SaveIdentity(ident)
			})
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		ident, err := tx.Identity("alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), ident.TotalPoints)
		return nil
	}))
}

func TestLeaderboardOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, c := range []struct {
		id     string
		points int64
		refs   int64
	}{{"a", 10, 1}, {"b", 30, 0}, {"c", 10, 3}, {"d", 0, 0}} {
		seed(t, s, c.id, "CODE"+c.id)
		c := c
		require.NoError(t, s.Atomic(ctx, []string{c.id}, func(tx store.Tx) error {
			ident, _ := tx.Identity(c.id)
			ident.TotalPoints = c.points
			ident.ReferralsCount = c.refs
			return tx.SaveIdentity(ident)
		}))
	}

	board, err := s.Leaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []store.LeaderboardEntry{
		{IdentityId: "b", TotalPoints: 30},
		{IdentityId: "a", TotalPoints: 10},
		{IdentityId: "c", TotalPoints: 10},
	}, board)

	board, err = s.Leaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, board, 1)

	ranking, err := s.ReferralRanking(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []store.ReferralRankingEntry{
		{IdentityId: "c", ReferralsCount: 3},
		{IdentityId: "a", ReferralsCount: 1},
	}, ranking)

	ids, err := s.ListIdentityIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestClearNodeConnections(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "AAAAAA")
	require.NoError(t, s.Atomic(ctx, []string{"alice"}, func(tx store.Tx) error {
		ident, _ := tx.Identity("alice")
		ident.IsNodeConnected = true
		return tx.SaveIdentity(ident)
	}))
	require.NoError(t, s.ClearNodeConnections(ctx))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		ident, _ := tx.Identity("alice")
		assert.False(t, ident.IsNodeConnected)
		return nil
	}))
}
