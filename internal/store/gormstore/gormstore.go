// Package gormstore is the relational Store, used with the postgres and mysql drivers.
package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sai/internal/store"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&store.Identity{},
		&store.DailyPoints{},
		&store.TierBonus{},
		&store.ReferralEvent{},
	)
}

func (s *Store) CreateIdentity(ctx context.Context, ident *store.Identity) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(ident)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return fn(&tx{db: s.db.WithContext(ctx), readOnly: true})
}

func (s *Store) Atomic(ctx context.Context, ids []string, fn func(tx store.Tx) error) error {
	order := store.LockOrder(ids)
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var locked []store.Identity
		if err := lockIdentities(db, order).Find(&locked).Error; err != nil {
			return err
		}
		return fn(&tx{db: db})
	})
}

// lockIdentities selects the rows FOR UPDATE in id order, so concurrent multi-identity
// transactions acquire row locks in the same sequence.
func lockIdentities(db *gorm.DB, ids []string) *gorm.DB {
	return db.Model(&store.Identity{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id IN ?", ids).
		Order("id")
}

func (s *Store) ListIdentityIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&store.Identity{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) ListLinkedIdentities(ctx context.Context) ([]store.Identity, error) {
	var out []store.Identity
	err := s.db.WithContext(ctx).Where("external_account_id IS NOT NULL").Order("id").Find(&out).Error
	return out, err
}

func (s *Store) IdentityByExternalAccount(ctx context.Context, accountId string) (*store.Identity, error) {
	var ident store.Identity
	err := s.db.WithContext(ctx).Where("external_account_id = ?", accountId).First(&ident).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ident, nil
}

func leaderboardQuery(db *gorm.DB, limit int) *gorm.DB {
	return db.Model(&store.Identity{}).
		Select("id AS identity_id, total_points").
		Where("total_points > 0").
		Order("total_points DESC, id").
		Limit(limit)
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error) {
	var out []store.LeaderboardEntry
	err := leaderboardQuery(s.db.WithContext(ctx), limit).Scan(&out).Error
	return out, err
}

func (s *Store) ReferralRanking(ctx context.Context, limit int) ([]store.ReferralRankingEntry, error) {
	var out []store.ReferralRankingEntry
	err := s.db.WithContext(ctx).Model(&store.Identity{}).
		Select("id AS identity_id, referrals_count").
		Where("referrals_count > 0").
		Order("referrals_count DESC, id").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (s *Store) ClearNodeConnections(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&store.Identity{}).
		Where("is_node_connected = ?", true).
		Update("is_node_connected", false).Error
}

// translate maps gorm errors onto the store sentinels. Duplicate keys are only reported
// when the connection was opened with TranslateError.
func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	default:
		return err
	}
}
