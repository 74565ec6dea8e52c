package gormstore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sai/internal/store"
)

type tx struct {
	db       *gorm.DB
	readOnly bool
}

func (t *tx) Identity(id string) (*store.Identity, error) {
	var ident store.Identity
	if err := t.db.Where("id = ?", id).First(&ident).Error; err != nil {
		return nil, translate(err)
	}
	return &ident, nil
}

func (t *tx) IdentityByReferralCode(code string) (*store.Identity, error) {
	var ident store.Identity
	if err := t.db.Where("referral_code = ?", code).First(&ident).Error; err != nil {
		return nil, translate(err)
	}
	return &ident, nil
}

func (t *tx) SaveIdentity(ident *store.Identity) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return translate(t.db.Save(ident).Error)
}

func upsertDaily(db *gorm.DB, row *store.DailyPoints) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"points", "updated_at"}),
	}).Create(row)
}

func (t *tx) PutDailyPoints(id, date string, points int64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return upsertDaily(t.db, &store.DailyPoints{IdentityId: id, Date: date, Points: points}).Error
}

func (t *tx) SumDailyPoints(id string) (int64, error) {
	var sum int64
	err := t.db.Model(&store.DailyPoints{}).
		Where("identity_id = ?", id).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error
	return sum, err
}

func (t *tx) CountActiveDays(id string) (int64, error) {
	var n int64
	err := t.db.Model(&store.DailyPoints{}).Where("identity_id = ?", id).Distinct("date").Count(&n).Error
	return n, err
}

func (t *tx) DailyPointsIn(id string, dates []string) (map[string]int64, error) {
	var rows []store.DailyPoints
	if err := t.db.Where("identity_id = ? AND date IN ?", id, dates).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Date] = r.Points
	}
	return out, nil
}

func (t *tx) GrantTierBonus(id, tier string, points int64) (bool, error) {
	if t.readOnly {
		return false, store.ErrReadOnly
	}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&store.TierBonus{IdentityId: id, Tier: tier, Points: points, GrantedAt: time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *tx) SumTierBonuses(id string) (int64, error) {
	var sum int64
	err := t.db.Model(&store.TierBonus{}).
		Where("identity_id = ?", id).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error
	return sum, err
}

func (t *tx) RecordReferral(ev *store.ReferralEvent) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return translate(t.db.Create(ev).Error)
}
