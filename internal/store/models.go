package store

import (
	"time"
)

// Identity is one wallet identity with its denormalized point aggregates.
// Rows are never deleted.
type Identity struct {
	Id                string     `json:"id" gorm:"primaryKey;size:64"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	TotalPoints       int64      `json:"total_points" gorm:"not null;default:0;index"`
	TodayPoints       int64      `json:"today_points" gorm:"not null;default:0"`
	ConnectedMsToday  int64      `json:"connected_ms_today" gorm:"not null;default:0"`
	TodayBonusPoints  int64      `json:"today_bonus_points" gorm:"not null;default:0"`
	AccrualDate       string     `json:"accrual_date" gorm:"size:10"`
	ActiveDays        int64      `json:"active_days" gorm:"not null;default:0"`
	CurrentTier       string     `json:"current_tier" gorm:"size:16;not null;default:'None'"`
	BonusTierRank     int        `json:"bonus_tier_rank" gorm:"not null;default:0"`
	ReferralCode      string     `json:"referral_code" gorm:"size:16;uniqueIndex;not null"`
	ReferralLink      string     `json:"referral_link"`
	UsedReferralCode  *string    `json:"used_referral_code" gorm:"size:16"`
	ReferralsCount    int64      `json:"referrals_count" gorm:"not null;default:0;index"`
	IsNodeConnected   bool       `json:"is_node_connected" gorm:"not null;default:false"`
	ExternalAccountId *string    `json:"external_account_id" gorm:"size:32;uniqueIndex"`
	ExternalUsername  string     `json:"external_username"`
	ExternalAvatar    string     `json:"external_avatar"`
	LastActiveAt      *time.Time `json:"last_active_at"`
}

// HoursConnectedToday converts the stored connected time to hours.
func (i *Identity) HoursConnectedToday() float64 {
	return float64(i.ConnectedMsToday) / float64(time.Hour/time.Millisecond)
}

// Clone returns a deep copy, pointer fields included.
func (i *Identity) Clone() *Identity {
	c := *i
	if i.UsedReferralCode != nil {
		v := *i.UsedReferralCode
		c.UsedReferralCode = &v
	}
	if i.ExternalAccountId != nil {
		v := *i.ExternalAccountId
		c.ExternalAccountId = &v
	}
	if i.LastActiveAt != nil {
		v := *i.LastActiveAt
		c.LastActiveAt = &v
	}
	return &c
}

// DailyPoints is the points total of one identity for one UTC date.
type DailyPoints struct {
	IdentityId string    `json:"identity_id" gorm:"primaryKey;size:64"`
	Date       string    `json:"date" gorm:"primaryKey;size:10"`
	Points     int64     `json:"points" gorm:"not null;default:0"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TierBonus records a one-time tier bonus. An identity holds at most one row per tier.
type TierBonus struct {
	IdentityId string    `json:"identity_id" gorm:"primaryKey;size:64"`
	Tier       string    `json:"tier" gorm:"primaryKey;size:16"`
	Points     int64     `json:"points" gorm:"not null"`
	GrantedAt  time.Time `json:"granted_at"`
}

// ReferralEvent is the audit row of a redeemed referral code.
type ReferralEvent struct {
	RefereeId  string    `json:"referee_id" gorm:"primaryKey;size:64"`
	ReferrerId string    `json:"referrer_id" gorm:"index;size:64;not null"`
	Code       string    `json:"code" gorm:"size:16;not null"`
	Bonus      int64     `json:"bonus"`
	CreatedAt  time.Time `json:"created_at"`
}

type LeaderboardEntry struct {
	IdentityId  string `json:"identityId"`
	TotalPoints int64  `json:"totalPoints"`
}

type ReferralRankingEntry struct {
	IdentityId     string `json:"identityId"`
	ReferralsCount int64  `json:"referralsCount"`
}
