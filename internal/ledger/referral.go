package ledger

import (
	"context"
	"errors"
	"strings"

	"sai/internal/store"
)

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RedeemReferral credits the owner of code for referring refereeId. An identity redeems at
// most one code in its lifetime.
func (l *Ledger) RedeemReferral(ctx context.Context, refereeId, code string) error {
	err := l.redeem(ctx, refereeId, normalizeCode(code))
	if err != nil {
		l.metrics.IncReferral(string(KindOf(err)))
		return err
	}
	l.metrics.IncReferral("ok")
	return nil
}

func (l *Ledger) redeem(ctx context.Context, refereeId, code string) error {
	if code == "" {
		return ErrReferralNotFound
	}

	var referrerId string
	err := l.store.View(ctx, func(tx store.Tx) error {
		referee, err := tx.Identity(refereeId)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIdentityNotFound
			}
			return err
		}
		if referee.UsedReferralCode != nil {
			return ErrReferralAlreadyUsed
		}
		referrer, err := tx.IdentityByReferralCode(code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrReferralNotFound
			}
			return err
		}
		referrerId = referrer.Id
		return nil
	})
	if err != nil {
		return storageError("check referral", err)
	}
	if referrerId == refereeId {
		return ErrSelfReferral
	}

	bonus := l.cfg.ReferralBonus
	var c *change
	err = l.store.Atomic(ctx, []string{refereeId, referrerId}, func(tx store.Tx) error {
		referee, err := tx.Identity(refereeId)
		if err != nil {
			return err
		}
		if referee.UsedReferralCode != nil {
			return ErrReferralAlreadyUsed
		}
		referrer, err := tx.Identity(referrerId)
		if err != nil {
			return err
		}
		if referrer.ReferralCode != code {
			return ErrReferralNotFound
		}

		prevTier := referrer.CurrentTier
		now := l.now()
		rollover(referrer, DateKey(now))
		referrer.ReferralsCount++
		referrer.TodayBonusPoints += bonus
		referrer.TodayPoints = l.todayPoints(referrer)
		if err := tx.PutDailyPoints(referrer.Id, referrer.AccrualDate, referrer.TodayPoints); err != nil {
			return err
		}
		if err := l.reconcile(tx, referrer); err != nil {
			return err
		}
		if err := tx.SaveIdentity(referrer); err != nil {
			return err
		}

		used := code
		referee.UsedReferralCode = &used
		if err := tx.SaveIdentity(referee); err != nil {
			return err
		}
		if err := tx.RecordReferral(&store.ReferralEvent{
			RefereeId:  refereeId,
			ReferrerId: referrerId,
			Code:       code,
			Bonus:      bonus,
			CreatedAt:  now,
		}); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrReferralAlreadyUsed
			}
			return err
		}

		snap, err := l.snapshotTx(tx, referrer, now)
		if err != nil {
			return err
		}
		c = newChange(referrer, prevTier, snap)
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		// The referral event or the referee row lost a race with a concurrent redemption.
		return ErrReferralAlreadyUsed
	}
	if err != nil {
		return storageError("redeem referral", err)
	}

	l.log.Info().Str("referrer", referrerId).Str("referee", refereeId).Int64("bonus", bonus).Msg("referral credited")
	l.publish(c)
	l.cache.InvalidateReferralRanking()
	l.alerts.ReferralCredited(referrerId, refereeId, bonus)
	return nil
}

// ValidateReferralCode reports whether code belongs to an identity.
func (l *Ledger) ValidateReferralCode(ctx context.Context, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return ErrReferralNotFound
	}
	err := l.store.View(ctx, func(tx store.Tx) error {
		_, err := tx.IdentityByReferralCode(code)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrReferralNotFound
	}
	if err != nil {
		return storageError("validate referral", err)
	}
	return nil
}

type ReferralInfo struct {
	ReferralCode     string  `json:"referralCode"`
	ReferralLink     string  `json:"referralLink"`
	ReferralsCount   int64   `json:"referralsCount"`
	CurrentTier      string  `json:"currentTier"`
	UsedReferralCode *string `json:"usedReferralCode"`
	ReferralBonus    int64   `json:"referralBonus"`
}

func (l *Ledger) ReferralInfo(ctx context.Context, id string) (ReferralInfo, error) {
	ident, err := l.Identity(ctx, id)
	if err != nil {
		return ReferralInfo{}, err
	}
	return ReferralInfo{
		ReferralCode:     ident.ReferralCode,
		ReferralLink:     ident.ReferralLink,
		ReferralsCount:   ident.ReferralsCount,
		CurrentTier:      ident.CurrentTier,
		UsedReferralCode: ident.UsedReferralCode,
		ReferralBonus:    l.cfg.ReferralBonus,
	}, nil
}
