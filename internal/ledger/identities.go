package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/dchest/uniuri"

	"sai/internal/store"
)

var referralAlphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

const (
	referralCodeLen      = 6
	referralCodeAttempts = 10
)

func NewReferralCode() string {
	return uniuri.NewLenChars(referralCodeLen, referralAlphabet)
}

func (l *Ledger) referralLink(code string) string {
	return strings.TrimSuffix(l.cfg.ReferralLinkBase, "/") + "/" + code
}

// EnsureIdentity returns the identity, creating it with a fresh referral code on first
// sign-in. The boolean reports whether it was created by this call.
func (l *Ledger) EnsureIdentity(ctx context.Context, id string) (*store.Identity, bool, error) {
	ident, err := l.Identity(ctx, id)
	if err == nil {
		return ident, false, l.touch(ctx, id)
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, false, err
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code := NewReferralCode()
		now := l.now()
		ident = &store.Identity{
			Id:           id,
			CurrentTier:  TierNone,
			AccrualDate:  DateKey(now),
			ReferralCode: code,
			ReferralLink: l.referralLink(code),
			LastActiveAt: &now,
		}
		created, err := l.store.CreateIdentity(ctx, ident)
		if errors.Is(err, store.ErrDuplicate) {
			l.log.Debug().Str("code", code).Msg("referral code collision, retrying")
			continue
		}
		if err != nil {
			return nil, false, storageError("create identity", err)
		}
		if !created {
			// Either a concurrent sign-in of the same identity won, or the driver swallowed a
			// referral code conflict.
			existing, err := l.Identity(ctx, id)
			if errors.Is(err, ErrIdentityNotFound) {
				continue
			}
			return existing, false, err
		}
		l.log.Info().Str("identity", id).Str("code", code).Msg("identity created")
		l.alerts.SignedUp(id)
		return ident, true, nil
	}
	return nil, false, NewError(KindStorage, "referral_code_exhausted", "could not allocate a referral code", nil)
}

func (l *Ledger) touch(ctx context.Context, id string) error {
	err := l.store.Atomic(ctx, []string{id}, func(tx store.Tx) error {
		ident, err := tx.Identity(id)
		if err != nil {
			return err
		}
		now := l.now()
		ident.LastActiveAt = &now
		return tx.SaveIdentity(ident)
	})
	if err != nil {
		return storageError("touch identity", err)
	}
	return nil
}

func (l *Ledger) Identity(ctx context.Context, id string) (*store.Identity, error) {
	var ident *store.Identity
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		ident, err = tx.Identity(id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, storageError("read identity", err)
	}
	return ident, nil
}
