package ledger

import (
	"context"
	"errors"
	"strings"

	"sai/internal/store"
)

type ExternalAccount struct {
	Id       string
	Username string
	Avatar   string
}

type LinkStatus struct {
	IsLinked bool   `json:"isLinked"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// LinkExternalAccount attaches acct to id and schedules a role sync for its tier.
// Relinking a different account clears the tier roles of the previous one.
func (l *Ledger) LinkExternalAccount(ctx context.Context, id string, acct ExternalAccount) error {
	acct.Id = strings.TrimSpace(acct.Id)
	if acct.Id == "" {
		return ErrExternalAccountRequired
	}
	owner, err := l.store.IdentityByExternalAccount(ctx, acct.Id)
	switch {
	case err == nil && owner.Id != id:
		return ErrExternalAccountTaken
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return storageError("find external account", err)
	}

	var previous, tier string
	err = l.store.Atomic(ctx, []string{id}, func(tx store.Tx) error {
		ident, err := tx.Identity(id)
		if err != nil {
			return err
		}
		if ident.ExternalAccountId != nil && *ident.ExternalAccountId != acct.Id {
			previous = *ident.ExternalAccountId
		}
		accountId := acct.Id
		ident.ExternalAccountId = &accountId
		ident.ExternalUsername = acct.Username
		ident.ExternalAvatar = acct.Avatar
		tier = ident.CurrentTier
		return tx.SaveIdentity(ident)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, store.ErrDuplicate):
		return ErrExternalAccountTaken
	case err != nil:
		return storageError("link external account", err)
	}

	if previous != "" {
		l.roles.ClearTiers(previous)
	}
	l.roles.SyncTier(acct.Id, tier)
	l.log.Info().Str("identity", id).Str("account", acct.Id).Msg("external account linked")
	return nil
}

// UnlinkExternalAccount detaches the linked account and schedules removal of its tier roles.
func (l *Ledger) UnlinkExternalAccount(ctx context.Context, id string) error {
	var previous string
	err := l.store.Atomic(ctx, []string{id}, func(tx store.Tx) error {
		ident, err := tx.Identity(id)
		if err != nil {
			return err
		}
		if ident.ExternalAccountId == nil {
			return ErrNoExternalAccount
		}
		previous = *ident.ExternalAccountId
		ident.ExternalAccountId = nil
		ident.ExternalUsername = ""
		ident.ExternalAvatar = ""
		return tx.SaveIdentity(ident)
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return storageError("unlink external account", err)
	}
	l.roles.ClearTiers(previous)
	l.log.Info().Str("identity", id).Str("account", previous).Msg("external account unlinked")
	return nil
}

// RequestRoleSync schedules a role sync for the current tier of id.
func (l *Ledger) RequestRoleSync(ctx context.Context, id string) error {
	ident, err := l.Identity(ctx, id)
	if err != nil {
		return err
	}
	if ident.ExternalAccountId == nil {
		return ErrNoExternalAccount
	}
	l.roles.SyncTier(*ident.ExternalAccountId, ident.CurrentTier)
	return nil
}

func (l *Ledger) LinkStatus(ctx context.Context, id string) (LinkStatus, error) {
	ident, err := l.Identity(ctx, id)
	if err != nil {
		return LinkStatus{}, err
	}
	if ident.ExternalAccountId == nil {
		return LinkStatus{}, nil
	}
	return LinkStatus{IsLinked: true, Username: ident.ExternalUsername, Avatar: ident.ExternalAvatar}, nil
}

// ResyncAllRoles schedules a role sync for every linked identity and returns how many
// were scheduled.
func (l *Ledger) ResyncAllRoles(ctx context.Context) (int, error) {
	linked, err := l.store.ListLinkedIdentities(ctx)
	if err != nil {
		return 0, storageError("list linked identities", err)
	}
	sync := l.roles.SyncTier
	if w, ok := l.roles.(WaitingRoleSyncer); ok {
		sync = w.SyncTierWait
	}
	for _, ident := range linked {
		sync(*ident.ExternalAccountId, ident.CurrentTier)
	}
	l.log.Info().Int("accounts", len(linked)).Msg("role resync scheduled")
	return len(linked), nil
}
