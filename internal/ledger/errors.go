package ledger

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindStorage    Kind = "storage"
	KindExternal   Kind = "external"
)

// Error carries a machine readable code next to the message returned to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func NewError(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

var (
	ErrIdentityNotFound        = NewError(KindNotFound, "identity_not_found", "identity not found", nil)
	ErrReferralNotFound        = NewError(KindValidation, "referral_not_found", "referral code not found", nil)
	ErrSelfReferral            = NewError(KindValidation, "self_referral", "cannot use your own referral code", nil)
	ErrReferralAlreadyUsed     = NewError(KindValidation, "referral_already_used", "a referral code was already used", nil)
	ErrExternalAccountRequired = NewError(KindValidation, "external_account_required", "external account id is required", nil)
	ErrExternalAccountTaken    = NewError(KindConflict, "external_account_taken", "external account is linked to another identity", nil)
	ErrNoExternalAccount       = NewError(KindValidation, "external_account_not_linked", "no external account linked", nil)
)

func storageError(op string, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return NewError(KindStorage, "storage_error", op, err)
}

// KindOf returns the kind of a ledger error, or KindStorage for anything else.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindStorage
}
