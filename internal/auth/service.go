// Package auth issues wallet challenges and turns a signed challenge into a session token.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sai/internal/ledger"
	"sai/internal/store"
)

const (
	KindSolana = "solana"
	KindEVM    = "evm"
)

var (
	ErrInvalidPublicKey = ledger.NewError(ledger.KindValidation, "invalid_public_key", "invalid public key", nil)
	ErrMessageMismatch  = ledger.NewError(ledger.KindAuth, "message_mismatch", "signed message does not match the challenge", nil)
	ErrInvalidSignature = ledger.NewError(ledger.KindAuth, "invalid_signature", "invalid signature", nil)
	ErrNonceExpired     = ledger.NewError(ledger.KindAuth, "nonce_expired", "challenge expired or already used", nil)
)

// Verifier checks wallet signatures for one chain family.
type Verifier interface {
	Kind() string
	Normalize(publicKey string) (string, error)
	NewNonce() string
	Challenge(publicKey, nonce string) (string, error)
	Verify(publicKey, message, signature, nonce string) error
}

type TokenIssuer interface {
	GenerateJWT(publicKey string) (string, error)
}

type Challenge struct {
	PublicKey string    `json:"publicKey"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SignInRequest struct {
	PublicKey    string
	Message      string
	Signature    string
	ReferralCode string
}

type SignInResult struct {
	Token    string
	Identity *store.Identity
	IsSignup bool
	// ReferralError holds the error code when a referral code was sent but not credited.
	ReferralError string
}

type Service struct {
	verifier Verifier
	nonces   NonceStore
	ledger   *ledger.Ledger
	tokens   TokenIssuer
	nonceTTL time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(v Verifier, nonces NonceStore, l *ledger.Ledger, tokens TokenIssuer, nonceTTL time.Duration, log zerolog.Logger) *Service {
	if nonceTTL <= 0 {
		nonceTTL = time.Minute
	}
	return &Service{
		verifier: v,
		nonces:   nonces,
		ledger:   l,
		tokens:   tokens,
		nonceTTL: nonceTTL,
		now:      time.Now,
		log:      log.With().Str("component", "auth").Str("wallet", v.Kind()).Logger(),
	}
}

// Challenge stores a fresh one-time nonce for publicKey and returns the text to sign.
// A new challenge replaces any pending one.
func (s *Service) Challenge(ctx context.Context, publicKey string) (Challenge, error) {
	id, err := s.verifier.Normalize(publicKey)
	if err != nil {
		return Challenge{}, ErrInvalidPublicKey
	}
	nonce := s.verifier.NewNonce()
	message, err := s.verifier.Challenge(id, nonce)
	if err != nil {
		return Challenge{}, ledger.NewError(ledger.KindValidation, "challenge_failed", "could not build challenge", err)
	}
	if err := s.nonces.Put(ctx, id, nonce, s.nonceTTL); err != nil {
		return Challenge{}, ledger.NewError(ledger.KindStorage, "storage_error", "store nonce", err)
	}
	return Challenge{
		PublicKey: id,
		Nonce:     nonce,
		Message:   message,
		ExpiresAt: s.now().Add(s.nonceTTL).UTC(),
	}, nil
}

// SignIn consumes the pending nonce, verifies the signature and returns a token for the
// identity, creating it on first sign-in. A referral code is redeemed best effort: a
// rejected code never fails the sign-in.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	id, err := s.verifier.Normalize(req.PublicKey)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	nonce, err := s.nonces.Take(ctx, id)
	if errors.Is(err, errNonceMissing) {
		return nil, ErrNonceExpired
	}
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "storage_error", "read nonce", err)
	}

	if err := s.verifier.Verify(id, req.Message, req.Signature, nonce); err != nil {
		s.log.Debug().Str("identity", id).Err(err).Msg("signature rejected")
		return nil, err
	}

	ident, created, err := s.ledger.EnsureIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &SignInResult{Identity: ident, IsSignup: created}

	if req.ReferralCode != "" {
		if err := s.ledger.RedeemReferral(ctx, id, req.ReferralCode); err != nil {
			res.ReferralError = errorCode(err)
			s.log.Warn().Str("identity", id).Str("code", req.ReferralCode).Err(err).Msg("referral not credited at sign-in")
		} else if fresh, err := s.ledger.Identity(ctx, id); err == nil {
			res.Identity = fresh
		}
	}

	res.Token, err = s.tokens.GenerateJWT(id)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "token_error", "sign token", err)
	}
	s.log.Info().Str("identity", id).Bool("signup", created).Msg("signed in")
	return res, nil
}

func errorCode(err error) string {
	var le *ledger.Error
	if errors.As(err, &le) {
		return le.Code
	}
	return "storage_error"
}
