package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMalformedToken = errors.New("malformed token")

type JWTClaim struct {
	PublicKey string `json:"public_key"`
	jwt.RegisteredClaims
}

// Manager signs and checks HS256 bearer tokens for wallet identities.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (m *Manager) GenerateJWT(publicKey string) (token string, err error) {
	now := m.now()
	claims := JWTClaim{
		PublicKey: publicKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  publicKey,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	resToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := resToken.SignedString(m.secret)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (m *Manager) ValidateToken(signedToken string) (publicKey string, err error) {
	token, err := jwt.ParseWithClaims(signedToken, &JWTClaim{},
		func(t *jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*JWTClaim)
	if !ok {
		return "", errors.New("error parsing claims")
	}
	if claims.PublicKey == "" {
		return "", ErrMalformedToken
	}
	return claims.PublicKey, nil
}
