package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("secret", time.Hour)

	token, err := m.GenerateJWT("wallet-1")
	require.NoError(t, err)

	publicKey, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "wallet-1", publicKey)
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	token, err := NewManager("secret", time.Hour).GenerateJWT("wallet-1")
	require.NoError(t, err)

	_, err = NewManager("other", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	m := NewManager("secret", time.Minute)
	issued := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.GenerateJWT("wallet-1")
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateRejectsOtherAlgorithm(t *testing.T) {
	claims := JWTClaim{PublicKey: "wallet-1"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewManager("secret", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsEmptyPublicKey(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaim{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewManager("secret", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrMalformedToken)
}
