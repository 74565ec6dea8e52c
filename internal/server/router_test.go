package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sai/internal/app"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("SAI_AUTH_JWTSECRET", testSecret)
	t.Setenv("SAI_SERVER_RATELIMIT", "0")
	conf, err := app.LoadConfig("")
	require.NoError(t, err)

	a, err := app.Init(conf, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Engine.Shutdown(context.Background())
		a.Close()
	})
	return a
}

// login creates id and returns a bearer token for it.
func login(t *testing.T, a *app.App, id string) string {
	t.Helper()
	_, _, err := a.Ledger.EnsureIdentity(context.Background(), id)
	require.NoError(t, err)
	token, err := a.Tokens.GenerateJWT(id)
	require.NoError(t, err)
	return token
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func TestSignInFlow(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk := base58.Encode(pub)

	code, body := do(t, router, http.MethodGet, "/api/auth/nonce/"+pk, "", nil)
	require.Equal(t, http.StatusOK, code)
	message, _ := body["message"].(string)
	require.NotEmpty(t, message)

	code, body = do(t, router, http.MethodPost, "/api/auth/sign", "", gin.H{
		"publicKey":    pk,
		"message":      message,
		"signature":    base58.Encode(ed25519.Sign(priv, []byte(message))),
		"referralCode": "NOPE1234",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isSignup"])
	assert.Equal(t, "referral_not_found", body["referralError"])
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	code, body = do(t, router, http.MethodGet, "/api/user", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, pk, body["publicKey"])
	assert.Equal(t, "None", body["currentTier"])
}

func TestSignInRejectsReplayedNonce(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk := base58.Encode(pub)

	_, body := do(t, router, http.MethodGet, "/api/auth/nonce/"+pk, "", nil)
	message := body["message"].(string)
	params := gin.H{
		"publicKey": pk,
		"message":   message,
		"signature": base58.Encode(ed25519.Sign(priv, []byte(message))),
	}
	code, _ := do(t, router, http.MethodPost, "/api/auth/sign", "", params)
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, router, http.MethodPost, "/api/auth/sign", "", params)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "nonce_expired", body["code"])
}

func TestBadRequests(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	code, body := do(t, router, http.MethodGet, "/api/auth/nonce/not-a-key", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_public_key", body["code"])

	code, body = do(t, router, http.MethodPost, "/api/auth/sign", "", gin.H{"publicKey": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["code"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	for _, path := range []string{"/api/user", "/api/user-stats", "/api/daily-points", "/api/referrals/info", "/api/discord/status"} {
		code, body := do(t, router, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
		assert.Equal(t, "unauthorized", body["code"], path)

		code, _ = do(t, router, http.MethodGet, path, "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
	}
}

func TestTokenForUnknownIdentity(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	token, err := a.Tokens.GenerateJWT("ghost")
	require.NoError(t, err)
	code, body := do(t, router, http.MethodGet, "/api/user-stats", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "identity_not_found", body["code"])
}

func TestStatsAndNode(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)
	token := login(t, a, "wallet-a")

	code, body := do(t, router, http.MethodGet, "/api/user-stats", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "wallet-a", body["identityId"])
	assert.EqualValues(t, 0, body["totalPoints"])

	code, body = do(t, router, http.MethodGet, "/api/daily-points", token, nil)
	require.Equal(t, http.StatusOK, code)
	series, _ := body["dailyPoints"].([]interface{})
	assert.Len(t, series, a.Config.Ledger.SeriesDays)

	code, _ = do(t, router, http.MethodPost, "/api/node/connect", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, a.Engine.Sessions().Running("wallet-a"))

	_, body = do(t, router, http.MethodGet, "/api/user", token, nil)
	assert.Equal(t, true, body["isNodeConnected"])

	code, _ = do(t, router, http.MethodPost, "/api/node/disconnect", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, a.Engine.Sessions().Running("wallet-a"))

	_, body = do(t, router, http.MethodGet, "/api/user", token, nil)
	assert.Equal(t, false, body["isNodeConnected"])
}

func TestReferralEndpoints(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)
	referrerToken := login(t, a, "referrer")
	refereeToken := login(t, a, "referee")

	_, info := do(t, router, http.MethodGet, "/api/referrals/info", referrerToken, nil)
	referralCode, _ := info["referralCode"].(string)
	require.NotEmpty(t, referralCode)

	code, body := do(t, router, http.MethodPost, "/api/referrals/validate", "", gin.H{"referralCode": referralCode})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["valid"])

	code, body = do(t, router, http.MethodPost, "/api/referrals/validate", "", gin.H{"referralCode": "UNKNOWN1"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "referral_not_found", body["code"])

	code, body = do(t, router, http.MethodPost, "/api/referrals/apply", referrerToken, gin.H{"referralCode": referralCode})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "self_referral", body["code"])

	code, body = do(t, router, http.MethodPost, "/api/referrals/apply", refereeToken, gin.H{"referralCode": referralCode})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, referralCode, body["usedReferralCode"])

	code, body = do(t, router, http.MethodPost, "/api/referrals/apply", refereeToken, gin.H{"referralCode": referralCode})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "referral_already_used", body["code"])

	_, info = do(t, router, http.MethodGet, "/api/referrals/info", referrerToken, nil)
	assert.EqualValues(t, 1, info["referralsCount"])

	_, stats := do(t, router, http.MethodGet, "/api/user-stats", referrerToken, nil)
	assert.EqualValues(t, a.Config.Ledger.ReferralBonus, stats["totalPoints"])

	code, body = do(t, router, http.MethodGet, "/api/referrals/ranking", "", nil)
	require.Equal(t, http.StatusOK, code)
	ranking, _ := body["ranking"].([]interface{})
	require.NotEmpty(t, ranking)
	assert.Equal(t, "referrer", ranking[0].(map[string]interface{})["identityId"])

	code, body = do(t, router, http.MethodGet, "/api/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, code)
	board, _ := body["leaderboard"].([]interface{})
	require.NotEmpty(t, board)
	assert.Equal(t, "referrer", board[0].(map[string]interface{})["identityId"])
}

func TestDiscordEndpoints(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)
	token := login(t, a, "wallet-d")
	other := login(t, a, "wallet-e")

	code, body := do(t, router, http.MethodPost, "/api/discord/reload-role", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "external_account_not_linked", body["code"])

	code, body = do(t, router, http.MethodPost, "/api/discord/link", token, gin.H{"discordId": "1234", "username": "sai"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isLinked"])
	assert.Equal(t, "sai", body["username"])

	code, body = do(t, router, http.MethodPost, "/api/discord/link", other, gin.H{"discordId": "1234"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "external_account_taken", body["code"])

	code, body = do(t, router, http.MethodPost, "/api/discord/reload-role", token, nil)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "scheduled", body["status"])

	code, _ = do(t, router, http.MethodPost, "/api/discord/disconnect", token, nil)
	require.Equal(t, http.StatusOK, code)
	_, body = do(t, router, http.MethodGet, "/api/discord/status", token, nil)
	assert.Equal(t, false, body["isLinked"])
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	code, body := do(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sai_requests_total")
}

func TestRateLimit(t *testing.T) {
	a := newTestApp(t)
	a.Config.Server.RateLimit = 1
	router := NewRouter(a)

	code, _ := do(t, router, http.MethodGet, "/api/leaderboard", "", nil)
	assert.Equal(t, http.StatusOK, code)
	// The window may roll over once between requests, never twice.
	limited := false
	for i := 0; i < 2; i++ {
		code, body := do(t, router, http.MethodGet, "/api/leaderboard", "", nil)
		if code == http.StatusTooManyRequests {
			assert.Equal(t, "rate_limited", body["code"])
			limited = true
		}
	}
	assert.True(t, limited)
}

func TestCorsConfig(t *testing.T) {
	assert.True(t, corsConfig([]string{"*"}).AllowAllOrigins)
	assert.True(t, corsConfig(nil).AllowAllOrigins)

	conf := corsConfig([]string{"https://sailabs.xyz"})
	assert.False(t, conf.AllowAllOrigins)
	assert.Equal(t, []string{"https://sailabs.xyz"}, conf.AllowOrigins)
}
