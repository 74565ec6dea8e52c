package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sai/internal/app"
	"sai/internal/auth"
)

type signinParams struct {
	PublicKey    string `json:"publicKey" binding:"required"`
	Message      string `json:"message" binding:"required"`
	Signature    string `json:"signature" binding:"required"`
	ReferralCode string `json:"referralCode"`
}

// Nonce issues a one-time challenge for the wallet; it expires after auth.nonceTTL.
func Nonce(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	challenge, err := app.Auth.Challenge(c.Request.Context(), c.Param("publicKey"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// Signin verifies the signed challenge and returns a bearer token. A rejected referral
// code is reported in referralError and does not fail the sign-in.
func Signin(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	var signinP signinParams
	if err := c.ShouldBindJSON(&signinP); err != nil {
		badRequest(c, err)
		return
	}

	res, err := app.Auth.SignIn(c.Request.Context(), auth.SignInRequest{
		PublicKey:    signinP.PublicKey,
		Message:      signinP.Message,
		Signature:    signinP.Signature,
		ReferralCode: signinP.ReferralCode,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{
		"token":    res.Token,
		"identity": newIdentityView(res.Identity),
		"isSignup": res.IsSignup,
	}
	if res.ReferralError != "" {
		body["referralError"] = res.ReferralError
	}
	c.JSON(http.StatusOK, body)
}
