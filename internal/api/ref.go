package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sai/internal/api/middleware"
	"sai/internal/app"
	"sai/internal/ledger"
)

type referralParams struct {
	ReferralCode string `json:"referralCode" binding:"required"`
}

func GetReferralInfo(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	info, err := app.Ledger.ReferralInfo(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ValidateReferral answers 404 for an unknown code, so the landing page can check a link
// before the visitor signs in.
func ValidateReferral(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	var params referralParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, err)
		return
	}

	err := app.Ledger.ValidateReferralCode(c.Request.Context(), params.ReferralCode)
	if errors.Is(err, ledger.ErrReferralNotFound) {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "referral code not found", "code": "referral_not_found", "valid": false})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func ApplyReferral(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	var params referralParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	id := middleware.Identity(c)

	if err := app.Ledger.RedeemReferral(ctx, id, params.ReferralCode); err != nil {
		respondError(c, err)
		return
	}
	info, err := app.Ledger.ReferralInfo(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func GetReferralRanking(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	ranking, err := app.Projections.ReferralRanking(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": ranking})
}
