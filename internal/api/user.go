package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sai/internal/api/middleware"
	"sai/internal/app"
	"sai/internal/store"
)

// IdentityView is the profile part of an identity. Daily counters are served by the
// stats endpoint, which rolls them over at midnight.
type IdentityView struct {
	PublicKey        string    `json:"publicKey"`
	ReferralCode     string    `json:"referralCode"`
	ReferralLink     string    `json:"referralLink"`
	ReferralsCount   int64     `json:"referralsCount"`
	TotalPoints      int64     `json:"totalPoints"`
	CurrentTier      string    `json:"currentTier"`
	UsedReferralCode *string   `json:"usedReferralCode"`
	IsNodeConnected  bool      `json:"isNodeConnected"`
	DiscordLinked    bool      `json:"discordLinked"`
	CreatedAt        time.Time `json:"createdAt"`
}

func newIdentityView(ident *store.Identity) IdentityView {
	return IdentityView{
		PublicKey:        ident.Id,
		ReferralCode:     ident.ReferralCode,
		ReferralLink:     ident.ReferralLink,
		ReferralsCount:   ident.ReferralsCount,
		TotalPoints:      ident.TotalPoints,
		CurrentTier:      ident.CurrentTier,
		UsedReferralCode: ident.UsedReferralCode,
		IsNodeConnected:  ident.IsNodeConnected,
		DiscordLinked:    ident.ExternalAccountId != nil,
		CreatedAt:        ident.CreatedAt,
	}
}

func GetUser(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	ident, err := app.Ledger.Identity(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIdentityView(ident))
}

func GetUserStats(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	snap, err := app.Ledger.Snapshot(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func GetDailyPoints(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	series, err := app.Ledger.DailySeries(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dailyPoints": series})
}
