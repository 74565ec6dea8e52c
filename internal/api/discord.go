package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sai/internal/api/middleware"
	"sai/internal/app"
	"sai/internal/ledger"
)

type discordLinkParams struct {
	DiscordId string `json:"discordId" binding:"required"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
}

func LinkDiscord(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	var params discordLinkParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	id := middleware.Identity(c)

	err := app.Ledger.LinkExternalAccount(ctx, id, ledger.ExternalAccount{
		Id:       params.DiscordId,
		Username: params.Username,
		Avatar:   params.Avatar,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	status, err := app.Ledger.LinkStatus(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func DiscordStatus(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	status, err := app.Ledger.LinkStatus(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func UnlinkDiscord(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	if err := app.Ledger.UnlinkExternalAccount(c.Request.Context(), middleware.Identity(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.LinkStatus{})
}

func ReloadDiscordRole(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	if err := app.Ledger.RequestRoleSync(c.Request.Context(), middleware.Identity(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}
