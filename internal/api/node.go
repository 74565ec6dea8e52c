package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sai/internal/api/middleware"
	"sai/internal/app"
	"sai/internal/ledger"
)

// ConnectNode starts accrual for the caller and returns the current snapshot.
func ConnectNode(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	id := middleware.Identity(c)
	ctx := c.Request.Context()

	if err := app.Engine.Connect(ctx, id, ledger.ApiHolder); err != nil {
		respondError(c, err)
		return
	}
	snap, err := app.Ledger.Snapshot(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DisconnectNode stops accrual for the caller, including nodes started over websocket.
func DisconnectNode(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	id := middleware.Identity(c)
	ctx := c.Request.Context()

	if err := app.Engine.Disconnect(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	snap, err := app.Ledger.Snapshot(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
