package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sai/internal/app"
)

func GetLeaderboard(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	entries, err := app.Projections.Leaderboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func Health(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	status := gin.H{"status": "ok", "nodes": app.Engine.Sessions().Len(), "sessions": app.Hub.Count()}
	if app.Db != nil {
		if sqlDB, err := app.Db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
	}
	if app.Rdb != nil {
		if err := app.Rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, status)
}
