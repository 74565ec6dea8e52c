// Package server exposes the REST API and the websocket push channel.
package server

import (
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"sai/internal/api"
	"sai/internal/api/middleware"
	"sai/internal/app"
	"sai/internal/metrics"
)

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.AbortWithStatusJSON(429, gin.H{
		"error": "Too many requests. Try again in " + time.Until(info.ResetTime).Round(time.Second).String(),
		"code":  "rate_limited",
	})
}

// rateLimiter limits requests per client ip, shared across replicas when redis is on.
func rateLimiter(a *app.App) gin.HandlerFunc {
	limit := uint(a.Config.Server.RateLimit)
	if limit == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	var store ratelimit.Store
	if a.Rdb != nil {
		store = ratelimit.RedisStore(&ratelimit.RedisOptions{
			RedisClient: a.Rdb,
			Rate:        time.Second,
			Limit:       limit,
		})
	} else {
		store = ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
			Rate:  time.Second,
			Limit: limit,
		})
	}
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})
}

func corsConfig(origins []string) cors.Config {
	conf := cors.Config{
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = origins
	}
	return conf
}

func NewRouter(a *app.App) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery(), RequestLogger(a.Log), metrics.Middleware(a.Metrics))
	router.Use(cors.New(corsConfig(a.Config.Server.AllowedOrigins)))
	router.Use(func(c *gin.Context) {
		c.Set("app", a)
	})
	mw := rateLimiter(a)

	router.GET("/health", api.Health)
	if a.Config.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(a.Metrics.Handler()))
	}
	router.GET("/ws", mw, wsHandler)

	auth := router.Group("/api/auth")
	{
		auth.GET("/nonce/:publicKey", mw, api.Nonce)
		auth.POST("/sign", mw, api.Signin)
	}

	public := router.Group("/api")
	{
		public.GET("/leaderboard", mw, api.GetLeaderboard)
		public.GET("/referrals/ranking", mw, api.GetReferralRanking)
		public.POST("/referrals/validate", mw, api.ValidateReferral)
	}

	users := router.Group("/api").Use(middleware.Auth(a.Tokens))
	{
		users.GET("/user", mw, api.GetUser)
		users.GET("/user-stats", mw, api.GetUserStats)
		users.GET("/daily-points", mw, api.GetDailyPoints)
		users.POST("/node/connect", mw, api.ConnectNode)
		users.POST("/node/disconnect", mw, api.DisconnectNode)
		users.GET("/referrals/info", mw, api.GetReferralInfo)
		users.POST("/referrals/apply", mw, api.ApplyReferral)
		users.POST("/discord/link", mw, api.LinkDiscord)
		users.GET("/discord/status", mw, api.DiscordStatus)
		users.POST("/discord/disconnect", mw, api.UnlinkDiscord)
		users.POST("/discord/reload-role", mw, api.ReloadDiscordRole)
	}
	return router
}
