// Package app wires configuration, storage, transports and the ledger into one container
// shared by the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sai/internal/api/jwt"
	"sai/internal/auth"
	"sai/internal/cache"
	"sai/internal/ledger"
	"sai/internal/metrics"
	"sai/internal/notify"
	"sai/internal/roles"
	"sai/internal/store"
	"sai/internal/store/gormstore"
	"sai/internal/store/memstore"
	"sai/internal/telegram"
	"sai/internal/worker"
)

type App struct {
	Config      *Config
	Log         zerolog.Logger
	Db          *gorm.DB
	Rdb         *redis.Client
	Aqc         *asynq.Client
	Store       store.Store
	Cache       cache.Provider
	Metrics     metrics.Provider
	Ledger      *ledger.Ledger
	Engine      *ledger.Engine
	Reset       *ledger.DailyReset
	Projections *ledger.Projections
	Hub         *notify.Hub
	// Bridge is nil when redis is disabled; pushes then go straight to Hub.
	Bridge *notify.RedisBridge
	Auth   *auth.Service
	Tokens *jwt.Manager
	// Assigner is nil when no discord bot is configured.
	Assigner roles.Assigner
	// Telegram is nil unless telegram alerts are enabled.
	Telegram *telegram.Bot

	pool *worker.Pool
}

func Init(conf *Config, log zerolog.Logger) (*App, error) {
	conf.Ledger.ReferralLinkBase = RemoveTrailingSlash(conf.Ledger.ReferralLinkBase)
	conf.Roles.Discord.ApiBase = RemoveTrailingSlash(conf.Roles.Discord.ApiBase)

	app := &App{
		Config:  conf,
		Log:     log,
		Metrics: metrics.New(conf.Metrics.Enabled),
	}

	if conf.Redis.Enabled {
		rdb, err := setupRedis(conf.Redis)
		if err != nil {
			return nil, err
		}
		app.Rdb = rdb
	}

	st, db, err := setupStore(conf.Database, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store, app.Db = st, db

	app.Cache = cache.New(cache.Config{Enabled: conf.Cache.Enabled, SizeMB: conf.Cache.SizeMB, TTL: conf.Cache.TTL}, log)
	app.pool = worker.NewPool(conf.Roles.Workers, conf.Roles.QueueSize, log)

	app.Hub = notify.NewHub(conf.Server.WsOutbox, app.Metrics, log)
	var notifier ledger.Notifier = app.Hub
	if app.Rdb != nil {
		app.Bridge = notify.NewRedisBridge(app.Rdb, app.Hub, conf.Server.PushQueue, app.Metrics, log)
		notifier = app.Bridge
	}

	app.Assigner = setupAssigner(conf.Roles, log)
	syncer, err := app.setupRoleSyncer()
	if err != nil {
		app.Close()
		return nil, err
	}

	var alerts ledger.Alerter
	if conf.Telegram.Enabled {
		bot, err := telegram.NewBot(conf.Telegram.Token, conf.Telegram.ChatId, app.pool, log)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		app.Telegram = bot
		alerts = bot
	}

	app.Projections = ledger.NewProjections(st, app.Cache, conf.Ledger.LeaderboardLimit, log)
	app.Ledger = ledger.New(ledger.Config{
		TickInterval:     conf.Ledger.TickInterval,
		PointsPerHour:    conf.Ledger.PointsPerHour,
		ReferralBonus:    conf.Ledger.ReferralBonus,
		SeriesDays:       conf.Ledger.SeriesDays,
		ReferralLinkBase: conf.Ledger.ReferralLinkBase,
	}, ledger.Deps{
		Store:    st,
		Notifier: notifier,
		Roles:    syncer,
		Alerts:   alerts,
		Cache:    app.Projections,
		Metrics:  app.Metrics,
		Logger:   log,
	})
	app.Engine = ledger.NewEngine(app.Ledger, ledger.NewSessionTable())
	app.Reset = ledger.NewDailyReset(app.Ledger)

	app.Tokens = jwt.NewManager(conf.Auth.JwtSecret, conf.Auth.TokenTTL)
	app.Auth = auth.NewService(setupVerifier(conf.Auth), app.setupNonces(), app.Ledger, app.Tokens, conf.Auth.NonceTTL, log)

	app.Metrics.GaugeFunc("sai_ws_sessions", "Open websocket sessions", func() float64 {
		return float64(app.Hub.Count())
	})

	log.Info().
		Str("database", conf.Database.Driver).
		Bool("redis", app.Rdb != nil).
		Str("roles", conf.Roles.Dispatcher).
		Str("wallet", conf.Auth.Wallet).
		Str("jwt_secret", maskSecret(conf.Auth.JwtSecret)).
		Msg("app initialized")
	return app, nil
}

// Close releases connections. Safe on a partially initialized App.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool.Wait()
	}
	if a.Aqc != nil {
		_ = a.Aqc.Close()
	}
	if a.Rdb != nil {
		_ = a.Rdb.Close()
	}
	if a.Db != nil {
		if sqlDB, err := a.Db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func setupRedis(conf RedisConfig) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.Db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("redis %s: %w", conf.Addr, err)
	}
	return redisClient, nil
}

func redisOpt(conf RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.Db,
	}
}

func dialector(conf DatabaseConfig) (gorm.Dialector, error) {
	switch conf.Driver {
	case "postgres":
		return postgres.Open(conf.Dsn), nil
	case "mysql":
		return mysql.Open(conf.Dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", conf.Driver)
}

func setupStore(conf DatabaseConfig, log zerolog.Logger) (store.Store, *gorm.DB, error) {
	if conf.Driver == "memory" {
		log.Warn().Msg("using the in-memory store, data is lost on exit")
		return memstore.New(), nil, nil
	}

	dial, err := dialector(conf)
	if err != nil {
		return nil, nil, err
	}
	db, err := gorm.Open(dial, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to the db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(conf.MaxOpenConns)
	sqlDB.SetMaxIdleConns(conf.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(conf.ConnMaxLifetime)

	st := gormstore.New(db)
	if conf.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := st.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return st, db, nil
}

func setupAssigner(conf RolesConfig, log zerolog.Logger) roles.Assigner {
	if conf.Discord.Token == "" || conf.Discord.GuildId == "" {
		return nil
	}
	return roles.NewDiscord(roles.DiscordConfig{
		ApiBase:   conf.Discord.ApiBase,
		Token:     conf.Discord.Token,
		GuildId:   conf.Discord.GuildId,
		TierRoles: conf.Discord.TierRoles,
		Timeout:   conf.Timeout,
	}, log)
}

func (a *App) setupRoleSyncer() (ledger.RoleSyncer, error) {
	conf := a.Config.Roles
	switch conf.Dispatcher {
	case "asynq":
		if a.Rdb == nil {
			return nil, errors.New("asynq role dispatcher needs redis")
		}
		a.Aqc = asynq.NewClient(redisOpt(a.Config.Redis))
		return roles.NewAsynqDispatcher(a.pool, a.Aqc, a.Metrics, a.Log), nil
	case "pool":
		if a.Assigner == nil {
			a.Log.Warn().Msg("no discord bot configured, role sync disabled")
			return roles.Noop{}, nil
		}
		return roles.NewPoolDispatcher(a.pool, a.Assigner, conf.Timeout, a.Metrics, a.Log), nil
	}
	return roles.Noop{}, nil
}

// NewWorkerServer builds the asynq server that consumes role sync tasks.
func (a *App) NewWorkerServer() (*asynq.Server, *asynq.ServeMux, error) {
	if !a.Config.Redis.Enabled {
		return nil, nil, errors.New("the worker needs redis")
	}
	if a.Assigner == nil {
		return nil, nil, errors.New("the worker needs roles.discord.token and roles.discord.guildId")
	}
	srv := asynq.NewServer(redisOpt(a.Config.Redis), asynq.Config{
		Concurrency: a.Config.Roles.Workers,
		Queues: map[string]int{
			roles.QueueRoles: 1,
		},
	})
	mux := asynq.NewServeMux()
	roles.NewTaskHandler(a.Assigner, a.Metrics, a.Log).Register(mux)
	return srv, mux, nil
}

func setupVerifier(conf AuthConfig) auth.Verifier {
	if conf.Wallet == auth.KindEVM {
		return auth.NewEVM(conf.Domain, conf.Uri, conf.Statement, conf.ChainId)
	}
	return auth.NewSolana(conf.Statement)
}

// setupNonces keeps nonces in redis when available so any replica can finish a sign-in.
func (a *App) setupNonces() auth.NonceStore {
	if a.Rdb != nil {
		return auth.NewRedisNonces(a.Rdb)
	}
	return auth.NewCacheNonces(cache.New(cache.Config{Enabled: true, SizeMB: 1, TTL: a.Config.Auth.NonceTTL}, a.Log))
}
