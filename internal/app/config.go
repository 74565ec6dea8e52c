package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "SAI"

type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"required|uint|min:1|max:65535"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" validate:"required|min:1"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" validate:"required|min:1"`
	IdleTimeout     time.Duration `mapstructure:"idleTimeout" validate:"required|min:1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" validate:"required|min:1"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	// RateLimit is the number of requests per second allowed per client ip; 0 disables it.
	RateLimit  int  `mapstructure:"rateLimit" validate:"min:0"`
	WsOutbox   int  `mapstructure:"wsOutbox" validate:"required|min:1"`
	PushQueue  int  `mapstructure:"pushQueue" validate:"required|min:1"`
	DebugRoute bool `mapstructure:"debugRoute"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required|in:postgres,mysql,memory"`
	Dsn             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns" validate:"min:0"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns" validate:"min:0"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	AutoMigrate     bool          `mapstructure:"autoMigrate"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Db       int    `mapstructure:"db" validate:"min:0"`
}

type AuthConfig struct {
	JwtSecret string        `mapstructure:"jwtSecret" validate:"required|minLen:16"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
	NonceTTL  time.Duration `mapstructure:"nonceTTL" validate:"required|min:1"`
	Wallet    string        `mapstructure:"wallet" validate:"required|in:solana,evm"`
	Domain    string        `mapstructure:"domain" validate:"required"`
	Uri       string        `mapstructure:"uri" validate:"required"`
	Statement string        `mapstructure:"statement" validate:"required"`
	ChainId   int           `mapstructure:"chainId" validate:"min:0"`
}

type LedgerConfig struct {
	TickInterval           time.Duration `mapstructure:"tickInterval" validate:"required|min:1"`
	PointsPerHour          int64         `mapstructure:"pointsPerHour" validate:"required|min:1"`
	ReferralBonus          int64         `mapstructure:"referralBonus" validate:"min:0"`
	SeriesDays             int           `mapstructure:"seriesDays" validate:"required|min:1"`
	ReferralLinkBase       string        `mapstructure:"referralLinkBase" validate:"required"`
	LeaderboardLimit       int           `mapstructure:"leaderboardLimit" validate:"required|min:1"`
	ClearStaleNodesOnStart bool          `mapstructure:"clearStaleNodesOnStart"`
}

type DiscordConfig struct {
	ApiBase   string            `mapstructure:"apiBase"`
	Token     string            `mapstructure:"token"`
	GuildId   string            `mapstructure:"guildId"`
	TierRoles map[string]string `mapstructure:"tierRoles"`
}

type RolesConfig struct {
	Dispatcher string        `mapstructure:"dispatcher" validate:"required|in:pool,asynq,none"`
	Workers    int           `mapstructure:"workers" validate:"required|min:1"`
	QueueSize  int           `mapstructure:"queueSize" validate:"required|min:1"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"required|min:1"`
	Discord    DiscordConfig `mapstructure:"discord"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatId  int64  `mapstructure:"chatId"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Format string `mapstructure:"format" validate:"required|in:console,json"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	SizeMB  int           `mapstructure:"sizeMB" validate:"min:0"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Roles    RolesConfig    `mapstructure:"roles"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Path     string         `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.rateLimit", 20)
	v.SetDefault("server.wsOutbox", 64)
	v.SetDefault("server.pushQueue", 1024)
	v.SetDefault("server.debugRoute", false)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")
	v.SetDefault("database.autoMigrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", "168h")
	v.SetDefault("auth.nonceTTL", "5m")
	v.SetDefault("auth.wallet", "solana")
	v.SetDefault("auth.domain", "sailabs.xyz")
	v.SetDefault("auth.uri", "https://sailabs.xyz")
	v.SetDefault("auth.statement", "Sign in to SAI Labs")
	v.SetDefault("auth.chainId", 1)

	v.SetDefault("ledger.tickInterval", "5s")
	v.SetDefault("ledger.pointsPerHour", 10)
	v.SetDefault("ledger.referralBonus", 50)
	v.SetDefault("ledger.seriesDays", 14)
	v.SetDefault("ledger.referralLinkBase", "https://sailabs.xyz/ref")
	v.SetDefault("ledger.leaderboardLimit", 100)
	v.SetDefault("ledger.clearStaleNodesOnStart", true)

	v.SetDefault("roles.dispatcher", "pool")
	v.SetDefault("roles.workers", 4)
	v.SetDefault("roles.queueSize", 256)
	v.SetDefault("roles.timeout", "15s")
	v.SetDefault("roles.discord.apiBase", "")
	v.SetDefault("roles.discord.token", "")
	v.SetDefault("roles.discord.guildId", "")
	v.SetDefault("roles.discord.tierRoles", map[string]string{})

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chatId", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.sizeMB", 16)
	v.SetDefault("cache.ttl", "5s")
}

// LoadConfig reads .env files, then the yaml file at path (or config/config.yaml when path
// is empty and the file exists), then SAI_ prefixed environment variables.
func LoadConfig(path string) (*Config, error) {
	loadEnv()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	conf.Path = v.ConfigFileUsed()

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks every section and the rules that span sections.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		data interface{}
	}{
		{"server", &c.Server},
		{"database", &c.Database},
		{"redis", &c.Redis},
		{"auth", &c.Auth},
		{"ledger", &c.Ledger},
		{"roles", &c.Roles},
		{"telegram", &c.Telegram},
		{"logger", &c.Logger},
		{"cache", &c.Cache},
	}
	for _, s := range sections {
		v := validate.Struct(s.data)
		if !v.Validate() {
			return fmt.Errorf("invalid %s config: %w", s.name, v.Errors)
		}
	}

	if c.Database.Driver != "memory" && c.Database.Dsn == "" {
		return fmt.Errorf("invalid database config: dsn is required for driver %s", c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("invalid redis config: addr is required when enabled")
	}
	if c.Roles.Dispatcher == "asynq" && !c.Redis.Enabled {
		return errors.New("invalid roles config: the asynq dispatcher needs redis")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatId == 0) {
		return errors.New("invalid telegram config: token and chatId are required when enabled")
	}
	return nil
}

func loadEnv() {
	env := os.Getenv("APP_ENV")
	if "" == env {
		env = "development"
	}

	_ = godotenv.Load(".env." + env + ".local")

	if "test" != env {
		_ = godotenv.Load(".env.local")
	}
	_ = godotenv.Load(".env." + env)
	_ = godotenv.Load()
}
