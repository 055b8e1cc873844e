package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SecurityConfig is the single source of the signing secret, issuer
// identity, per-type token TTLs and the lockout policy constants.
type SecurityConfig struct {
	JWTSecret            string
	Issuer               string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	RememberMeRefreshTTL time.Duration
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
	LockoutThreshold     int
	LockoutDuration      time.Duration
}

type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	FromAddress   string
	ResetBaseURL  string
	VerifyBaseURL string
}

// RouteConfig forwards requests whose path starts with Prefix to Upstream.
type RouteConfig struct {
	Prefix   string
	Upstream string
}

// GatewayConfig holds the ordered public-route glob patterns and the
// upstream routing table.
type GatewayConfig struct {
	PublicRoutes []string
	Routes       []RouteConfig
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	SMTP             SMTPConfig
	Gateway          GatewayConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("IDENTITY")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.issuer", "internal-auth-service")
	v.SetDefault("security.accesstokenttl", "30m")
	v.SetDefault("security.refreshtokenttl", "720h")       // 30 days
	v.SetDefault("security.remembermerefreshttl", "1440h") // 60 days
	v.SetDefault("security.passwordresetttl", "1h")
	v.SetDefault("security.emailverificationttl", "24h")
	v.SetDefault("security.lockoutthreshold", 5)
	v.SetDefault("security.lockoutduration", "15m")

	v.SetDefault("smtp.port", 587)

	v.SetDefault("gateway.publicroutes", []string{
		"/api/user/auth/**",
		"/api/healthz",
	})
}
