package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for panelbot.
type Config struct {
	ServiceName string
	Env         string
	LogLevel    string
	Port        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Discord
	DiscordToken      string
	DiscordGuildIDs   []string // empty registers global commands
	RegisterCommands  bool
	DiscordLogLevel   int
	DiscordStatusText string

	// Panels. Hosts are bare host names, the scheme is fixed to https unless
	// PANEL_SCHEME overrides it (useful for local panels).
	CorePanelHost   string
	PublicPanelHost string
	PanelScheme     string
	PanelUserAgent  string
	PanelTimeout    time.Duration
	PanelRPS        int
	PanelBurst      int

	// Command cooldowns, per user.
	PowerCooldown  time.Duration
	SetKeyCooldown time.Duration
	RemoveCooldown time.Duration
	SweepInterval  time.Duration

	// Credential storage
	DatabaseURL         string
	RedisAddr           string
	RedisDB             int
	RedisPass           string
	CredentialCacheTTL  time.Duration
	CredentialKey       string // base64, 32 bytes decoded
	RunMigrations       bool
	PruneInterval       time.Duration
	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	// Bootstrap secrets
	SecretsSource string // "env" | "aws"
	SecretName    string
	AWSRegion     string
	CacheTTL      time.Duration
	CleanupFreq   time.Duration

	// Events and error reporting
	NATSURL          string
	NATSStream       string
	RabbitMQURL      string
	SentryDSN        string
	SentrySampleRate float64
}

// ErrMissingDiscordToken and ErrMissingCorePanelHost are returned by Validate.
var (
	ErrMissingDiscordToken  = errors.New("DISCORD_TOKEN is not set")
	ErrMissingCorePanelHost = errors.New("CORE_PANEL_HOST is not set")
)

// Load loads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	env := GetEnv("ENV", "dev")

	return &Config{
		ServiceName:         GetEnv("SERVICE_NAME", "panelbot"),
		Env:                 env,
		LogLevel:            GetEnv("LOG_LEVEL", "info"),
		Port:                GetEnvInt("PANELBOT_PORT", 9040),
		HTTPReadTimeout:     GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout:    GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:     GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		DiscordToken:        GetEnv("DISCORD_TOKEN", ""),
		DiscordGuildIDs:     GetEnvList("DISCORD_GUILD_IDS"),
		RegisterCommands:    GetEnvBool("DISCORD_REGISTER_COMMANDS", true),
		DiscordLogLevel:     GetEnvInt("DISCORD_LOG_LEVEL", 1),
		DiscordStatusText:   GetEnv("DISCORD_STATUS", "🔧 Managing servers"),
		CorePanelHost:       GetEnv("CORE_PANEL_HOST", ""),
		PublicPanelHost:     GetEnv("PUBLIC_PANEL_HOST", ""),
		PanelScheme:         GetEnv("PANEL_SCHEME", "https"),
		PanelUserAgent:      GetEnv("PANEL_USER_AGENT", "panelbot"),
		PanelTimeout:        GetEnvDuration("PANEL_TIMEOUT", 10*time.Second),
		PanelRPS:            GetEnvInt("PANEL_RPS", 4),
		PanelBurst:          GetEnvInt("PANEL_BURST", 8),
		PowerCooldown:       GetEnvDuration("POWER_COOLDOWN", 5*time.Second),
		SetKeyCooldown:      GetEnvDuration("SET_KEY_COOLDOWN", 10*time.Second),
		RemoveCooldown:      GetEnvDuration("REMOVE_KEY_COOLDOWN", 60*time.Second),
		SweepInterval:       GetEnvDuration("COOLDOWN_SWEEP_INTERVAL", 10*time.Minute),
		DatabaseURL:         GetEnv("DATABASE_URL", ""),
		RedisAddr:           GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             GetEnvInt("REDIS_DB", 0),
		RedisPass:           GetEnv("REDIS_PASS", ""),
		CredentialCacheTTL:  GetEnvDuration("CREDENTIAL_CACHE_TTL", 10*time.Minute),
		CredentialKey:       GetEnv("CREDENTIAL_KEY", ""),
		RunMigrations:       GetEnvBool("RUN_MIGRATIONS", true),
		PruneInterval:       GetEnvDuration("PRUNE_INTERVAL", 24*time.Hour),
		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),
		SecretsSource:       GetEnv("SECRETS_SOURCE", "env"),
		SecretName:          GetEnv("SECRET_NAME", env+"/panelbot/bot"),
		AWSRegion:           GetEnv("AWS_REGION", "us-east-2"),
		CacheTTL:            GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq:         GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),
		NATSURL:             GetEnv("NATS_URL", ""),
		NATSStream:          GetEnv("NATS_STREAM", "PANELBOT_EVENTS"),
		RabbitMQURL:         GetEnv("RABBITMQ_URL", ""),
		SentryDSN:           GetEnv("SENTRY_DSN", ""),
		SentrySampleRate:    float64(GetEnvInt("SENTRY_SAMPLE_PERCENT", 100)) / 100,
	}
}

// Validate reports configuration that makes the bot unable to start.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrMissingDiscordToken
	}
	if c.CorePanelHost == "" {
		return ErrMissingCorePanelHost
	}
	return nil
}
