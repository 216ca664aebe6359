package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Rewards   RewardConfig
	RateLimit RateLimitConfig
	Jobs      JobConfig
	Bot       BotConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	OutboxKey string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines the admin-console authentication parameters. The
// webhook token authenticates the transport adapter.
type AuthConfig struct {
	WebhookToken          string
	JWTSecret             string
	AccessTokenTTLMinutes int
	AdminPasswordHash     string
}

// RewardConfig holds the gamification amounts. All are expressed as
// xp/coin pairs credited atomically.
type RewardConfig struct {
	RegistrationXP    int64
	RegistrationCoins int64
	DeliveryXP        int64
	DeliveryCoins     int64
	RatingBonusXP     int64
	RatingBonusCoins  int64
	RatingThreshold   int
	LevelUpThreshold  int64
}

// RateLimitConfig bounds inbound events per user.
type RateLimitConfig struct {
	MaxEvents int
	Window    time.Duration
}

// JobConfig carries the cron expressions and batch thresholds for the
// background jobs.
type JobConfig struct {
	LeaderboardResetSpec string
	AdminDigestSpec      string
	StaleSweepSpec       string
	StaleAfter           time.Duration
	OnboardingRetention  time.Duration
}

// BotConfig describes the deployment's conversational surface.
type BotConfig struct {
	AdminIDs  []int64
	Campuses  []string
	Languages []string
}

// Load reads configuration from environment variables, applying defaults
// where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	adminIDs, err := getEnvAsInt64List("ADMIN_IDS")
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "campus-delivery-core"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			OutboxKey: getEnv("REDIS_OUTBOX_KEY", "delivery:outbox"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			WebhookToken:          getEnv("WEBHOOK_TOKEN", "dev-webhook-token"),
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			AdminPasswordHash:     os.Getenv("ADMIN_PASSWORD_HASH"),
		},
		Rewards: RewardConfig{
			RegistrationXP:    getEnvAsInt64("REWARD_REGISTRATION_XP", 50),
			RegistrationCoins: getEnvAsInt64("REWARD_REGISTRATION_COINS", 10),
			DeliveryXP:        getEnvAsInt64("REWARD_DELIVERY_XP", 50),
			DeliveryCoins:     getEnvAsInt64("REWARD_DELIVERY_COINS", 10),
			RatingBonusXP:     getEnvAsInt64("REWARD_RATING_BONUS_XP", 20),
			RatingBonusCoins:  getEnvAsInt64("REWARD_RATING_BONUS_COINS", 5),
			RatingThreshold:   getEnvAsInt("REWARD_RATING_THRESHOLD", 5),
			LevelUpThreshold:  getEnvAsInt64("XP_FOR_LEVEL_UP", 100),
		},
		RateLimit: RateLimitConfig{
			MaxEvents: getEnvAsInt("RATE_LIMIT_MAX_EVENTS", 3),
			Window:    time.Duration(getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 2)) * time.Second,
		},
		Jobs: JobConfig{
			LeaderboardResetSpec: getEnv("JOB_LEADERBOARD_RESET_SPEC", "0 0 * * *"),
			AdminDigestSpec:      getEnv("JOB_ADMIN_DIGEST_SPEC", "0 23 * * *"),
			StaleSweepSpec:       getEnv("JOB_STALE_SWEEP_SPEC", "0 */6 * * *"),
			StaleAfter:           time.Duration(getEnvAsInt("STALE_AFTER_DAYS", 30)) * 24 * time.Hour,
			OnboardingRetention:  time.Duration(getEnvAsInt("ONBOARDING_RETENTION_HOURS", 48)) * time.Hour,
		},
		Bot: BotConfig{
			AdminIDs:  adminIDs,
			Campuses:  getEnvAsList("CAMPUSES", []string{"4kilo", "5kilo", "6kilo"}),
			Languages: getEnvAsList("LANGUAGES", []string{"en", "am"}),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// IsAdmin reports whether the id is in the configured administrator list.
func (b BotConfig) IsAdmin(id int64) bool {
	for _, admin := range b.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

// HasCampus reports whether the campus choice is one of the configured set.
func (b BotConfig) HasCampus(campus string) bool {
	for _, c := range b.Campuses {
		if strings.EqualFold(c, campus) {
			return true
		}
	}
	return false
}

// HasLanguage reports whether the language code is supported.
func (b BotConfig) HasLanguage(lang string) bool {
	for _, l := range b.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsInt64(key string, fallback int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvAsInt64List(key string) ([]int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		id, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
