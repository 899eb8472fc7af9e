package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Log        LogConfig
	Scheduling SchedulingConfig
	Planner    PlannerConfig
	Catalog    CatalogConfig
	Backfill   BackfillConfig
	Notify     NotifyConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulingConfig carries the knobs of the scheduling core.
type SchedulingConfig struct {
	// BufferMinutes is appended after every session before overlap checks.
	BufferMinutes int
	// BusinessTimezone is the zone all recurrence math is evaluated in.
	BusinessTimezone string
	// RecurrenceEpoch anchors the week-interval formula (YYYY-MM-DD).
	RecurrenceEpoch string
	// MaxTokenValue caps per-course priority tokens.
	MaxTokenValue int
	HolidayTTL    time.Duration
}

// PlannerConfig governs the nightly pre-scheduling run.
type PlannerConfig struct {
	Enabled bool
	// HorizonDays are the look-ahead offsets candidates are generated for.
	HorizonDays   []int
	CronSpec      string
	SweepInterval time.Duration
}

// CatalogConfig tunes the course/subject read-through cache.
type CatalogConfig struct {
	CacheTTL time.Duration
}

// BackfillConfig tunes replacement-class creation.
type BackfillConfig struct {
	// MinTrialSlack is the number of same-day open trial slots below which
	// a backup trial class is created.
	MinTrialSlack int
	// RegularLookaheadDays caps how far ahead a regular backup is tried.
	RegularLookaheadDays int
	// SweepHorizonDays is how far ahead the periodic sweep scans for full
	// classes.
	SweepHorizonDays     int
	BusinessDayStartHour int
	BusinessDayEndHour   int
}

// NotifyConfig sizes the fire-and-log notification queue.
type NotifyConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduling = SchedulingConfig{
		BufferMinutes:    v.GetInt("SCHEDULING_BUFFER_MINUTES"),
		BusinessTimezone: v.GetString("SCHEDULING_BUSINESS_TZ"),
		RecurrenceEpoch:  v.GetString("SCHEDULING_RECURRENCE_EPOCH"),
		MaxTokenValue:    v.GetInt("SCHEDULING_MAX_TOKEN_VALUE"),
		HolidayTTL:       parseDuration(v.GetString("SCHEDULING_HOLIDAY_TTL"), 12*time.Hour),
	}

	cfg.Planner = PlannerConfig{
		Enabled:       v.GetBool("ENABLE_PLANNER"),
		HorizonDays:   splitInts(v.GetString("PLANNER_HORIZON_DAYS")),
		CronSpec:      v.GetString("PLANNER_CRON_SPEC"),
		SweepInterval: parseDuration(v.GetString("PLANNER_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Catalog = CatalogConfig{
		CacheTTL: parseDuration(v.GetString("CATALOG_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Backfill = BackfillConfig{
		MinTrialSlack:        v.GetInt("BACKFILL_MIN_TRIAL_SLACK"),
		RegularLookaheadDays: v.GetInt("BACKFILL_REGULAR_LOOKAHEAD_DAYS"),
		SweepHorizonDays:     v.GetInt("BACKFILL_SWEEP_HORIZON_DAYS"),
		BusinessDayStartHour: v.GetInt("BACKFILL_BUSINESS_DAY_START_HOUR"),
		BusinessDayEndHour:   v.GetInt("BACKFILL_BUSINESS_DAY_END_HOUR"),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "scheduler")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULING_BUFFER_MINUTES", 10)
	v.SetDefault("SCHEDULING_BUSINESS_TZ", "Asia/Shanghai")
	v.SetDefault("SCHEDULING_RECURRENCE_EPOCH", "2018-01-01")
	v.SetDefault("SCHEDULING_MAX_TOKEN_VALUE", 10)
	v.SetDefault("SCHEDULING_HOLIDAY_TTL", "12h")

	v.SetDefault("ENABLE_PLANNER", false)
	v.SetDefault("PLANNER_HORIZON_DAYS", "2,3,7,21")
	v.SetDefault("PLANNER_CRON_SPEC", "0 2 * * *")
	v.SetDefault("PLANNER_SWEEP_INTERVAL", "1h")

	v.SetDefault("CATALOG_CACHE_TTL", "10m")

	v.SetDefault("BACKFILL_MIN_TRIAL_SLACK", 2)
	v.SetDefault("BACKFILL_REGULAR_LOOKAHEAD_DAYS", 5)
	v.SetDefault("BACKFILL_SWEEP_HORIZON_DAYS", 7)
	v.SetDefault("BACKFILL_BUSINESS_DAY_START_HOUR", 9)
	v.SetDefault("BACKFILL_BUSINESS_DAY_END_HOUR", 21)

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

func splitInts(raw string) []int {
	var result []int
	for _, part := range splitAndTrim(raw) {
		if n, err := strconv.Atoi(part); err == nil && n > 0 {
			result = append(result, n)
		}
	}
	return result
}
