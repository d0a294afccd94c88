package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	JWT      JWTConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Sandbox  SandboxConfig
	Judge    JudgeConfig
	Notify   NotifyConfig
	RabbitMQ RabbitMQConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port               string
	CORSAllowedOrigins []string
}

type JWTConfig struct {
	Key []byte
	Exp time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SslMode  string
}

// ConnString renders the keyword/value DSN understood by the pgx stdlib driver.
func (d DatabaseConfig) ConnString() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SslMode
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SandboxConfig describes the external execution service and how results find their way back.
type SandboxConfig struct {
	URL            string
	AuthToken      string
	CallbackURL    string
	CallbackSecret string
	Timeout        time.Duration

	DefaultCPUTimeSec  float64
	DefaultMemoryLimit int // KB
	LanguagesFile      string
	Languages          map[int]Language
}

// JudgeConfig tunes the dispatch queue and the stale-result watchdog.
type JudgeConfig struct {
	QueueName           string
	WorkerCount         int
	DispatchConcurrency int

	WatchdogInterval time.Duration
	WatchdogLockKey  string
	ResultTimeout    time.Duration
	QueueTimeout     time.Duration
	SweepBatchSize   int

	LeaderboardCacheTTL time.Duration
}

type NotifyConfig struct {
	Channel string
}

// RabbitMQConfig is optional; an empty URL disables verdict events.
type RabbitMQConfig struct {
	URL          string
	VerdictQueue string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("API_PORT", "8080"),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		JWT: JWTConfig{
			Key: []byte(getEnv("JWT_SECRET", "defaultsecret")),
			Exp: time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "tle_zone_contest"),
			SslMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Sandbox: SandboxConfig{
			URL:                getEnv("SANDBOX_URL", "http://localhost:2358"),
			AuthToken:          getEnv("SANDBOX_AUTH_TOKEN", ""),
			CallbackURL:        getEnv("CALLBACK_URL", "http://localhost:8080/api/v1/webhook/judge0"),
			CallbackSecret:     getEnv("CALLBACK_SECRET", ""),
			Timeout:            getEnvAsDuration("SANDBOX_TIMEOUT", 10*time.Second),
			DefaultCPUTimeSec:  getEnvAsFloat("SANDBOX_DEFAULT_CPU_TIME_SEC", 10),
			DefaultMemoryLimit: getEnvAsInt("SANDBOX_DEFAULT_MEMORY_KB", 128000),
			LanguagesFile:      getEnv("SANDBOX_LANGUAGES_FILE", ""),
		},
		Judge: JudgeConfig{
			QueueName:           getEnv("SUBMISSION_QUEUE_NAME", "submission_dispatch_queue"),
			WorkerCount:         getEnvAsInt("WORKER_COUNT", 4),
			DispatchConcurrency: getEnvAsInt("DISPATCH_CONCURRENCY", 8),
			WatchdogInterval:    getEnvAsDuration("WATCHDOG_INTERVAL", 30*time.Second),
			WatchdogLockKey:     getEnv("WATCHDOG_LOCK_KEY", "judge_watchdog_lock"),
			ResultTimeout:       getEnvAsDuration("RESULT_TIMEOUT", 2*time.Minute),
			QueueTimeout:        getEnvAsDuration("QUEUE_TIMEOUT", time.Minute),
			SweepBatchSize:      getEnvAsInt("WATCHDOG_BATCH_SIZE", 200),
			LeaderboardCacheTTL: getEnvAsDuration("LEADERBOARD_CACHE_TTL", 30*time.Second),
		},
		Notify: NotifyConfig{
			Channel: getEnv("NOTIFY_CHANNEL", "judge_notifications"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:          getEnv("RABBITMQ_URL", ""),
			VerdictQueue: getEnv("RABBITMQ_VERDICT_QUEUE", "submission_verdicts"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 10),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if cfg.Sandbox.LanguagesFile != "" {
		langs, err := LoadLanguages(cfg.Sandbox.LanguagesFile)
		if err != nil {
			return nil, err
		}
		cfg.Sandbox.Languages = langs
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Sandbox.URL == "" {
		return errors.New("SANDBOX_URL is required")
	}
	if c.Sandbox.CallbackURL == "" {
		return errors.New("CALLBACK_URL is required")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("invalid sandbox timeout: %s", c.Sandbox.Timeout)
	}
	if c.Judge.WorkerCount < 1 {
		return fmt.Errorf("invalid worker count: %d", c.Judge.WorkerCount)
	}
	if c.Judge.DispatchConcurrency < 1 {
		return fmt.Errorf("invalid dispatch concurrency: %d", c.Judge.DispatchConcurrency)
	}
	if c.Judge.WatchdogInterval <= 0 || c.Judge.ResultTimeout <= 0 || c.Judge.QueueTimeout <= 0 {
		return errors.New("watchdog interval and timeouts must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
