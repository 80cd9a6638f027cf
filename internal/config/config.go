package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every knob the binaries read from the environment.
// godotenv is loaded by main before Load runs, so a local .env file
// works the same as real environment variables.
type Config struct {
	DatabaseURL string
	ServerPort  string

	AllowedOrigins string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	CronSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	LogLevel string
	Env      string

	LoginRatePerMinute int
	LoginBurst         int

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ServerPort:         envOrDefault("SERVER_PORT", "8080"),
		AllowedOrigins:     os.Getenv("ALLOWED_ORIGINS"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenTTL:     envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		CronSecret:         os.Getenv("CRON_SECRET"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            envInt("REDIS_DB", 0),
		CacheTTL:           envDuration("CACHE_TTL", 5*time.Minute),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		Env:                envOrDefault("APP_ENV", "development"),
		LoginRatePerMinute: envInt("LOGIN_RATE_PER_MINUTE", 10),
		LoginBurst:         envInt("LOGIN_BURST", 5),
		ShutdownTimeout:    envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
