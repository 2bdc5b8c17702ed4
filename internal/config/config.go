// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLength is enforced for JWT_SECRET outside the dev environment.
const MinSecretLength = 32

// Config holds all runtime configuration values.
type Config struct {
	Env        string // dev, test or prod
	Port       string
	DBUser     string
	DBPass     string // empty allowed
	DBHost     string
	DBPort     string
	DBName     string
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration // clamped to AccessTTL by the auth service
	BcryptCost int
	RabbitURL  string // events are disabled when empty
	Redis      RedisConfig
	RateLimit  RateLimitConfig
}

// IsDev reports whether the service runs in the dev environment.
func (c Config) IsDev() bool { return c.Env == "dev" }

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win over
// the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	var r reader
	cfg := Config{
		Env:        r.str("APP_ENV", "dev"),
		Port:       r.str("APP_PORT", "8080"),
		DBUser:     r.must("DB_USER"),
		DBPass:     os.Getenv("DB_PASS"),
		DBHost:     r.str("DB_HOST", "127.0.0.1"),
		DBPort:     r.str("DB_PORT", "3306"),
		DBName:     r.must("DB_NAME"),
		JWTSecret:  r.must("JWT_SECRET"),
		AccessTTL:  r.dur("ACCESS_TOKEN_TTL", 100*time.Minute),
		RefreshTTL: r.dur("REFRESH_TOKEN_TTL", 720*time.Hour),
		SessionTTL: r.dur("SESSION_TTL", 6000*time.Second),
		BcryptCost: r.integer("BCRYPT_COST", 12),
		RabbitURL:  os.Getenv("RABBITMQ_URL"),
		Redis:      LoadRedisConfig(),
		RateLimit:  LoadRateLimitConfig(),
	}
	if r.err != nil {
		return Config{}, r.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.IsDev() && len(c.JWTSecret) < MinSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes outside dev", MinSecretLength)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("ACCESS_TOKEN_TTL (%s) must be shorter than REFRESH_TOKEN_TTL (%s)", c.AccessTTL, c.RefreshTTL)
	}
	return nil
}

// reader collects the first configuration error so Load can report it
// instead of exiting.
type reader struct{ err error }

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		r.fail(fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

func (r *reader) str(key, def string) string { return envStr(key, def) }

func (r *reader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid int for %s: %q", key, v))
	}
	return n
}

func (r *reader) dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid duration for %s: %q", key, v))
	}
	return d
}
