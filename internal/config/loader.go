// Package config loads process configuration from TASKHUB_* environment
// variables, optionally seeded from a dotenv file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	// Embedded zone data keeps TASKHUB_TIMEZONE working on minimal images.
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the taskhub service.
type Config struct {
	HTTPPort         int
	SQLiteDSN        string
	JWTSecret        string
	TokenTTL         time.Duration
	SweepInterval    time.Duration
	MaxCatchUp       int
	Location         *time.Location
	FeatureCacheSize int
	FeatureCacheTTL  time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	AdminEmail       string
	AdminPassword    string
	LogLevel         slog.Level
}

// EnvFileVariable names the dotenv file to read before the environment.
const EnvFileVariable = "TASKHUB_ENV_FILE"

// Load parses configuration values from the process environment after
// loading the dotenv file named by TASKHUB_ENV_FILE (default ".env"). A
// missing dotenv file is ignored and variables already present in the
// environment win over the file.
//
// Missing required values and invalid values are reported together.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv(EnvFileVariable))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read %s: %w", envFile, err)
	}

	cfg := Config{
		HTTPPort:         8080,
		SQLiteDSN:        "taskhub.db",
		TokenTTL:         24 * time.Hour,
		SweepInterval:    time.Minute,
		MaxCatchUp:       500,
		Location:         time.UTC,
		FeatureCacheSize: 256,
		FeatureCacheTTL:  30 * time.Second,
		RateLimitRPS:     10,
		RateLimitBurst:   20,
		LogLevel:         slog.LevelInfo,
	}

	var missing, invalid []string
	parse := func(key string, apply func(string) bool) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" && !apply(value) {
			invalid = append(invalid, key)
		}
	}

	parse("TASKHUB_HTTP_PORT", func(v string) bool {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return false
		}
		cfg.HTTPPort = port
		return true
	})

	if dsn := strings.TrimSpace(os.Getenv("TASKHUB_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if secret := strings.TrimSpace(os.Getenv("TASKHUB_JWT_SECRET")); secret == "" {
		missing = append(missing, "TASKHUB_JWT_SECRET")
	} else {
		cfg.JWTSecret = secret
	}

	parse("TASKHUB_TOKEN_TTL", positiveDuration(&cfg.TokenTTL))
	parse("TASKHUB_SWEEP_INTERVAL", positiveDuration(&cfg.SweepInterval))
	parse("TASKHUB_FEATURE_CACHE_TTL", positiveDuration(&cfg.FeatureCacheTTL))

	parse("TASKHUB_TIMEZONE", func(v string) bool {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return false
		}
		cfg.Location = loc
		return true
	})

	parse("TASKHUB_FEATURE_CACHE_SIZE", positiveInt(&cfg.FeatureCacheSize))
	parse("TASKHUB_RECURRENCE_MAX_CATCH_UP", positiveInt(&cfg.MaxCatchUp))
	parse("TASKHUB_RATE_LIMIT_BURST", positiveInt(&cfg.RateLimitBurst))

	parse("TASKHUB_RATE_LIMIT_RPS", func(v string) bool {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return false
		}
		cfg.RateLimitRPS = rps
		return true
	})

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("TASKHUB_REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("TASKHUB_REDIS_PASSWORD")
	parse("TASKHUB_REDIS_DB", func(v string) bool {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return false
		}
		cfg.RedisDB = db
		return true
	})

	cfg.AdminEmail = strings.TrimSpace(os.Getenv("TASKHUB_ADMIN_EMAIL"))
	cfg.AdminPassword = os.Getenv("TASKHUB_ADMIN_PASSWORD")
	switch {
	case cfg.AdminEmail != "" && cfg.AdminPassword == "":
		missing = append(missing, "TASKHUB_ADMIN_PASSWORD")
	case cfg.AdminEmail == "" && cfg.AdminPassword != "":
		missing = append(missing, "TASKHUB_ADMIN_EMAIL")
	}

	parse("TASKHUB_LOG_LEVEL", func(v string) bool {
		return cfg.LogLevel.UnmarshalText([]byte(v)) == nil
	})

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("config: missing required variables: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("config: invalid values: %s", strings.Join(invalid, ", ")))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// HTTPAddr returns the listen address for the HTTP server.
func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func positiveDuration(dst *time.Duration) func(string) bool {
	return func(v string) bool {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return false
		}
		*dst = d
		return true
	}
}

func positiveInt(dst *int) func(string) bool {
	return func(v string) bool {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return false
		}
		*dst = n
		return true
	}
}
