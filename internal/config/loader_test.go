package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"TASKHUB_HTTP_PORT",
	"TASKHUB_SQLITE_DSN",
	"TASKHUB_JWT_SECRET",
	"TASKHUB_TOKEN_TTL",
	"TASKHUB_SWEEP_INTERVAL",
	"TASKHUB_TIMEZONE",
	"TASKHUB_FEATURE_CACHE_SIZE",
	"TASKHUB_FEATURE_CACHE_TTL",
	"TASKHUB_RATE_LIMIT_RPS",
	"TASKHUB_RATE_LIMIT_BURST",
	"TASKHUB_REDIS_ADDR",
	"TASKHUB_REDIS_PASSWORD",
	"TASKHUB_REDIS_DB",
	"TASKHUB_ADMIN_EMAIL",
	"TASKHUB_ADMIN_PASSWORD",
	"TASKHUB_LOG_LEVEL",
}

// isolateEnv unsets every TASKHUB_* key for the duration of the test and
// points the dotenv loader at a file that does not exist.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
	t.Setenv(EnvFileVariable, filepath.Join(t.TempDir(), "absent.env"))
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		isolateEnv(t)
		const secret = "super-secret"
		t.Setenv("TASKHUB_JWT_SECRET", secret)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 || cfg.HTTPAddr() != ":8080" {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.SQLiteDSN != "taskhub.db" {
			t.Fatalf("unexpected default DSN: %q", cfg.SQLiteDSN)
		}
		if cfg.JWTSecret != secret {
			t.Fatalf("expected secret %q, got %q", secret, cfg.JWTSecret)
		}
		if cfg.TokenTTL != 24*time.Hour || cfg.SweepInterval != time.Minute {
			t.Fatalf("unexpected durations: ttl=%v sweep=%v", cfg.TokenTTL, cfg.SweepInterval)
		}
		if cfg.Location != time.UTC {
			t.Fatalf("expected UTC, got %v", cfg.Location)
		}
		if cfg.FeatureCacheSize != 256 || cfg.RateLimitRPS != 10 || cfg.RateLimitBurst != 20 || cfg.MaxCatchUp != 500 {
			t.Fatalf("unexpected limits: %+v", cfg)
		}
		if cfg.RedisAddr != "" || cfg.AdminEmail != "" {
			t.Fatalf("expected optional integrations to be off: %+v", cfg)
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Fatalf("expected info level, got %v", cfg.LogLevel)
		}
	})

	t.Run("parses overrides", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("TASKHUB_JWT_SECRET", "s")
		t.Setenv("TASKHUB_HTTP_PORT", "9090")
		t.Setenv("TASKHUB_TOKEN_TTL", "90m")
		t.Setenv("TASKHUB_TIMEZONE", "Asia/Tokyo")
		t.Setenv("TASKHUB_RATE_LIMIT_RPS", "2.5")
		t.Setenv("TASKHUB_REDIS_ADDR", "localhost:6379")
		t.Setenv("TASKHUB_REDIS_DB", "3")
		t.Setenv("TASKHUB_ADMIN_EMAIL", "admin@example.com")
		t.Setenv("TASKHUB_ADMIN_PASSWORD", "changeme123")
		t.Setenv("TASKHUB_LOG_LEVEL", "debug")
		t.Setenv("TASKHUB_RECURRENCE_MAX_CATCH_UP", "25")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 9090 || cfg.TokenTTL != 90*time.Minute {
			t.Fatalf("unexpected port or ttl: %+v", cfg)
		}
		if cfg.Location.String() != "Asia/Tokyo" {
			t.Fatalf("expected Asia/Tokyo, got %v", cfg.Location)
		}
		if cfg.RateLimitRPS != 2.5 || cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 3 {
			t.Fatalf("unexpected overrides: %+v", cfg)
		}
		if cfg.AdminEmail != "admin@example.com" || cfg.AdminPassword != "changeme123" {
			t.Fatalf("unexpected admin bootstrap: %q", cfg.AdminEmail)
		}
		if cfg.MaxCatchUp != 25 {
			t.Fatalf("expected catch-up cap 25, got %d", cfg.MaxCatchUp)
		}
		if cfg.LogLevel != slog.LevelDebug {
			t.Fatalf("expected debug level, got %v", cfg.LogLevel)
		}
	})

	t.Run("reports missing and invalid values together", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("TASKHUB_HTTP_PORT", "eighty")
		t.Setenv("TASKHUB_SWEEP_INTERVAL", "-1s")
		t.Setenv("TASKHUB_TIMEZONE", "Mars/Olympus")
		t.Setenv("TASKHUB_ADMIN_EMAIL", "admin@example.com")

		_, err := Load()
		if err == nil {
			t.Fatal("expected an error")
		}
		msg := err.Error()
		for _, want := range []string{
			"missing required variables: TASKHUB_JWT_SECRET, TASKHUB_ADMIN_PASSWORD",
			"TASKHUB_HTTP_PORT",
			"TASKHUB_SWEEP_INTERVAL",
			"TASKHUB_TIMEZONE",
		} {
			if !strings.Contains(msg, want) {
				t.Fatalf("expected %q in %q", want, msg)
			}
		}
	})

	t.Run("reads a dotenv file without overriding the environment", func(t *testing.T) {
		isolateEnv(t)
		path := filepath.Join(t.TempDir(), "taskhub.env")
		content := "TASKHUB_JWT_SECRET=from-file\nTASKHUB_SQLITE_DSN=file-db.sqlite\nTASKHUB_HTTP_PORT=7000\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write env file: %v", err)
		}
		t.Setenv(EnvFileVariable, path)
		t.Setenv("TASKHUB_HTTP_PORT", "7001")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.JWTSecret != "from-file" || cfg.SQLiteDSN != "file-db.sqlite" {
			t.Fatalf("expected values from the dotenv file, got %+v", cfg)
		}
		if cfg.HTTPPort != 7001 {
			t.Fatalf("expected the environment to win, got %d", cfg.HTTPPort)
		}
	})
}
