package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"LIBRADESK_HTTP_PORT",
	"LIBRADESK_DATABASE_URL",
	"LIBRADESK_STORAGE_DRIVER",
	"LIBRADESK_JWT_SECRET",
	"LIBRADESK_TOKEN_TTL",
	"LIBRADESK_LOG_LEVEL",
	"LIBRADESK_LOG_FORMAT",
	"LIBRADESK_OTLP_ENDPOINT",
	"LIBRADESK_SERVICE_NAME",
	"LIBRADESK_LOAN_DURATION_DAYS",
	"LIBRADESK_MAX_EXTENSIONS",
	"LIBRADESK_EXTENSION_DAYS",
	"LIBRADESK_DAILY_FEE",
	"LIBRADESK_BLOCKING_THRESHOLD",
	"LIBRADESK_PICKUP_WINDOW_DAYS",
	"LIBRADESK_MAX_ACTIVE_LOANS",
	"LIBRADESK_MEMBERSHIP_TERM_MONTHS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LIBRADESK_JWT_SECRET", "secret")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Equal(t, ":8080", cfg.Addr())
		assert.Equal(t, StoragePostgres, cfg.StorageDriver)
		assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
		assert.Equal(t, 14, cfg.Policy.DefaultLoanDurationDays)
		assert.Equal(t, "1.00", cfg.Policy.DailyFee.StringFixed(2))
		assert.Empty(t, cfg.OTLPEndpoint)
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.Equal(t, "missing required environment variables: LIBRADESK_JWT_SECRET", err.Error())
	})

	t.Run("parses policy values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LIBRADESK_JWT_SECRET", "secret")
		t.Setenv("LIBRADESK_HTTP_PORT", "9090")
		t.Setenv("LIBRADESK_STORAGE_DRIVER", "memory")
		t.Setenv("LIBRADESK_TOKEN_TTL", "30m")
		t.Setenv("LIBRADESK_DAILY_FEE", "0.25")
		t.Setenv("LIBRADESK_BLOCKING_THRESHOLD", "20")
		t.Setenv("LIBRADESK_MAX_EXTENSIONS", "0")
		t.Setenv("LIBRADESK_PICKUP_WINDOW_DAYS", "5")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.HTTPPort)
		assert.Equal(t, StorageMemory, cfg.StorageDriver)
		assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
		assert.Equal(t, "0.25", cfg.Policy.DailyFee.StringFixed(2))
		assert.Equal(t, "20.00", cfg.Policy.BlockingThreshold.StringFixed(2))
		assert.Equal(t, 0, cfg.Policy.MaxExtensions)
		assert.Equal(t, 5, cfg.Policy.PickupWindowDays)
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LIBRADESK_JWT_SECRET", "secret")
		t.Setenv("LIBRADESK_HTTP_PORT", "zero")
		t.Setenv("LIBRADESK_DAILY_FEE", "-1")
		t.Setenv("LIBRADESK_STORAGE_DRIVER", "sqlite")

		_, err := Load()
		require.Error(t, err)
		assert.Equal(t, "invalid environment variables: LIBRADESK_HTTP_PORT, LIBRADESK_STORAGE_DRIVER, LIBRADESK_DAILY_FEE", err.Error())
	})

	t.Run("rejects a zero daily fee through policy validation", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LIBRADESK_JWT_SECRET", "secret")
		t.Setenv("LIBRADESK_DAILY_FEE", "0")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "daily fee must be positive")
	})

	t.Run("rejects amounts finer than a cent", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LIBRADESK_JWT_SECRET", "secret")
		t.Setenv("LIBRADESK_DAILY_FEE", "0.125")
		t.Setenv("LIBRADESK_BLOCKING_THRESHOLD", "10.001")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "daily fee must not have more than two decimal places")
		assert.Contains(t, err.Error(), "blocking threshold must not have more than two decimal places")
	})

	t.Run("accepts trailing zeros beyond two places", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LIBRADESK_JWT_SECRET", "secret")
		t.Setenv("LIBRADESK_DAILY_FEE", "0.500")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "1.50", cfg.Policy.Fee(3).StringFixed(2))
	})
}
