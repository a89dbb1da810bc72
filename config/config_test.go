package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredKeys(t *testing.T) {
	t.Helper()
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_SECRET_KEY", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredKeys(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.GridLevels)
	assert.Equal(t, 1.0, cfg.GridSpacingPct)
	assert.Equal(t, 0.90, cfg.SafetyBufferPct)
	assert.Equal(t, 0.30, cfg.MaxAllocationPct)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.PreferredPairs)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval)
	assert.Equal(t, "data/gridbot.db", cfg.DBPath)
	assert.Equal(t, 8080, cfg.APIServerPort)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("GRID_LEVELS", "6")
	t.Setenv("LEVERAGE", "5")
	t.Setenv("PREFERRED_PAIRS", "solusdt, bnbusdt ,")
	t.Setenv("CYCLE_INTERVAL", "90s")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123456")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.GridLevels)
	assert.Equal(t, 5, cfg.Leverage)
	assert.Equal(t, []string{"SOLUSDT", "BNBUSDT"}, cfg.PreferredPairs, "pairs are upper-cased and trimmed")
	assert.Equal(t, 90*time.Second, cfg.CycleInterval)
	assert.Equal(t, int64(-100123456), cfg.TelegramChatID)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("GRID_LEVELS", "not-a-number")
	t.Setenv("GRID_INTERVAL", "sometime")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.GridLevels)
	assert.Equal(t, 30*time.Second, cfg.GridInterval)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing credentials", "BINANCE_API_KEY", ""},
		{"buffer too large", "SAFETY_BUFFER_PCT", "1.5"},
		{"single grid level", "GRID_LEVELS", "1"},
		{"zero spacing", "GRID_SPACING_PCT", "0"},
		{"zero min capital", "MIN_CAPITAL_PER_PAIR", "0"},
		{"zero pairs", "MAX_CONCURRENT_PAIRS", "0"},
		{"zero leverage", "LEVERAGE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredKeys(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
