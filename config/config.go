// Package config resolves the runtime configuration once at startup.
// The resulting Config is immutable; nothing mutates it after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gridbot/logger"
)

// Config holds every runtime parameter the engine consumes.
type Config struct {
	// Exchange credentials (shared by spot and futures clients)
	BinanceAPIKey    string
	BinanceSecretKey string

	// Grid shape baseline; per-symbol values are derived from the
	// allocation tiers at cycle time
	GridLevels         int     // base level count
	GridSpacingPct     float64 // base spacing between adjacent levels, percent
	ProfitTakePct      float64 // unrealized PnL threshold for the extra reduce-only order
	Leverage           int     // futures leverage

	// Capital limits
	MinCapitalPerPair  float64 // USDT, symbols below this are not admitted
	MaxConcurrentPairs int
	SafetyBufferPct    float64 // fraction of the balance that may be committed (< 1.0)
	MaxAllocationPct   float64 // per-symbol cap as fraction of total balance
	SpotAllocationPct  float64 // preferred spot share when both accounts are funded

	// Pair selection
	PreferredPairs    []string
	PairCacheTTL      time.Duration
	CandidateFeedURL  string
	ATRMinPct         float64 // pairs below this volatility are flagged
	ATRMaxPct         float64 // pairs above this volatility are flagged
	InactivityTimeout time.Duration

	// Protective orders
	TakeProfitPct float64 // default TP distance, percent of entry
	StopLossPct   float64 // default SL distance, percent of entry

	// Scheduling
	GridInterval  time.Duration // per-symbol grid cycle
	TPSLInterval  time.Duration // protective-order poll
	CycleInterval time.Duration // orchestrator allocation cycle

	// Infrastructure
	DBPath        string
	APIServerPort int
	Log           *logger.Config

	// Alerts (optional)
	TelegramToken  string
	TelegramChatID int64
}

// Load resolves the configuration from environment variables.
// Call godotenv.Load before this to pick up a .env file.
func Load() (*Config, error) {
	cfg := &Config{
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey: os.Getenv("BINANCE_SECRET_KEY"),

		GridLevels:     getEnvInt("GRID_LEVELS", 10),
		GridSpacingPct: getEnvFloat("GRID_SPACING_PCT", 1.0),
		ProfitTakePct:  getEnvFloat("PROFIT_TAKE_PCT", 1.5),
		Leverage:       getEnvInt("LEVERAGE", 10),

		MinCapitalPerPair:  getEnvFloat("MIN_CAPITAL_PER_PAIR", 5),
		MaxConcurrentPairs: getEnvInt("MAX_CONCURRENT_PAIRS", 10),
		SafetyBufferPct:    getEnvFloat("SAFETY_BUFFER_PCT", 0.90),
		MaxAllocationPct:   getEnvFloat("MAX_ALLOCATION_PCT", 0.30),
		SpotAllocationPct:  getEnvFloat("SPOT_ALLOCATION_PCT", 0.30),

		PreferredPairs:    getEnvList("PREFERRED_PAIRS", []string{"BTCUSDT", "ETHUSDT"}),
		PairCacheTTL:      getEnvDuration("PAIR_CACHE_TTL", 6*time.Hour),
		CandidateFeedURL:  os.Getenv("CANDIDATE_FEED_URL"),
		ATRMinPct:         getEnvFloat("ATR_MIN_PCT", 0.5),
		ATRMaxPct:         getEnvFloat("ATR_MAX_PCT", 8.0),
		InactivityTimeout: getEnvDuration("INACTIVITY_TIMEOUT", time.Hour),

		TakeProfitPct: getEnvFloat("TAKE_PROFIT_PCT", 0.25),
		StopLossPct:   getEnvFloat("STOP_LOSS_PCT", 0.35),

		GridInterval:  getEnvDuration("GRID_INTERVAL", 30*time.Second),
		TPSLInterval:  getEnvDuration("TPSL_INTERVAL", 20*time.Second),
		CycleInterval: getEnvDuration("CYCLE_INTERVAL", 5*time.Minute),

		DBPath:        getEnv("DB_PATH", "data/gridbot.db"),
		APIServerPort: getEnvInt("API_SERVER_PORT", 8080),
		Log: &logger.Config{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BinanceAPIKey == "" || c.BinanceSecretKey == "" {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
	}
	if c.SafetyBufferPct <= 0 || c.SafetyBufferPct >= 1.0 {
		return fmt.Errorf("SAFETY_BUFFER_PCT must be in (0, 1), got %.2f", c.SafetyBufferPct)
	}
	if c.GridLevels < 2 {
		return fmt.Errorf("GRID_LEVELS must be at least 2, got %d", c.GridLevels)
	}
	if c.GridSpacingPct <= 0 {
		return fmt.Errorf("GRID_SPACING_PCT must be positive, got %.4f", c.GridSpacingPct)
	}
	if c.MinCapitalPerPair <= 0 {
		return fmt.Errorf("MIN_CAPITAL_PER_PAIR must be positive, got %.2f", c.MinCapitalPerPair)
	}
	if c.MaxConcurrentPairs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_PAIRS must be at least 1, got %d", c.MaxConcurrentPairs)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("LEVERAGE must be at least 1, got %d", c.Leverage)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logger.Warnf("invalid value for %s: %q, using default %d", key, v, fallback)
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		logger.Warnf("invalid value for %s: %q, using default %d", key, v, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger.Warnf("invalid value for %s: %q, using default %.4f", key, v, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warnf("invalid value for %s: %q, using default %s", key, v, fallback)
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
