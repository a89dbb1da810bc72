package pairs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"gridbot/logger"
)

// defaultMainstreamPairs is the static fallback when neither the feed nor
// its cache is reachable.
var defaultMainstreamPairs = []string{
	"BTCUSDT",
	"ETHUSDT",
	"SOLUSDT",
	"BNBUSDT",
	"XRPUSDT",
	"DOGEUSDT",
	"ADAUSDT",
}

// Candidate is one externally scored pair candidate.
type Candidate struct {
	Symbol string  `json:"pair"`
	Score  float64 `json:"score"`
}

type feedResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Coins []Candidate `json:"coins"`
		Count int         `json:"count"`
	} `json:"data"`
}

type feedCache struct {
	Coins     []Candidate `json:"coins"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// CandidateFeed fetches externally discovered pair candidates with a
// retry, file-cache and static-fallback chain. An empty URL disables the
// feed and serves the mainstream list.
type CandidateFeed struct {
	client   *resty.Client
	url      string
	cacheDir string
}

// NewCandidateFeed creates a feed client.
func NewCandidateFeed(url string) *CandidateFeed {
	return &CandidateFeed{
		client:   resty.New().SetTimeout(30 * time.Second),
		url:      url,
		cacheDir: "candidate_cache",
	}
}

// Fetch returns scored candidates. Three attempts against the API, then the
// last cached result, then the static mainstream list. Never fails.
func (f *CandidateFeed) Fetch() []Candidate {
	if f.url == "" {
		return symbolsToCandidates(defaultMainstreamPairs)
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			time.Sleep(2 * time.Second)
		}

		coins, err := f.fetchOnce()
		if err == nil {
			if err := f.saveCache(coins); err != nil {
				logger.Warnf("⚠️ Failed to save candidate cache: %v", err)
			}
			return coins
		}
		lastErr = err
		logger.Warnf("⚠️ Candidate feed attempt %d failed: %v", attempt, err)
	}

	if cached, err := f.loadCache(); err == nil {
		logger.Infof("📂 Using cached candidates (%d pairs)", len(cached))
		return cached
	}

	logger.Warnf("⚠️ Candidate feed unreachable (last error: %v), using mainstream list", lastErr)
	return symbolsToCandidates(defaultMainstreamPairs)
}

func (f *CandidateFeed) fetchOnce() ([]Candidate, error) {
	var out feedResponse
	resp, err := f.client.R().SetResult(&out).Get(f.url)
	if err != nil {
		return nil, fmt.Errorf("request candidate feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("candidate feed returned status %d", resp.StatusCode())
	}
	if !out.Success {
		return nil, fmt.Errorf("candidate feed returned failure status")
	}
	if len(out.Data.Coins) == 0 {
		return nil, fmt.Errorf("candidate list is empty")
	}
	return out.Data.Coins, nil
}

func (f *CandidateFeed) saveCache(coins []Candidate) error {
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(feedCache{Coins: coins, FetchedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.cacheDir, "latest.json"), data, 0o644)
}

func (f *CandidateFeed) loadCache() ([]Candidate, error) {
	data, err := os.ReadFile(filepath.Join(f.cacheDir, "latest.json"))
	if err != nil {
		return nil, err
	}
	var cache feedCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	if age := time.Since(cache.FetchedAt); age > 24*time.Hour {
		logger.Warnf("⚠️ Candidate cache is %.1f hours old, still usable", age.Hours())
	}
	return cache.Coins, nil
}

func symbolsToCandidates(symbols []string) []Candidate {
	out := make([]Candidate, len(symbols))
	for i, s := range symbols {
		out[i] = Candidate{Symbol: s}
	}
	return out
}
