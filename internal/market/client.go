package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/mtzanidakis/sminos/internal/config"
)

// Quote is a point-in-time price snapshot for one token.
type Quote struct {
	Token     string    `json:"token"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"`
	Volume24h float64   `json:"volume_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Source is the narrow market-data interface consumed by plugins.
type Source interface {
	TokenPrice(ctx context.Context, token string) (Quote, error)
}

// tokenIDs maps common symbols to CoinGecko identifiers.
var tokenIDs = map[string]string{
	"btc":    "bitcoin",
	"eth":    "ethereum",
	"near":   "near",
	"usdc":   "usd-coin",
	"usdt":   "tether",
	"ref":    "ref-finance",
	"aurora": "aurora-near",
}

// Client fetches quotes from CoinGecko with a TTL cache and a minimum
// interval between upstream requests.
type Client struct {
	apiURL   string
	cacheTTL time.Duration
	http     *http.Client
	cache    *ristretto.Cache[string, Quote]

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func NewClient(cfg config.MarketConfig) (*Client, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, Quote]{
		NumCounters: 1 << 10,
		MaxCost:     1 << 6,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create quote cache: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	return &Client{
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		cacheTTL:    ttl,
		http:        &http.Client{Timeout: 15 * time.Second},
		cache:       cache,
		minInterval: time.Second,
	}, nil
}

// TokenPrice returns the current price, 24h change and 24h volume for a
// token symbol, served from cache inside the TTL window.
func (c *Client) TokenPrice(ctx context.Context, token string) (Quote, error) {
	id := tokenID(token)
	if q, ok := c.cache.Get(id); ok {
		return q, nil
	}

	c.throttle()

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true&include_24hr_change=true", c.apiURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build price request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch price for %s: %w", token, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("fetch price for %s: status %d", token, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read price response: %w", err)
	}

	var parsed map[string]struct {
		USD          float64 `json:"usd"`
		USD24hVol    float64 `json:"usd_24h_vol"`
		USD24hChange float64 `json:"usd_24h_change"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("parse price response: %w", err)
	}

	entry, ok := parsed[id]
	if !ok {
		return Quote{}, fmt.Errorf("no price data for %s", token)
	}

	q := Quote{
		Token:     strings.ToLower(token),
		Price:     entry.USD,
		Change24h: entry.USD24hChange,
		Volume24h: entry.USD24hVol,
		Timestamp: time.Now().UTC(),
	}
	c.cache.SetWithTTL(id, q, 1, c.cacheTTL)
	c.cache.Wait()
	return q, nil
}

// Close releases the cache.
func (c *Client) Close() {
	c.cache.Close()
}

// throttle enforces a minimum spacing between upstream requests so a burst
// of cache misses does not trip CoinGecko's rate limit.
func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	since := time.Since(c.lastRequest)
	if since < c.minInterval {
		time.Sleep(c.minInterval - since)
	}
	c.lastRequest = time.Now()
}

func tokenID(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if id, ok := tokenIDs[token]; ok {
		return id
	}
	return token
}
