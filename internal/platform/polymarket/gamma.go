package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// DefaultGammaURL is the production Gamma API root.
const DefaultGammaURL = "https://gamma-api.polymarket.com"

// GammaClient is the REST client for the Gamma metadata API. Requests share
// a token-bucket limiter.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// GammaConfig configures the Gamma client.
type GammaConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RatePerS  float64
	RateBurst int
}

// NewGammaClient creates a Gamma client.
func NewGammaClient(cfg GammaConfig, logger *slog.Logger) *GammaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGammaURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerS <= 0 {
		cfg.RatePerS = 18
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	return &GammaClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerS), cfg.RateBurst),
		logger:     logger.With(slog.String("component", "gamma")),
	}
}

// ActiveMarkets returns open binary markets ordered by 24h volume. Markets
// that fail conversion are skipped.
func (g *GammaClient) ActiveMarkets(ctx context.Context, limit int) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", "volume24hr")
	params.Set("ascending", "false")

	var apiMarkets []APIMarket
	if err := g.getJSON(ctx, "/markets?"+params.Encode(), &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: active markets: %w", err)
	}

	now := time.Now()
	out := make([]domain.MarketSnapshot, 0, len(apiMarkets))
	skipped := 0
	for i := range apiMarkets {
		snap, err := apiMarkets[i].ToSnapshot(now)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, snap)
	}
	if skipped > 0 {
		g.logger.DebugContext(ctx, "skipped non-binary markets", slog.Int("count", skipped))
	}
	return out, nil
}

// MarketByCondition looks a market up by condition id. It fails with
// domain.ErrNotFound until Gamma has indexed the market.
func (g *GammaClient) MarketByCondition(ctx context.Context, conditionID string) (domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	var apiMarkets []APIMarket
	if err := g.getJSON(ctx, "/markets?"+params.Encode(), &apiMarkets); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket/gamma: market %s: %w", conditionID, err)
	}
	for i := range apiMarkets {
		if strings.EqualFold(apiMarkets[i].ConditionID, conditionID) {
			snap, err := apiMarkets[i].ToSnapshot(time.Now())
			if err != nil {
				return domain.MarketSnapshot{}, fmt.Errorf("polymarket/gamma: %w", err)
			}
			return snap, nil
		}
	}
	return domain.MarketSnapshot{}, fmt.Errorf("polymarket/gamma: %w: condition=%s", domain.ErrNotFound, conditionID)
}

// getJSON sends a rate-limited GET and decodes the JSON body into out.
func (g *GammaClient) getJSON(ctx context.Context, path string, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
