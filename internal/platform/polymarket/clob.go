package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polysniper/internal/crypto"
	"github.com/alanyoungcy/polysniper/internal/domain"
)

// DefaultClobURL is the production CLOB API root.
const DefaultClobURL = "https://clob.polymarket.com"

const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcUnit is the number of base units in one collateral token.
var usdcUnit = decimal.New(1, 6)

// ClobClient is the REST client for the CLOB API. Orders are signed with
// the wallet key; requests carry L2 HMAC headers once credentials have been
// derived.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	logger     *slog.Logger

	mu       sync.RWMutex
	hmacAuth *crypto.HMACAuth
}

// NewClobClient creates a CLOB client. hmac may be nil; DeriveAPIKey fills
// it in.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, logger *slog.Logger) *ClobClient {
	if baseURL == "" {
		baseURL = DefaultClobURL
	}
	return &ClobClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		hmacAuth:   hmac,
		logger:     logger.With(slog.String("component", "clob")),
	}
}

// Authenticated reports whether L2 credentials are available.
func (c *ClobClient) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hmacAuth != nil
}

// DeriveAPIKey obtains L2 credentials with an L1-signed request. The
// deterministic derive endpoint is tried first; a wallet without keys gets
// a fresh set from the create endpoint.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	creds, err := c.l1Request(ctx, http.MethodGet, "/auth/derive-api-key")
	if err != nil {
		c.logger.WarnContext(ctx, "derive api key failed, creating",
			slog.String("error", err.Error()),
		)
		creds, err = c.l1Request(ctx, http.MethodPost, "/auth/api-key")
		if err != nil {
			return fmt.Errorf("polymarket/clob: derive api key: %w", err)
		}
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return fmt.Errorf("polymarket/clob: derive api key: %w: empty credentials", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.hmacAuth = &crypto.HMACAuth{
		Key:        creds.APIKey,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
	}
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "clob credentials ready", slog.String("address", c.signer.Address().Hex()))
	return nil
}

func (c *ClobClient) l1Request(ctx context.Context, method, path string) (apiCreds, error) {
	timestamp := time.Now().Unix()
	const nonce = int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return apiCreds{}, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return apiCreds{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	body, err := c.send(req)
	if err != nil {
		return apiCreds{}, err
	}
	var creds apiCreds
	if err := json.Unmarshal(body, &creds); err != nil {
		return apiCreds{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

// Balance returns the wallet's collateral balance in dollars.
func (c *ClobClient) Balance(ctx context.Context) (float64, error) {
	const path = "/balance-allowance"
	body, err := c.doAuthenticated(ctx, http.MethodGet, path, "?asset_type=COLLATERAL&signature_type=0", nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: balance: %w", err)
	}
	var ba balanceAllowance
	if err := json.Unmarshal(body, &ba); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	raw, err := decimal.NewFromString(ba.Balance)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse balance %q: %w", ba.Balance, err)
	}
	return raw.Div(usdcUnit).InexactFloat64(), nil
}

// OrderAmounts converts a buy of shares at price into the maker (collateral
// paid) and taker (tokens received) base-unit amounts. Price is rounded to
// the 0.01 tick and shares are rounded down to two decimals.
func OrderAmounts(price, shares float64) (maker, taker decimal.Decimal, err error) {
	p := decimal.NewFromFloat(price).Round(2)
	s := decimal.NewFromFloat(shares).RoundDown(2)
	if !p.IsPositive() || p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: price %v outside (0,1)", domain.ErrInvalidOrder, price)
	}
	if !s.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: size %v rounds to zero", domain.ErrInvalidOrder, shares)
	}
	maker = p.Mul(s).Mul(usdcUnit).Truncate(0)
	taker = s.Mul(usdcUnit).Truncate(0)
	return maker, taker, nil
}

// PostOrder signs and submits a fill-or-kill buy of shares of tokenID at
// price. It returns the venue order id.
func (c *ClobClient) PostOrder(ctx context.Context, tokenID string, price, shares float64) (string, error) {
	maker, taker, err := OrderAmounts(price, shares)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: %w", err)
	}
	salt, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: salt: %w", err)
	}

	addr := c.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         addr,
		Signer:        addr,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          crypto.SideBuy,
		SignatureType: crypto.SignatureEOA,
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: %w: %w", domain.ErrSigningFailed, err)
	}

	c.mu.RLock()
	owner := ""
	if c.hmacAuth != nil {
		owner = c.hmacAuth.Key
	}
	c.mu.RUnlock()

	body := map[string]any{
		"order": map[string]any{
			"salt":          salt.Int64(),
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          "BUY",
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     owner,
		"orderType": "FOK",
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", "", body)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: %w: %w", domain.ErrSubmission, err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket/clob: %w: decode order result: %w", domain.ErrSubmission, err)
	}
	if !result.Success || result.OrderID == "" {
		msg := result.ErrorMsg
		if msg == "" {
			msg = "no order id"
		}
		return "", fmt.Errorf("polymarket/clob: %w: rejected: %s", domain.ErrSubmission, msg)
	}
	return result.OrderID, nil
}

// doAuthenticated sends a request with L2 headers. The signature covers
// the path without query.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path, query string, body any) ([]byte, error) {
	var (
		bodyReader io.Reader
		bodyStr    string
	)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+query, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	auth := c.hmacAuth
	c.mu.RUnlock()
	if auth == nil {
		return nil, fmt.Errorf("%w: no api credentials", domain.ErrUnauthorized)
	}
	for k, v := range auth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	return c.send(req)
}

func (c *ClobClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := truncate(body, 256)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(bodyStr), "balance") {
			return fmt.Errorf("%w: %s", domain.ErrInsufficient, bodyStr)
		}
	}
	return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
}
