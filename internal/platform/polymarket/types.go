package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false").
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number, a numeric string, or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flexFloat: %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Gamma API. The list fields are
// JSON arrays encoded as strings, e.g. "[\"Yes\",\"No\"]".
type APIMarket struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	ConditionID   string    `json:"conditionId"`
	Slug          string    `json:"slug"`
	Active        flexBool  `json:"active"`
	Closed        flexBool  `json:"closed"`
	NegRisk       flexBool  `json:"negRisk"`
	EndDate       string    `json:"endDate"`
	Outcomes      string    `json:"outcomes"`
	OutcomePrices string    `json:"outcomePrices"`
	ClobTokenIDs  string    `json:"clobTokenIds"`
	Volume        flexFloat `json:"volume"`
	Liquidity     flexFloat `json:"liquidity"`
	Volume24hr    flexFloat `json:"volume24hr"`
	BestBid       flexFloat `json:"bestBid"`
	BestAsk       flexFloat `json:"bestAsk"`
}

// decodeList parses a string-encoded JSON array of strings.
func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToSnapshot converts a Gamma market into an indexed MarketSnapshot with
// asset ids ordered [YES, NO]. Markets that are not binary are rejected.
func (m *APIMarket) ToSnapshot(now time.Time) (domain.MarketSnapshot, error) {
	tokens, err := decodeList(m.ClobTokenIDs)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market %s: clobTokenIds: %w", m.ConditionID, err)
	}
	if len(tokens) != 2 {
		return domain.MarketSnapshot{}, fmt.Errorf("market %s: %d tokens, want 2", m.ConditionID, len(tokens))
	}
	outcomes, _ := decodeList(m.Outcomes)
	priceStrs, _ := decodeList(m.OutcomePrices)
	prices := make([]float64, 2)
	for i := 0; i < len(priceStrs) && i < 2; i++ {
		prices[i], _ = strconv.ParseFloat(priceStrs[i], 64)
	}

	// Gamma usually lists Yes first; swap when the labels say otherwise.
	if len(outcomes) == 2 && strings.EqualFold(outcomes[0], "no") && strings.EqualFold(outcomes[1], "yes") {
		tokens[0], tokens[1] = tokens[1], tokens[0]
		prices[0], prices[1] = prices[1], prices[0]
	}

	snap := domain.MarketSnapshot{
		ID:        m.ConditionID,
		Question:  m.Question,
		Volume:    float64(m.Volume),
		Liquidity: float64(m.Liquidity),
		Volume24h: float64(m.Volume24hr),
		YesPrice:  prices[0],
		NoPrice:   prices[1],
		AssetIDs:  tokens,
		State:     domain.MarketStateIndexed,
		UpdatedAt: now,
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			snap.EndTime = &t
		}
	}
	return snap, nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from POST /order.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// apiCreds is the response of the API key endpoints.
type apiCreds struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// balanceAllowance is the response of GET /balance-allowance. Balance is
// in collateral base units (6 decimals).
type balanceAllowance struct {
	Balance string `json:"balance"`
}

// --------------------------------------------------------------------------
// Market stream DTOs
// --------------------------------------------------------------------------

// subscribeFrame subscribes asset ids on the market channel.
type subscribeFrame struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// wireLevel is one price level as strings.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wireChange is one entry of a price_changes list.
type wireChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	Hash    string `json:"hash"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// wireFrame is the union of every object frame the market channel sends.
// Bids and Asks are pointers so that a missing key is distinguishable from
// an empty book.
type wireFrame struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	Bids         *[]wireLevel  `json:"bids"`
	Asks         *[]wireLevel  `json:"asks"`
	Timestamp    flexString    `json:"timestamp"`
	Hash         string        `json:"hash"`
	PriceChanges *[]wireChange `json:"price_changes"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	*f = flexString(strings.Trim(string(data), `"`))
	if *f == "null" {
		*f = ""
	}
	return nil
}
