package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"
)

const (
	defaultBaseURL = "https://finnhub.io"
	source         = "finnhub"
)

// Client 呼叫 Finnhub quote API；quote 不含成交量。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// Quote 對應 /api/v1/quote 回應。
type Quote struct {
	CurrentPrice  float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	HighPrice     float64 `json:"h"`
	LowPrice      float64 `json:"l"`
	OpenPrice     float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("finnhub api error (status %d): %s", resp.StatusCode, string(body))
	}
	var q Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &q, nil
}

// Quote 實作 market.Quoter。
func (c *Client) Quote(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
	q, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return alertDomain.Snapshot{}, err
	}
	// 未知代號回傳全 0。
	if q.CurrentPrice == 0 && q.Timestamp == 0 {
		return alertDomain.Snapshot{}, &alertDomain.DataUnavailableError{Symbol: symbol, Err: fmt.Errorf("empty quote")}
	}
	snap := alertDomain.Snapshot{
		Symbol:        symbol,
		Price:         alertDomain.KnownFloat(q.CurrentPrice),
		PercentChange: alertDomain.KnownFloat(q.PercentChange),
		Source:        source,
	}
	if q.Timestamp > 0 {
		snap.AsOf = time.Unix(q.Timestamp, 0).UTC()
	}
	return snap, nil
}
