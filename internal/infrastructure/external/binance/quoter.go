package binance

import (
	"context"
	"errors"
	"net/http"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/shopspring/decimal"
)

const source = "binance"

// Quoter 以 24 小時 ticker 提供價格、漲跌幅與成交量。
type Quoter struct {
	client *Client
}

func NewQuoter(client *Client) *Quoter {
	return &Quoter{client: client}
}

func (q *Quoter) Quote(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
	t, err := q.client.GetTicker24h(ctx, symbol)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			// Binance 對未知交易對回 400。
			return alertDomain.Snapshot{}, &alertDomain.DataUnavailableError{Symbol: symbol, Err: err}
		}
		return alertDomain.Snapshot{}, err
	}
	snap := alertDomain.Snapshot{
		Symbol:        symbol,
		Price:         parseField(t.LastPrice),
		PercentChange: parseField(t.PriceChangePercent),
		Volume:        parseField(t.Volume),
		Source:        source,
	}
	if t.CloseTime > 0 {
		snap.AsOf = time.UnixMilli(t.CloseTime).UTC()
	}
	return snap, nil
}

// parseField 無法解析的欄位視為缺漏，交由評估流程延後處理。
func parseField(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return alertDomain.Known(d)
}
