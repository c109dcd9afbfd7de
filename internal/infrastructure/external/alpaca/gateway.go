package alpaca

import (
	"context"
	"fmt"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"
	"smartstock-alerts/internal/infrastructure/market"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

const source = "alpaca"

type snapshotClient interface {
	GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error)
}

// Gateway 以 Alpaca 批次 snapshot API 一次取回所有標的。
type Gateway struct {
	client  snapshotClient
	feed    string
	timeout time.Duration
}

// NewGateway 建立批次行情來源；timeout<=0 時只受呼叫端 context 限制。
func NewGateway(apiKey, apiSecret, baseURL, feed string, timeout time.Duration) *Gateway {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &Gateway{client: client, feed: feed, timeout: timeout}
}

// FetchSnapshots 批次查詢；整批失敗時每個標的都帶同一個錯誤。
func (g *Gateway) FetchSnapshots(ctx context.Context, symbols []string) map[string]alertDomain.SnapshotResult {
	distinct := market.Distinct(symbols)
	results := make(map[string]alertDomain.SnapshotResult, len(distinct))
	if len(distinct) == 0 {
		return results
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type reply struct {
		snaps map[string]*marketdata.Snapshot
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		snaps, err := g.client.GetSnapshots(distinct, marketdata.GetSnapshotRequest{Feed: marketdata.Feed(g.feed)})
		done <- reply{snaps: snaps, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = fmt.Errorf("%w: %v", alertDomain.ErrGatewayTimeout, ctx.Err())
	}

	for _, sym := range distinct {
		if r.err != nil {
			results[sym] = alertDomain.SnapshotResult{Err: &alertDomain.DataUnavailableError{Symbol: sym, Err: r.err}}
			continue
		}
		s, ok := r.snaps[sym]
		if !ok || s == nil {
			results[sym] = alertDomain.SnapshotResult{Err: &alertDomain.DataUnavailableError{Symbol: sym, Err: fmt.Errorf("no snapshot returned")}}
			continue
		}
		results[sym] = alertDomain.SnapshotResult{Snapshot: toSnapshot(sym, s)}
	}
	return results
}

func toSnapshot(symbol string, s *marketdata.Snapshot) alertDomain.Snapshot {
	snap := alertDomain.Snapshot{Symbol: symbol, Source: source}
	if s.LatestTrade != nil {
		snap.Price = alertDomain.KnownFloat(s.LatestTrade.Price)
		snap.AsOf = s.LatestTrade.Timestamp.UTC()
	}
	if s.DailyBar != nil {
		snap.Volume = alertDomain.Known(decimal.NewFromInt(int64(s.DailyBar.Volume)))
		if !snap.Price.Valid {
			snap.Price = alertDomain.KnownFloat(s.DailyBar.Close)
			snap.AsOf = s.DailyBar.Timestamp.UTC()
		}
	}
	if snap.Price.Valid && s.PrevDailyBar != nil && s.PrevDailyBar.Close > 0 {
		prev := decimal.NewFromFloat(s.PrevDailyBar.Close)
		pct := snap.Price.Decimal.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(4)
		snap.PercentChange = alertDomain.Known(pct)
	}
	return snap
}
