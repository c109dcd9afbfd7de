package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Quoter 取得單一標的的即時行情。
type Quoter interface {
	Quote(ctx context.Context, symbol string) (alertDomain.Snapshot, error)
}

// QuoterFunc 讓一般函式滿足 Quoter。
type QuoterFunc func(ctx context.Context, symbol string) (alertDomain.Snapshot, error)

func (f QuoterFunc) Quote(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
	return f(ctx, symbol)
}

// FanOutOptions 控制並行查詢。
type FanOutOptions struct {
	Timeout     time.Duration
	Concurrency int
	RatePerSec  float64
	Burst       int
}

// FanOut 以 Quoter 實作批次行情查詢：同一標的只查一次，各標的失敗互不影響。
type FanOut struct {
	quoter  Quoter
	opts    FanOutOptions
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewFanOut(q Quoter, opts FanOutOptions, logger *zap.Logger) *FanOut {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &FanOut{quoter: q, opts: opts, limiter: limiter, logger: logger}
}

// FetchSnapshots 回傳每個輸入標的（正規化後）的結果；不會整批失敗。
func (f *FanOut) FetchSnapshots(ctx context.Context, symbols []string) map[string]alertDomain.SnapshotResult {
	distinct := Distinct(symbols)
	results := make(map[string]alertDomain.SnapshotResult, len(distinct))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for _, sym := range distinct {
		sym := sym
		g.Go(func() error {
			snap, err := f.fetchOne(gctx, sym)
			if err != nil {
				f.logger.Warn("quote failed", zap.String("symbol", sym), zap.Error(err))
			}
			mu.Lock()
			results[sym] = alertDomain.SnapshotResult{Snapshot: snap, Err: err}
			mu.Unlock()
			// 單一標的失敗不取消其他查詢。
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *FanOut) fetchOne(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
	callCtx := ctx
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(callCtx); err != nil {
			return alertDomain.Snapshot{}, classify(callCtx, symbol, err)
		}
	}
	snap, err := f.quoter.Quote(callCtx, symbol)
	if err != nil {
		return alertDomain.Snapshot{}, classify(callCtx, symbol, err)
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	return snap, nil
}

// classify 將錯誤統一包成 DataUnavailableError；逾時另外標記 ErrGatewayTimeout。
func classify(ctx context.Context, symbol string, err error) error {
	var dataErr *alertDomain.DataUnavailableError
	if errors.As(err, &dataErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &alertDomain.DataUnavailableError{Symbol: symbol, Err: fmt.Errorf("%w: %v", alertDomain.ErrGatewayTimeout, err)}
	}
	return &alertDomain.DataUnavailableError{Symbol: symbol, Err: err}
}

// Distinct 正規化並去除重複標的，保留第一次出現的順序。
func Distinct(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
