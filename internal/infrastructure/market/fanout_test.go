package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingQuoter struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, symbol string) (alertDomain.Snapshot, error)
}

func (q *countingQuoter) Quote(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
	q.mu.Lock()
	if q.calls == nil {
		q.calls = map[string]int{}
	}
	q.calls[symbol]++
	q.mu.Unlock()
	if q.fn != nil {
		return q.fn(ctx, symbol)
	}
	return alertDomain.Snapshot{Symbol: symbol, Price: alertDomain.Known(decimal.NewFromInt(100)), AsOf: time.Now()}, nil
}

func (q *countingQuoter) total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.calls {
		n += c
	}
	return n
}

func TestFanOut_DedupsSymbols(t *testing.T) {
	q := &countingQuoter{}
	f := NewFanOut(q, FanOutOptions{Timeout: time.Second}, nil)

	res := f.FetchSnapshots(context.Background(), []string{"AAPL", "aapl ", "TSLA"})

	assert.Equal(t, 2, q.total())
	assert.Equal(t, 1, q.calls["AAPL"])
	assert.Equal(t, 1, q.calls["TSLA"])
	require.Len(t, res, 2)
	assert.NoError(t, res["AAPL"].Err)
	assert.Equal(t, "TSLA", res["TSLA"].Snapshot.Symbol)
}

func TestFanOut_TimeoutIsPerSymbol(t *testing.T) {
	q := &countingQuoter{fn: func(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
		if symbol == "TSLA" {
			<-ctx.Done()
			return alertDomain.Snapshot{}, ctx.Err()
		}
		return alertDomain.Snapshot{Symbol: symbol, Price: alertDomain.Known(decimal.NewFromInt(1))}, nil
	}}
	f := NewFanOut(q, FanOutOptions{Timeout: 20 * time.Millisecond}, nil)

	res := f.FetchSnapshots(context.Background(), []string{"AAPL", "TSLA"})

	require.NoError(t, res["AAPL"].Err)
	err := res["TSLA"].Err
	require.Error(t, err)
	assert.ErrorIs(t, err, alertDomain.ErrDataUnavailable)
	assert.True(t, alertDomain.IsTimeout(err))
}

func TestFanOut_ErrorsWrappedAsDataUnavailable(t *testing.T) {
	boom := errors.New("http 500")
	q := &countingQuoter{fn: func(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
		return alertDomain.Snapshot{}, boom
	}}
	f := NewFanOut(q, FanOutOptions{}, nil)

	res := f.FetchSnapshots(context.Background(), []string{"MSFT"})
	err := res["MSFT"].Err
	assert.ErrorIs(t, err, alertDomain.ErrDataUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.False(t, alertDomain.IsTimeout(err))
}

func TestFanOut_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	q := &countingQuoter{fn: func(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return alertDomain.Snapshot{Symbol: symbol}, nil
	}}
	f := NewFanOut(q, FanOutOptions{Concurrency: 2}, nil)

	f.FetchSnapshots(context.Background(), []string{"A", "B", "C", "D", "E", "F"})
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 6, q.total())
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "TSLA"}, Distinct([]string{" aapl", "TSLA", "AAPL", ""}))
}
