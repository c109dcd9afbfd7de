package market

import (
	"context"
	"sync"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"
)

type cacheEntry struct {
	snap    alertDomain.Snapshot
	expires time.Time
}

// CachedQuoter 在 TTL 內重用成功的行情；失敗結果不快取。
type CachedQuoter struct {
	next Quoter
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCachedQuoter(next Quoter, ttl time.Duration) *CachedQuoter {
	return &CachedQuoter{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedQuoter) Quote(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
	if c.ttl <= 0 {
		return c.next.Quote(ctx, symbol)
	}
	c.mu.Lock()
	e, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.snap, nil
	}

	snap, err := c.next.Quote(ctx, symbol)
	if err != nil {
		return alertDomain.Snapshot{}, err
	}
	c.mu.Lock()
	c.entries[symbol] = cacheEntry{snap: snap, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return snap, nil
}

// Purge 清空快取並回傳被移除的筆數。
func (c *CachedQuoter) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

// size 回傳目前快取筆數（含已過期但尚未覆寫者）。
func (c *CachedQuoter) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
