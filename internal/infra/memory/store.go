package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/google/uuid"
)

// Store 為記憶體版警報存儲，未設定資料庫時使用；所有方法皆併發安全。
type Store struct {
	mu       sync.RWMutex
	alerts   map[string]alertDomain.Alert
	outcomes []alertDomain.Outcome
	newID    func() string
	now      func() time.Time
}

// NewStore 建立新的記憶體 Store 實例。
func NewStore() *Store {
	return &Store{
		alerts: make(map[string]alertDomain.Alert),
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

// Create 驗證後寫入警報並回傳 id。
func (s *Store) Create(ctx context.Context, a alertDomain.Alert) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = s.newID()
	}
	if _, exists := s.alerts[a.ID]; exists {
		return "", &alertDomain.ValidationError{Field: "id", Reason: "id already used"}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	a.Active = true
	a.DeactivatedAt = nil
	a.DeactivationReason = ""
	s.alerts[a.ID] = a
	return a.ID, nil
}

// Get 依 id 取得警報。
func (s *Store) Get(ctx context.Context, id string) (alertDomain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	return a, nil
}

// ListActive 回傳所有啟用中的警報。
func (s *Store) ListActive(ctx context.Context) ([]alertDomain.Alert, error) {
	return s.List(ctx, alertDomain.ListFilter{ActiveOnly: true})
}

// List 依條件列出警報，依建立時間排序。
func (s *Store) List(ctx context.Context, filter alertDomain.ListFilter) ([]alertDomain.Alert, error) {
	s.mu.RLock()
	out := make([]alertDomain.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if filter.ActiveOnly && !a.Active {
			continue
		}
		if filter.Symbol != "" && a.Symbol != alertDomain.NormalizeSymbol(filter.Symbol) {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Deactivate 在同一把鎖內檢查並更新 active，避免重複觸發。
func (s *Store) Deactivate(ctx context.Context, id string, reason alertDomain.DeactivationReason, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || !a.Active {
		return false, nil
	}
	s.alerts[id] = a.Deactivated(reason, at)
	return true, nil
}

// DeleteAll 清除所有警報與評估紀錄。
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.alerts))
	s.alerts = make(map[string]alertDomain.Alert)
	s.outcomes = nil
	return n, nil
}

// RecordOutcomes 追加評估結果。
func (s *Store) RecordOutcomes(ctx context.Context, outcomes []alertDomain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range outcomes {
		if o.ID == "" {
			o.ID = s.newID()
		}
		s.outcomes = append(s.outcomes, o)
	}
	return nil
}

// ListOutcomes 回傳某警報的評估紀錄（新到舊）。
func (s *Store) ListOutcomes(ctx context.Context, alertID string, limit int) ([]alertDomain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alertDomain.Outcome
	for i := len(s.outcomes) - 1; i >= 0; i-- {
		o := s.outcomes[i]
		if o.AlertID != alertID {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Ping 永遠成功，讓健康檢查與資料庫版本一致。
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close 無資源需釋放。
func (s *Store) Close() error {
	return nil
}
