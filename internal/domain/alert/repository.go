package alert

import (
	"context"
	"time"
)

// Store 為評估流程需要的最小持久層介面。
type Store interface {
	ListActive(ctx context.Context) ([]Alert, error)
	// Deactivate 以 compare-and-set 停用警報；只有真正由啟用轉為停用時 changed 才為 true。
	// 已停用或不存在的 id 回傳 (false, nil)。
	Deactivate(ctx context.Context, id string, reason DeactivationReason, at time.Time) (bool, error)
}

// Repository 為完整的警報存取介面，供管理操作使用。
type Repository interface {
	Store
	Create(ctx context.Context, a Alert) (string, error)
	Get(ctx context.Context, id string) (Alert, error)
	List(ctx context.Context, filter ListFilter) ([]Alert, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// OutcomeStore 保存評估結果以供稽核。
type OutcomeStore interface {
	RecordOutcomes(ctx context.Context, outcomes []Outcome) error
	ListOutcomes(ctx context.Context, alertID string, limit int) ([]Outcome, error)
}
