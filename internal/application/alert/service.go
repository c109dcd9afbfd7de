package alert

import (
	"context"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"go.uber.org/zap"
)

// Service 提供警報的建立、查詢、取消與清除。
type Service struct {
	repo     alertDomain.Repository
	outcomes alertDomain.OutcomeStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewService 建立服務；outcomes 可為 nil（不支援評估紀錄查詢）。
func NewService(repo alertDomain.Repository, outcomes alertDomain.OutcomeStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, outcomes: outcomes, logger: logger, now: time.Now}
}

// Create 驗證輸入並建立啟用中的警報。
func (s *Service) Create(ctx context.Context, def alertDomain.Definition) (alertDomain.Alert, error) {
	a, err := alertDomain.New(def, s.now())
	if err != nil {
		return alertDomain.Alert{}, err
	}
	id, err := s.repo.Create(ctx, a)
	if err != nil {
		return alertDomain.Alert{}, err
	}
	a.ID = id
	s.logger.Info("alert created",
		zap.String("alert_id", id),
		zap.String("symbol", a.Symbol),
		zap.String("alert_type", string(a.Kind)),
		zap.String("condition_value", a.ConditionValue.String()),
	)
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (alertDomain.Alert, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter alertDomain.ListFilter) ([]alertDomain.Alert, error) {
	return s.repo.List(ctx, filter)
}

// Cancel 手動停用警報；已停用或不存在的 id 都回傳 changed=false 並記錄警告。
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	changed, err := s.repo.Deactivate(ctx, id, alertDomain.ReasonCancelled, s.now())
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info("alert cancelled", zap.String("alert_id", id))
	} else {
		s.logger.Warn("cancel on inactive or unknown alert", zap.String("alert_id", id))
	}
	return changed, nil
}

// DeleteAll 清除所有警報與評估紀錄。
func (s *Service) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("all alerts deleted", zap.Int64("count", n))
	return n, nil
}

// Outcomes 回傳某警報最近的評估紀錄。
func (s *Service) Outcomes(ctx context.Context, id string, limit int) ([]alertDomain.Outcome, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.outcomes == nil {
		return []alertDomain.Outcome{}, nil
	}
	return s.outcomes.ListOutcomes(ctx, id, limit)
}
