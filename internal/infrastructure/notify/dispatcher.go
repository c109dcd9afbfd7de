package notify

import (
	"context"
	"errors"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"go.uber.org/zap"
)

// Channel 為單一通知管道。
type Channel interface {
	Name() string
	Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error
}

// Dispatcher 將一筆觸發送往所有已設定的管道；任一管道失敗都回報，但不影響其他管道。
type Dispatcher struct {
	channels []Channel
	logger   *zap.Logger
}

func NewDispatcher(logger *zap.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{channels: channels, logger: logger}
}

// Channels 回傳管道名稱，供健康檢查顯示。
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

func (d *Dispatcher) Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error {
	if len(d.channels) == 0 {
		d.logger.Info("alert fired (no notification channel configured)",
			zap.String("alert_id", a.ID),
			zap.String("symbol", a.Symbol),
			zap.String("email", a.Email),
			zap.String("reason", o.Reason),
		)
		return alertDomain.ErrNoChannel
	}

	var errs []error
	for _, c := range d.channels {
		if err := c.Notify(ctx, a, o); err != nil {
			d.logger.Warn("notification failed",
				zap.String("channel", c.Name()),
				zap.String("alert_id", a.ID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		d.logger.Debug("notification sent", zap.String("channel", c.Name()), zap.String("alert_id", a.ID))
	}
	return errors.Join(errs...)
}
