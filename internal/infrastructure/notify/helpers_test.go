package notify

import (
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/shopspring/decimal"
)

func firedAlert() (alertDomain.Alert, alertDomain.Outcome) {
	at := time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)
	a := alertDomain.Alert{
		ID:             "a-1",
		Email:          "trader@example.com",
		Symbol:         "AAPL",
		Kind:           alertDomain.KindPriceAbove,
		ConditionValue: decimal.NewFromInt(100),
	}
	o := alertDomain.Outcome{
		PassID:    "p-1",
		AlertID:   "a-1",
		Symbol:    "AAPL",
		Fired:     true,
		Status:    alertDomain.OutcomeFired,
		Reason:    "price 100.01 > 100",
		Timestamp: at,
	}
	return a, o
}
