package alert

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot 為單一標的某時點的行情，缺漏欄位以 Valid=false 表示。
type Snapshot struct {
	Symbol        string
	Price         decimal.NullDecimal
	PercentChange decimal.NullDecimal
	Volume        decimal.NullDecimal
	AsOf          time.Time
	Source        string
}

// SnapshotResult 為批次查詢中單一標的的結果，成功與失敗互斥。
type SnapshotResult struct {
	Snapshot Snapshot
	Err      error
}

// Known 將數值包成有效的 NullDecimal。
func Known(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// KnownFloat 以 float 建立有效欄位，供外部 API 轉換使用。
func KnownFloat(f float64) decimal.NullDecimal {
	return Known(decimal.NewFromFloat(f))
}

// Stale 判斷快照是否超過允許年齡；maxAge<=0 或 AsOf 未知時不判定過期。
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || s.AsOf.IsZero() {
		return false
	}
	return now.Sub(s.AsOf) > maxAge
}
