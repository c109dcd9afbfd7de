package alert

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type comparison int

const (
	greaterThan comparison = iota
	lessThan
)

// evaluatorFunc 依單一行情欄位判斷條件，欄位缺漏時回傳 DataUnavailableError。
type evaluatorFunc func(a Alert, s Snapshot) (bool, string, error)

// evaluatorRegistry 將條件類型對應到判斷函式。
var evaluatorRegistry = map[Kind]evaluatorFunc{
	KindPriceAbove:     fieldEvaluator("price", func(s Snapshot) decimal.NullDecimal { return s.Price }, greaterThan),
	KindPriceBelow:     fieldEvaluator("price", func(s Snapshot) decimal.NullDecimal { return s.Price }, lessThan),
	KindPctChangeAbove: fieldEvaluator("percent_change", func(s Snapshot) decimal.NullDecimal { return s.PercentChange }, greaterThan),
	KindPctChangeBelow: fieldEvaluator("percent_change", func(s Snapshot) decimal.NullDecimal { return s.PercentChange }, lessThan),
	KindVolumeAbove:    fieldEvaluator("volume", func(s Snapshot) decimal.NullDecimal { return s.Volume }, greaterThan),
}

// Evaluate 為純函式：相同輸入必得相同輸出，不做任何 I/O。
// 比較皆為嚴格不等式，門檻值本身不觸發。
func Evaluate(a Alert, s Snapshot) (bool, string, error) {
	fn, ok := evaluatorRegistry[a.Kind]
	if !ok {
		return false, "", &ValidationError{Field: "alert_type", Reason: fmt.Sprintf("unsupported alert type %q", a.Kind)}
	}
	return fn(a, s)
}

func fieldEvaluator(field string, pick func(Snapshot) decimal.NullDecimal, cmp comparison) evaluatorFunc {
	return func(a Alert, s Snapshot) (bool, string, error) {
		v := pick(s)
		if !v.Valid {
			return false, "", &DataUnavailableError{Symbol: a.Symbol, Field: field}
		}
		threshold := a.ConditionValue
		switch cmp {
		case greaterThan:
			if v.Decimal.GreaterThan(threshold) {
				return true, fmt.Sprintf("%s %s > %s", field, v.Decimal.String(), threshold.String()), nil
			}
			return false, fmt.Sprintf("%s %s not above %s", field, v.Decimal.String(), threshold.String()), nil
		default:
			if v.Decimal.LessThan(threshold) {
				return true, fmt.Sprintf("%s %s < %s", field, v.Decimal.String(), threshold.String()), nil
			}
			return false, fmt.Sprintf("%s %s not below %s", field, v.Decimal.String(), threshold.String()), nil
		}
	}
}
