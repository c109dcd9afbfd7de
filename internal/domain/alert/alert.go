package alert

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind 列舉警報觸發條件類型。
type Kind string

const (
	KindPriceAbove     Kind = "PRICE_ABOVE"
	KindPriceBelow     Kind = "PRICE_BELOW"
	KindPctChangeAbove Kind = "PCT_CHANGE_ABOVE"
	KindPctChangeBelow Kind = "PCT_CHANGE_BELOW"
	KindVolumeAbove    Kind = "VOLUME_ABOVE"
)

// Kinds 回傳所有支援的條件類型。
func Kinds() []Kind {
	return []Kind{KindPriceAbove, KindPriceBelow, KindPctChangeAbove, KindPctChangeBelow, KindVolumeAbove}
}

// ParseKind 將字串轉為 Kind，不分大小寫。
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "alert_type", Reason: fmt.Sprintf("unsupported alert type %q", s)}
}

// DeactivationReason 記錄警報停用原因。
type DeactivationReason string

const (
	ReasonFired     DeactivationReason = "fired"
	ReasonCancelled DeactivationReason = "cancelled"
)

const (
	maxEmailLen  = 254
	maxSymbolLen = 10

	// 門檻值的整數位數與小數位數上限，所有 store 都能原樣保存。
	maxConditionIntDigits = 20
	maxConditionScale     = 18
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

// Alert 為使用者的常駐警報設定，條件成立時觸發一次後停用。
type Alert struct {
	ID                 string
	Email              string
	Symbol             string
	Kind               Kind
	ConditionValue     decimal.Decimal
	Active             bool
	CreatedAt          time.Time
	DeactivatedAt      *time.Time
	DeactivationReason DeactivationReason
}

// Definition 為建立警報時的原始輸入，condition_value 以文字保留精度。
type Definition struct {
	Email          string
	Symbol         string
	AlertType      string
	ConditionValue string
}

// NormalizeSymbol 去除空白並轉為大寫。
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// New 驗證輸入並建立一筆啟用中的警報；ID 由呼叫端或 store 指派。
func New(def Definition, now time.Time) (Alert, error) {
	kind, err := ParseKind(def.AlertType)
	if err != nil {
		return Alert{}, err
	}
	value, err := ParseConditionValue(def.ConditionValue)
	if err != nil {
		return Alert{}, err
	}
	a := Alert{
		Email:          strings.TrimSpace(def.Email),
		Symbol:         NormalizeSymbol(def.Symbol),
		Kind:           kind,
		ConditionValue: value,
		Active:         true,
		CreatedAt:      now.UTC(),
	}
	if err := a.Validate(); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// ParseConditionValue 解析門檻值；NaN、Inf 與空字串都視為錯誤。
func ParseConditionValue(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, &ValidationError{Field: "condition_value", Reason: "condition_value is required"}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Field: "condition_value", Reason: fmt.Sprintf("not a finite number: %q", s)}
	}
	if err := checkConditionBounds(v); err != nil {
		return decimal.Decimal{}, err
	}
	return v, nil
}

// checkConditionBounds 限制門檻值的整數位數與小數位數（尾端 0 不計）。
func checkConditionBounds(v decimal.Decimal) error {
	if v.IsZero() {
		return nil
	}
	tooLarge := &ValidationError{Field: "condition_value", Reason: fmt.Sprintf("at most %d integer digits allowed", maxConditionIntDigits)}
	tooPrecise := &ValidationError{Field: "condition_value", Reason: fmt.Sprintf("at most %d decimal places allowed", maxConditionScale)}
	// 先以指數排除極端值，避免把 1e400 之類展開成長字串。
	if int64(v.Exponent()) > maxConditionIntDigits {
		return tooLarge
	}
	if int64(v.Exponent()) < -(maxConditionScale + maxConditionIntDigits + 64) {
		return tooPrecise
	}
	intPart, frac, _ := strings.Cut(v.Abs().String(), ".")
	if len(intPart) > maxConditionIntDigits {
		return tooLarge
	}
	if len(frac) > maxConditionScale {
		return tooPrecise
	}
	return nil
}

// Validate 檢查欄位是否符合儲存條件，store 寫入前一律呼叫。
func (a Alert) Validate() error {
	if err := validateEmail(a.Email); err != nil {
		return err
	}
	if !symbolPattern.MatchString(a.Symbol) || len(a.Symbol) > maxSymbolLen {
		return &ValidationError{Field: "symbol", Reason: fmt.Sprintf("symbol must be 1-%d uppercase characters, got %q", maxSymbolLen, a.Symbol)}
	}
	if _, err := ParseKind(string(a.Kind)); err != nil {
		return err
	}
	if err := checkConditionBounds(a.ConditionValue); err != nil {
		return err
	}
	switch a.Kind {
	case KindPriceAbove, KindPriceBelow, KindVolumeAbove:
		if a.ConditionValue.IsNegative() {
			return &ValidationError{Field: "condition_value", Reason: fmt.Sprintf("%s threshold must not be negative", a.Kind)}
		}
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "email is required"}
	}
	if len(email) > maxEmailLen {
		return &ValidationError{Field: "email", Reason: "email too long"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Reason: fmt.Sprintf("invalid email %q", email)}
	}
	return nil
}

// Deactivated 回傳停用後的副本，供 store 實作共用。
func (a Alert) Deactivated(reason DeactivationReason, at time.Time) Alert {
	t := at.UTC()
	a.Active = false
	a.DeactivatedAt = &t
	a.DeactivationReason = reason
	return a
}

// ListFilter 查詢條件，零值代表全部。
type ListFilter struct {
	ActiveOnly bool
	Symbol     string
	Limit      int
}
