package alert

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("invalid alert definition")
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrGatewayTimeout  = errors.New("market data gateway timeout")
	ErrStore           = errors.New("alert store failure")
	ErrNotifier        = errors.New("notification delivery failed")
	ErrNotFound        = errors.New("alert not found")
	// ErrNoChannel 表示沒有設定任何通知管道；觸發仍有效，只是沒有送出。
	ErrNoChannel       = errors.New("no notification channel configured")
)

// ValidationError 表示建立時的欄位錯誤，永遠不會寫入 store。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DataUnavailableError 表示某檔行情缺漏、過期或逾時；警報延後到下一輪。
type DataUnavailableError struct {
	Symbol string
	Field  string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	msg := "market data unavailable for " + e.Symbol
	if e.Field != "" {
		msg += " (missing " + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataUnavailableError) Is(target error) bool { return target == ErrDataUnavailable }

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// StoreError 包裝持久層錯誤。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func (e *StoreError) Unwrap() error { return e.Err }

// NotifierError 表示停用後通知送出失敗，不會回復警報狀態。
type NotifierError struct {
	Channel string
	Err     error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notify via %s: %v", e.Channel, e.Err)
}

func (e *NotifierError) Is(target error) bool { return target == ErrNotifier }

func (e *NotifierError) Unwrap() error { return e.Err }

// IsTimeout 判斷錯誤是否來自行情逾時。
func IsTimeout(err error) bool {
	return errors.Is(err, ErrGatewayTimeout)
}
