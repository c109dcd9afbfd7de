package alert

import "time"

// OutcomeStatus 單筆警報於一輪評估中的結果。
type OutcomeStatus string

const (
	OutcomeFired    OutcomeStatus = "fired"
	OutcomeNotFired OutcomeStatus = "not_fired"
	OutcomeDeferred OutcomeStatus = "deferred"
	OutcomeErrored  OutcomeStatus = "errored"
	// OutcomeSkipped 表示條件成立但停用時發現已被其他流程停用。
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome 記錄一輪評估中單筆警報的結果，用於日誌、通知與稽核。
type Outcome struct {
	ID        string
	PassID    string
	AlertID   string
	Symbol    string
	Fired     bool
	Status    OutcomeStatus
	Reason    string
	Notified  bool
	Timestamp time.Time
}
