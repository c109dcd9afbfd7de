package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Gateway 批次取得行情；每個標的各自成功或失敗。
type Gateway interface {
	FetchSnapshots(ctx context.Context, symbols []string) map[string]alertDomain.SnapshotResult
}

// Notifier 在警報停用後送出通知。
type Notifier interface {
	Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error
}

// OutcomeRecorder 保存每輪評估結果。
type OutcomeRecorder interface {
	RecordOutcomes(ctx context.Context, outcomes []alertDomain.Outcome) error
}

// PassState 單輪評估的狀態。
type PassState string

const (
	StateLoading    PassState = "LOADING"
	StateBatching   PassState = "BATCHING"
	StateEvaluating PassState = "EVALUATING"
	StateApplying   PassState = "APPLYING"
	StateDone       PassState = "DONE"
	StateFailed     PassState = "FAILED"
)

// PassReport 為單輪評估的摘要。
type PassReport struct {
	PassID       string                `json:"pass_id"`
	Trigger      string                `json:"trigger"`
	State        PassState             `json:"state"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	Loaded       int                   `json:"loaded"`
	Symbols      int                   `json:"symbols"`
	Fired        int                   `json:"fired"`
	NotFired     int                   `json:"not_fired"`
	Deferred     int                   `json:"deferred"`
	Errored      int                   `json:"errored"`
	Skipped      int                   `json:"skipped"`
	NotifyFailed int                   `json:"notify_failed"`
	Cancelled    bool                  `json:"cancelled,omitempty"`
	Error        string                `json:"error,omitempty"`
	Outcomes     []alertDomain.Outcome `json:"-"`
}

// EngineOptions 評估參數。
type EngineOptions struct {
	MaxSnapshotAge   time.Duration
	ApplyConcurrency int
	NotifyTimeout    time.Duration
	StoreTimeout     time.Duration
}

// Engine 執行一輪警報評估：載入、查行情、判斷、停用並通知。
type Engine struct {
	store    alertDomain.Store
	gateway  Gateway
	notifier Notifier
	recorder OutcomeRecorder
	opts     EngineOptions
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewEngine 建立評估引擎；recorder 可為 nil。
func NewEngine(store alertDomain.Store, gateway Gateway, notifier Notifier, recorder OutcomeRecorder, opts EngineOptions, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ApplyConcurrency <= 0 {
		opts.ApplyConcurrency = 8
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &Engine{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// candidate 為條件成立、等待停用的警報。
type candidate struct {
	alert  alertDomain.Alert
	reason string
}

// RunPass 執行一輪評估。只有載入失敗會讓整輪失敗；單筆錯誤只記在該筆結果。
func (e *Engine) RunPass(ctx context.Context, trigger string) (PassReport, error) {
	report := PassReport{
		PassID:    e.newID(),
		Trigger:   trigger,
		State:     StateLoading,
		StartedAt: e.now().UTC(),
	}
	log := e.logger.With(zap.String("pass_id", report.PassID), zap.String("trigger", trigger))

	alerts, err := e.store.ListActive(ctx)
	if err != nil {
		if !errors.Is(err, alertDomain.ErrStore) {
			err = &alertDomain.StoreError{Op: "list active", Err: err}
		}
		report.State = StateFailed
		report.Error = err.Error()
		report.FinishedAt = e.now().UTC()
		log.Error("load active alerts failed", zap.Error(err))
		return report, fmt.Errorf("load active alerts: %w", err)
	}
	alerts = dedupByID(alerts)
	report.Loaded = len(alerts)
	if len(alerts) == 0 {
		report.State = StateDone
		report.FinishedAt = e.now().UTC()
		log.Debug("no active alerts")
		return report, nil
	}

	report.State = StateBatching
	symbols := distinctSymbols(alerts)
	report.Symbols = len(symbols)
	snapshots := e.gateway.FetchSnapshots(ctx, symbols)

	report.State = StateEvaluating
	var outcomes []alertDomain.Outcome
	var fired []candidate
	evalAt := e.now().UTC()
	for _, a := range alerts {
		o := alertDomain.Outcome{
			ID:        e.newID(),
			PassID:    report.PassID,
			AlertID:   a.ID,
			Symbol:    a.Symbol,
			Timestamp: evalAt,
		}
		res, ok := snapshots[a.Symbol]
		switch {
		case !ok:
			o.Status, o.Reason = alertDomain.OutcomeDeferred, "no snapshot returned"
		case alertDomain.IsTimeout(res.Err):
			o.Status, o.Reason = alertDomain.OutcomeDeferred, "gateway timeout: "+res.Err.Error()
		case res.Err != nil:
			o.Status, o.Reason = alertDomain.OutcomeDeferred, res.Err.Error()
		case res.Snapshot.Stale(evalAt, e.opts.MaxSnapshotAge):
			o.Status = alertDomain.OutcomeDeferred
			o.Reason = fmt.Sprintf("stale snapshot as of %s", res.Snapshot.AsOf.Format(time.RFC3339))
		default:
			hit, reason, err := alertDomain.Evaluate(a, res.Snapshot)
			switch {
			case errors.Is(err, alertDomain.ErrDataUnavailable):
				o.Status, o.Reason = alertDomain.OutcomeDeferred, err.Error()
			case err != nil:
				o.Status, o.Reason = alertDomain.OutcomeErrored, err.Error()
			case hit:
				fired = append(fired, candidate{alert: a, reason: reason})
				continue
			default:
				o.Status, o.Reason = alertDomain.OutcomeNotFired, reason
			}
		}
		outcomes = append(outcomes, o)
	}

	report.State = StateApplying
	applied, notifyFailed := e.apply(ctx, log, report.PassID, fired)
	outcomes = append(outcomes, applied...)
	report.NotifyFailed = notifyFailed

	e.record(ctx, log, outcomes)
	report.Outcomes = outcomes
	for _, o := range outcomes {
		switch o.Status {
		case alertDomain.OutcomeFired:
			report.Fired++
		case alertDomain.OutcomeNotFired:
			report.NotFired++
		case alertDomain.OutcomeDeferred:
			report.Deferred++
		case alertDomain.OutcomeErrored:
			report.Errored++
		case alertDomain.OutcomeSkipped:
			report.Skipped++
		}
	}
	report.FinishedAt = e.now().UTC()

	if err := ctx.Err(); err != nil {
		report.State = StateFailed
		report.Cancelled = true
		report.Error = err.Error()
		log.Warn("pass cancelled", zap.Int("fired", report.Fired), zap.Int("deferred", report.Deferred))
		return report, fmt.Errorf("pass cancelled: %w", err)
	}

	report.State = StateDone
	log.Info("pass finished",
		zap.Int("loaded", report.Loaded),
		zap.Int("symbols", report.Symbols),
		zap.Int("fired", report.Fired),
		zap.Int("not_fired", report.NotFired),
		zap.Int("deferred", report.Deferred),
		zap.Int("errored", report.Errored),
		zap.Int("skipped", report.Skipped),
		zap.Int("notify_failed", report.NotifyFailed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// apply 先以 compare-and-set 停用，成功者才通知；各警報並行處理。
func (e *Engine) apply(ctx context.Context, log *zap.Logger, passID string, fired []candidate) ([]alertDomain.Outcome, int) {
	outcomes := make([]alertDomain.Outcome, len(fired))
	notifyFailed := make([]bool, len(fired))

	var g errgroup.Group
	g.SetLimit(e.opts.ApplyConcurrency)
	for i, c := range fired {
		i, c := i, c
		g.Go(func() error {
			outcomes[i], notifyFailed[i] = e.applyOne(ctx, log, passID, c)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, f := range notifyFailed {
		if f {
			failed++
		}
	}
	return outcomes, failed
}

func (e *Engine) applyOne(ctx context.Context, log *zap.Logger, passID string, c candidate) (alertDomain.Outcome, bool) {
	a := c.alert
	o := alertDomain.Outcome{
		ID:        e.newID(),
		PassID:    passID,
		AlertID:   a.ID,
		Symbol:    a.Symbol,
		Reason:    c.reason,
		Timestamp: e.now().UTC(),
	}
	if ctx.Err() != nil {
		o.Status = alertDomain.OutcomeDeferred
		o.Reason = "pass cancelled before deactivation: " + c.reason
		return o, false
	}

	// 通過取消檢查後，停用與通知都使用脫離整輪取消的 context。
	storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
	changed, err := e.store.Deactivate(storeCtx, a.ID, alertDomain.ReasonFired, o.Timestamp)
	cancelStore()
	if err != nil {
		o.Status = alertDomain.OutcomeErrored
		o.Reason = fmt.Sprintf("deactivate: %v", err)
		log.Error("deactivate alert failed", zap.String("alert_id", a.ID), zap.Error(err))
		return o, false
	}
	if !changed {
		o.Status = alertDomain.OutcomeSkipped
		log.Warn("alert already inactive, skipping notification", zap.String("alert_id", a.ID), zap.String("symbol", a.Symbol))
		return o, false
	}

	o.Fired = true
	o.Status = alertDomain.OutcomeFired
	fresh := a.Deactivated(alertDomain.ReasonFired, o.Timestamp)

	// 已停用的警報一定要嘗試通知，不受整輪取消影響。
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotifyTimeout)
	defer cancel()
	err = e.notifier.Notify(notifyCtx, fresh, o)
	if errors.Is(err, alertDomain.ErrNoChannel) {
		log.Info("alert fired without notification channel",
			zap.String("alert_id", a.ID),
			zap.String("symbol", a.Symbol),
			zap.String("reason", c.reason),
		)
		return o, false
	}
	if err != nil {
		log.Error("notify failed",
			zap.String("alert_id", a.ID),
			zap.String("symbol", a.Symbol),
			zap.Error(err),
		)
		return o, true
	}
	o.Notified = true
	log.Info("alert fired",
		zap.String("alert_id", a.ID),
		zap.String("symbol", a.Symbol),
		zap.String("reason", c.reason),
	)
	return o, false
}

func (e *Engine) record(ctx context.Context, log *zap.Logger, outcomes []alertDomain.Outcome) {
	if e.recorder == nil || len(outcomes) == 0 {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotifyTimeout)
	defer cancel()
	if err := e.recorder.RecordOutcomes(recCtx, outcomes); err != nil {
		log.Warn("record outcomes failed", zap.Int("count", len(outcomes)), zap.Error(err))
	}
}

func dedupByID(alerts []alertDomain.Alert) []alertDomain.Alert {
	seen := make(map[string]struct{}, len(alerts))
	out := alerts[:0:0]
	for _, a := range alerts {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out
}

func distinctSymbols(alerts []alertDomain.Alert) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range alerts {
		if _, ok := seen[a.Symbol]; ok {
			continue
		}
		seen[a.Symbol] = struct{}{}
		out = append(out, a.Symbol)
	}
	return out
}
