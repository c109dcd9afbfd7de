package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// JobName 為定期評估工作的名稱。
const JobName = "alerts.evaluate"

const historyLimit = 50

// ErrPassInProgress 表示已有一輪評估在執行。
var ErrPassInProgress = errors.New("evaluation pass already in progress")

// PassRunner 執行單輪評估。
type PassRunner interface {
	RunPass(ctx context.Context, trigger string) (PassReport, error)
}

type SchedulerOptions struct {
	Interval    time.Duration
	PassTimeout time.Duration
	RunOnStart  bool
}

// SchedulerStatus 供管理 API 查詢。
type SchedulerStatus struct {
	Job       string     `json:"job"`
	Scheduled bool       `json:"scheduled"`
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	Runs      int64      `json:"runs"`
	Skipped   int64      `json:"skipped"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastState PassState  `json:"last_state,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Scheduler 定期觸發評估；同一時間最多一輪，忙碌時跳過該次觸發。
type Scheduler struct {
	runner PassRunner
	opts   SchedulerOptions
	logger *zap.Logger

	busy    atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	history []PassReport
}

// NewScheduler 建立排程器。
func NewScheduler(runner PassRunner, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner: runner,
		opts:   opts,
		logger: logger.With(zap.String("job", JobName)),
	}
}

// Schedule 啟動迴圈；已排程時不重複註冊並回傳 false。
func (s *Scheduler) Schedule(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Debug("already scheduled")
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.logger.Info("scheduled", zap.Duration("interval", s.opts.Interval), zap.Bool("run_on_start", s.opts.RunOnStart))
	go s.loop(loopCtx, done)
	return true
}

// Unschedule 停止迴圈並等待進行中的評估結束；未排程時不做事。
func (s *Scheduler) Unschedule() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("unscheduled")
}

// TriggerNow 手動執行一輪；忙碌時回傳 ErrPassInProgress。
func (s *Scheduler) TriggerNow(ctx context.Context) (PassReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return PassReport{}, ErrPassInProgress
	}
	defer s.busy.Store(false)
	return s.run(ctx, "manual")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		// 上層 context 結束時迴圈自行退出，需清掉註冊狀態才能重新 Schedule。
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel, s.done = nil, nil
			s.logger.Info("loop stopped by parent context")
		}
		s.mu.Unlock()
		close(done)
	}()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	if s.opts.RunOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("previous pass still running, skipping tick")
		return
	}
	defer s.busy.Store(false)
	_, _ = s.run(ctx, "schedule")
}

func (s *Scheduler) run(ctx context.Context, trigger string) (PassReport, error) {
	passCtx := ctx
	if s.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, s.opts.PassTimeout)
		defer cancel()
	}
	s.runs.Add(1)
	report, err := s.runner.RunPass(passCtx, trigger)
	if err != nil {
		s.logger.Error("pass failed", zap.String("pass_id", report.PassID), zap.Error(err))
	}
	s.recordHistory(report)
	return report, err
}

func (s *Scheduler) recordHistory(report PassReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]PassReport{report}, s.history...)
	if len(s.history) > historyLimit {
		s.history = s.history[:historyLimit]
	}
}

// History 回傳最近的評估紀錄（新到舊）。
func (s *Scheduler) History() []PassReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PassReport, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SchedulerStatus{
		Job:       JobName,
		Scheduled: s.cancel != nil,
		Running:   s.busy.Load(),
		Interval:  s.opts.Interval.String(),
		Runs:      s.runs.Load(),
		Skipped:   s.skipped.Load(),
	}
	if len(s.history) > 0 {
		last := s.history[0]
		t := last.StartedAt
		st.LastRunAt = &t
		st.LastState = last.State
		st.LastError = last.Error
	}
	return st
}
