package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"
	"smartstock-alerts/internal/infra/memory"
	"smartstock-alerts/internal/infrastructure/market"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]alertDomain.SnapshotResult
	hook    func()
}

func (g *fakeGateway) FetchSnapshots(ctx context.Context, symbols []string) map[string]alertDomain.SnapshotResult {
	g.mu.Lock()
	g.calls = append(g.calls, append([]string(nil), symbols...))
	g.mu.Unlock()
	if g.hook != nil {
		g.hook()
	}
	out := make(map[string]alertDomain.SnapshotResult, len(symbols))
	for _, s := range symbols {
		if r, ok := g.results[s]; ok {
			out[s] = r
		}
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []alertDomain.Alert
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n.sent = append(n.sent, a)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func price(sym, p string) alertDomain.SnapshotResult {
	return alertDomain.SnapshotResult{Snapshot: alertDomain.Snapshot{
		Symbol: sym,
		Price:  alertDomain.Known(decimal.RequireFromString(p)),
		AsOf:   testNow.Add(-time.Minute),
	}}
}

func mustCreate(t *testing.T, s *memory.Store, symbol, kind, value string) string {
	t.Helper()
	a, err := alertDomain.New(alertDomain.Definition{Email: "u@example.com", Symbol: symbol, AlertType: kind, ConditionValue: value}, testNow)
	if err != nil {
		t.Fatalf("new alert: %v", err)
	}
	id, err := s.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	return id
}

func newTestEngine(store alertDomain.Store, gw Gateway, n Notifier, rec OutcomeRecorder) *Engine {
	e := NewEngine(store, gw, n, rec, EngineOptions{MaxSnapshotAge: 15 * time.Minute, ApplyConcurrency: 4, NotifyTimeout: time.Second}, nil)
	e.now = func() time.Time { return testNow }
	return e
}

func isActive(t *testing.T, s *memory.Store, id string) bool {
	t.Helper()
	a, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return a.Active
}

func TestRunPass_StrictBoundary(t *testing.T) {
	cases := []struct {
		price string
		fire  bool
	}{
		{"100.01", true},
		{"100.00", false},
		{"99.99", false},
	}
	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			store := memory.NewStore()
			id := mustCreate(t, store, "AAPL", "PRICE_ABOVE", "100")
			n := &fakeNotifier{}
			gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", tc.price)}}

			report, err := newTestEngine(store, gw, n, store).RunPass(context.Background(), "test")
			if err != nil {
				t.Fatalf("run pass: %v", err)
			}
			if report.State != StateDone {
				t.Errorf("expected DONE, got %s", report.State)
			}
			if got := report.Fired == 1; got != tc.fire {
				t.Errorf("fired=%d, want fire=%v", report.Fired, tc.fire)
			}
			if isActive(t, store, id) == tc.fire {
				t.Errorf("active state mismatch for price %s", tc.price)
			}
			if n.count() != report.Fired {
				t.Errorf("notifications %d != fired %d", n.count(), report.Fired)
			}
		})
	}
}

func TestRunPass_FiredAlertNotEvaluatedAgain(t *testing.T) {
	store := memory.NewStore()
	mustCreate(t, store, "AAPL", "PRICE_ABOVE", "100")
	n := &fakeNotifier{}
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "150")}}
	e := newTestEngine(store, gw, n, store)

	if _, err := e.RunPass(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	report, err := e.RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Loaded != 0 || n.count() != 1 {
		t.Errorf("second pass should be a no-op: loaded=%d notified=%d", report.Loaded, n.count())
	}
}

func TestRunPass_OneLookupPerDistinctSymbol(t *testing.T) {
	store := memory.NewStore()
	mustCreate(t, store, "AAPL", "PRICE_ABOVE", "100")
	mustCreate(t, store, "AAPL", "PRICE_BELOW", "50")
	mustCreate(t, store, "TSLA", "PRICE_ABOVE", "300")

	var mu sync.Mutex
	lookups := map[string]int{}
	quoter := market.QuoterFunc(func(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
		mu.Lock()
		lookups[symbol]++
		mu.Unlock()
		return price(symbol, "10").Snapshot, nil
	})
	gw := market.NewFanOut(quoter, market.FanOutOptions{Timeout: time.Second}, nil)

	report, err := newTestEngine(store, gw, &fakeNotifier{}, nil).RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Symbols != 2 || len(lookups) != 2 || lookups["AAPL"] != 1 || lookups["TSLA"] != 1 {
		t.Errorf("expected one lookup per symbol, got %v (symbols=%d)", lookups, report.Symbols)
	}
	if report.Fired != 1 || report.NotFired != 2 {
		t.Errorf("unexpected counts %+v", report)
	}
}

func TestRunPass_TimeoutDefersOnlyThatSymbol(t *testing.T) {
	store := memory.NewStore()
	aapl := mustCreate(t, store, "AAPL", "PRICE_ABOVE", "100")
	tsla := mustCreate(t, store, "TSLA", "PRICE_ABOVE", "1")

	quoter := market.QuoterFunc(func(ctx context.Context, symbol string) (alertDomain.Snapshot, error) {
		if symbol == "TSLA" {
			<-ctx.Done()
			return alertDomain.Snapshot{}, ctx.Err()
		}
		return price(symbol, "100.01").Snapshot, nil
	})
	gw := market.NewFanOut(quoter, market.FanOutOptions{Timeout: 20 * time.Millisecond}, nil)
	n := &fakeNotifier{}

	report, err := newTestEngine(store, gw, n, store).RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if isActive(t, store, aapl) {
		t.Error("AAPL should have fired")
	}
	if !isActive(t, store, tsla) {
		t.Error("TSLA should stay active after timeout")
	}
	if report.Fired != 1 || report.Deferred != 1 {
		t.Errorf("unexpected counts %+v", report)
	}
	outcomes, _ := store.ListOutcomes(context.Background(), tsla, 10)
	if len(outcomes) != 1 || outcomes[0].Status != alertDomain.OutcomeDeferred {
		t.Errorf("expected deferred outcome for TSLA, got %+v", outcomes)
	}
}

func TestRunPass_DeferredWhenDataMissingOrStale(t *testing.T) {
	store := memory.NewStore()
	vol := mustCreate(t, store, "AAPL", "VOLUME_ABOVE", "1000")
	stale := mustCreate(t, store, "MSFT", "PRICE_ABOVE", "1")

	old := price("MSFT", "500")
	old.Snapshot.AsOf = testNow.Add(-time.Hour)
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{
		"AAPL": price("AAPL", "200"),
		"MSFT": old,
	}}

	report, err := newTestEngine(store, gw, &fakeNotifier{}, nil).RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Deferred != 2 || report.Fired != 0 {
		t.Errorf("unexpected counts %+v", report)
	}
	if !isActive(t, store, vol) || !isActive(t, store, stale) {
		t.Error("deferred alerts must stay active")
	}
}

func TestRunPass_LoadFailure(t *testing.T) {
	store := &stubStore{listErr: errors.New("connection refused")}
	report, err := newTestEngine(store, &fakeGateway{}, &fakeNotifier{}, nil).RunPass(context.Background(), "test")
	if !errors.Is(err, alertDomain.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if report.State != StateFailed {
		t.Errorf("expected FAILED, got %s", report.State)
	}
}

func TestRunPass_EmptyIsDone(t *testing.T) {
	gw := &fakeGateway{}
	report, err := newTestEngine(memory.NewStore(), gw, &fakeNotifier{}, nil).RunPass(context.Background(), "test")
	if err != nil || report.State != StateDone {
		t.Fatalf("expected DONE, got %s %v", report.State, err)
	}
	if len(gw.calls) != 0 {
		t.Error("gateway should not be called for an empty pass")
	}
}

func TestRunPass_LostRaceSkipsNotification(t *testing.T) {
	a, _ := alertDomain.New(alertDomain.Definition{Email: "u@example.com", Symbol: "AAPL", AlertType: "PRICE_ABOVE", ConditionValue: "1"}, testNow)
	a.ID = "a-1"
	store := &stubStore{alerts: []alertDomain.Alert{a, a}}
	n := &fakeNotifier{}
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "5")}}

	report, err := newTestEngine(store, gw, n, nil).RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Loaded != 1 {
		t.Errorf("duplicate ids should be evaluated once, loaded=%d", report.Loaded)
	}
	if report.Skipped != 1 || n.count() != 0 {
		t.Errorf("expected skipped without notification: %+v notified=%d", report, n.count())
	}
}

func TestRunPass_DeactivateErrorLeavesAlertForRetry(t *testing.T) {
	a, _ := alertDomain.New(alertDomain.Definition{Email: "u@example.com", Symbol: "AAPL", AlertType: "PRICE_ABOVE", ConditionValue: "1"}, testNow)
	a.ID = "a-1"
	store := &stubStore{alerts: []alertDomain.Alert{a}, deactivateErr: &alertDomain.StoreError{Op: "deactivate", Err: errors.New("deadlock")}}
	n := &fakeNotifier{}
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "5")}}

	report, err := newTestEngine(store, gw, n, nil).RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Errored != 1 || n.count() != 0 {
		t.Errorf("expected errored outcome and no notification: %+v", report)
	}
}

func TestRunPass_NotifierFailureDoesNotReactivate(t *testing.T) {
	store := memory.NewStore()
	id := mustCreate(t, store, "AAPL", "PRICE_ABOVE", "100")
	n := &fakeNotifier{err: &alertDomain.NotifierError{Channel: "email", Err: errors.New("smtp down")}}
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "101")}}

	report, err := newTestEngine(store, gw, n, store).RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Fired != 1 || report.NotifyFailed != 1 {
		t.Errorf("unexpected counts %+v", report)
	}
	if isActive(t, store, id) {
		t.Error("alert must stay inactive after notifier failure")
	}
	outcomes, _ := store.ListOutcomes(context.Background(), id, 10)
	if len(outcomes) != 1 || outcomes[0].Notified {
		t.Errorf("outcome should record failed notification: %+v", outcomes)
	}
}

func TestRunPass_CancelledBeforeApplyLeavesAlertsActive(t *testing.T) {
	store := memory.NewStore()
	ids := []string{
		mustCreate(t, store, "AAPL", "PRICE_ABOVE", "1"),
		mustCreate(t, store, "TSLA", "PRICE_ABOVE", "1"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{
		results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "5"), "TSLA": price("TSLA", "5")},
		hook:    cancel,
	}
	n := &fakeNotifier{}

	report, err := newTestEngine(store, gw, n, store).RunPass(ctx, "test")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if !report.Cancelled || report.State != StateFailed {
		t.Errorf("unexpected report %+v", report)
	}
	for _, id := range ids {
		if !isActive(t, store, id) {
			t.Errorf("alert %s should remain active", id)
		}
	}
	if n.count() != 0 {
		t.Error("no notification expected")
	}
}

func TestRunPass_NotifiesWithDetachedContext(t *testing.T) {
	store := memory.NewStore()
	mustCreate(t, store, "AAPL", "PRICE_ABOVE", "1")
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "5")}}
	n := &cancelOnDeactivateNotifier{fakeNotifier: &fakeNotifier{}}
	stub := &cancellingStore{Store: store, cancel: cancel}

	report, _ := newTestEngine(stub, gw, n, nil).RunPass(ctx, "test")
	if report.Fired != 1 || n.count() != 1 {
		t.Errorf("deactivated alert must still be notified: %+v", report)
	}
}

type stubStore struct {
	alerts        []alertDomain.Alert
	listErr       error
	deactivateErr error
}

func (s *stubStore) ListActive(context.Context) ([]alertDomain.Alert, error) {
	return s.alerts, s.listErr
}

func (s *stubStore) Deactivate(context.Context, string, alertDomain.DeactivationReason, time.Time) (bool, error) {
	if s.deactivateErr != nil {
		return false, s.deactivateErr
	}
	return false, nil
}

// cancellingStore 在停用成功後取消整輪 context。
type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) Deactivate(ctx context.Context, id string, reason alertDomain.DeactivationReason, at time.Time) (bool, error) {
	changed, err := s.Store.Deactivate(ctx, id, reason, at)
	s.cancel()
	return changed, err
}

type cancelOnDeactivateNotifier struct {
	*fakeNotifier
}

func (n *cancelOnDeactivateNotifier) Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error {
	if ctx.Err() != nil {
		return fmt.Errorf("notify called with cancelled context: %w", ctx.Err())
	}
	return n.fakeNotifier.Notify(ctx, a, o)
}

// commitThenCancelStore 寫入成功後才取消整輪，並像資料庫驅動一樣回報收到的 context 錯誤。
type commitThenCancelStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *commitThenCancelStore) Deactivate(ctx context.Context, id string, reason alertDomain.DeactivationReason, at time.Time) (bool, error) {
	changed, err := s.Store.Deactivate(ctx, id, reason, at)
	s.cancel()
	if ctx.Err() != nil {
		return false, &alertDomain.StoreError{Op: "deactivate", Err: ctx.Err()}
	}
	return changed, err
}

func TestRunPass_CancelDuringDeactivateStillNotifies(t *testing.T) {
	store := memory.NewStore()
	id := mustCreate(t, store, "AAPL", "PRICE_ABOVE", "1")
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "5")}}
	n := &fakeNotifier{}
	stub := &commitThenCancelStore{Store: store, cancel: cancel}

	report, _ := newTestEngine(stub, gw, n, store).RunPass(ctx, "test")
	if isActive(t, store, id) {
		t.Fatal("alert should be deactivated")
	}
	if report.Fired != 1 || report.Errored != 0 || n.count() != 1 {
		t.Errorf("committed deactivation must be reported as fired and notified: %+v notified=%d", report, n.count())
	}
	outcomes, _ := store.ListOutcomes(context.Background(), id, 10)
	if len(outcomes) != 1 || !outcomes[0].Notified {
		t.Errorf("expected notified outcome, got %+v", outcomes)
	}
}

func TestRunPass_NoChannelIsNotNotified(t *testing.T) {
	store := memory.NewStore()
	id := mustCreate(t, store, "AAPL", "PRICE_ABOVE", "1")
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"AAPL": price("AAPL", "5")}}
	n := &fakeNotifier{err: alertDomain.ErrNoChannel}

	report, err := newTestEngine(store, gw, n, store).RunPass(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Fired != 1 || report.NotifyFailed != 0 {
		t.Errorf("unexpected counts %+v", report)
	}
	outcomes, _ := store.ListOutcomes(context.Background(), id, 10)
	if len(outcomes) != 1 || outcomes[0].Notified {
		t.Errorf("outcome must not claim delivery without a channel: %+v", outcomes)
	}
}

func TestRunPass_TimeoutReason(t *testing.T) {
	store := memory.NewStore()
	id := mustCreate(t, store, "TSLA", "PRICE_ABOVE", "1")
	timeout := &alertDomain.DataUnavailableError{Symbol: "TSLA", Err: alertDomain.ErrGatewayTimeout}
	gw := &fakeGateway{results: map[string]alertDomain.SnapshotResult{"TSLA": {Err: timeout}}}

	if _, err := newTestEngine(store, gw, &fakeNotifier{}, store).RunPass(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	outcomes, _ := store.ListOutcomes(context.Background(), id, 10)
	if len(outcomes) != 1 || !strings.HasPrefix(outcomes[0].Reason, "gateway timeout: ") {
		t.Errorf("expected timeout reason, got %+v", outcomes)
	}
}
