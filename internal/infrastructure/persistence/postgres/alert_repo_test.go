package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

const (
	alertID = "22222222-2222-2222-2222-222222222222"
	otherID = "99999999-9999-9999-9999-999999999999"
)

var alertCols = []string{"id", "email", "symbol", "alert_type", "condition_value", "active", "created_at", "deactivated_at", "deactivation_reason"}

func validAlert() alertDomain.Alert {
	return alertDomain.Alert{
		Email:          "trader@example.com",
		Symbol:         "AAPL",
		Kind:           alertDomain.KindPriceAbove,
		ConditionValue: decimal.NewFromInt(100),
		Active:         true,
	}
}

func TestAlertRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewAlertRepo(db)
	a := validAlert()
	a.ID = "11111111-1111-1111-1111-111111111111"

	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(a.ID, "trader@example.com", "AAPL", "PRICE_ABOVE", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := repo.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != a.ID {
		t.Errorf("expected %s, got %s", a.ID, id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestAlertRepo_CreateValidation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	a := validAlert()
	a.Symbol = "TOO-LONG-SYMBOL"
	_, err = NewAlertRepo(db).Create(context.Background(), a)
	if !errors.Is(err, alertDomain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query expected: %s", err)
	}
}

func TestAlertRepo_ListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(alertCols).
		AddRow(alertID, "a@example.com", "AAPL", "PRICE_ABOVE", "100.5", true, now, nil, nil).
		AddRow("id-2", "b@example.com", "TSLA", "VOLUME_ABOVE", "1000000", true, now, nil, nil)
	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE active = TRUE").WillReturnRows(rows)

	alerts, err := NewAlertRepo(db).ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if !alerts[0].ConditionValue.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("unexpected condition value %s", alerts[0].ConditionValue)
	}
	if alerts[1].Kind != alertDomain.KindVolumeAbove {
		t.Errorf("unexpected kind %s", alerts[1].Kind)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestAlertRepo_ListActiveError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM alerts").WillReturnError(errors.New("connection refused"))
	_, err = NewAlertRepo(db).ListActive(context.Background())
	if !errors.Is(err, alertDomain.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestAlertRepo_Deactivate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewAlertRepo(db)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectExec("UPDATE alerts").
		WithArgs(alertID, sqlmock.AnyArg(), "fired").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE alerts").
		WithArgs(alertID, sqlmock.AnyArg(), "fired").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.Deactivate(ctx, alertID, alertDomain.ReasonFired, at)
	if err != nil || !changed {
		t.Fatalf("first deactivate: changed=%v err=%v", changed, err)
	}
	changed, err = repo.Deactivate(ctx, alertID, alertDomain.ReasonFired, at)
	if err != nil || changed {
		t.Fatalf("second deactivate: changed=%v err=%v", changed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestAlertRepo_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE id").
		WithArgs(otherID).
		WillReturnRows(sqlmock.NewRows(alertCols))

	_, err = NewAlertRepo(db).Get(context.Background(), otherID)
	if !errors.Is(err, alertDomain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAlertRepo_MalformedIDNeverQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewAlertRepo(db)
	ctx := context.Background()
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, alertDomain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	changed, err := repo.Deactivate(ctx, "missing", alertDomain.ReasonCancelled, time.Now())
	if err != nil || changed {
		t.Errorf("expected no-op, got changed=%v err=%v", changed, err)
	}
	a := validAlert()
	a.ID = "not-a-uuid"
	if _, err := repo.Create(ctx, a); !errors.Is(err, alertDomain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query expected: %s", err)
	}
}

func TestAlertRepo_CreateConditionValueBounds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()
	repo := NewAlertRepo(db)

	// 大量與極小門檻值都以原始文字寫入，不會被欄位精度改變。
	for _, v := range []string{"123456789012345", "0.000000001"} {
		a := validAlert()
		a.ConditionValue = decimal.RequireFromString(v)
		mock.ExpectExec("INSERT INTO alerts").
			WithArgs(sqlmock.AnyArg(), "trader@example.com", "AAPL", "PRICE_ABOVE", v, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		if _, err := repo.Create(context.Background(), a); err != nil {
			t.Fatalf("create %s: %v", v, err)
		}
	}

	a := validAlert()
	a.ConditionValue = decimal.New(1, 400)
	if _, err := repo.Create(context.Background(), a); !errors.Is(err, alertDomain.ErrValidation) {
		t.Fatalf("expected validation error for oversized threshold, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestAlertRepo_GetDeactivated(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM alerts WHERE id").
		WithArgs(otherID).
		WillReturnRows(sqlmock.NewRows(alertCols).
			AddRow(otherID, "a@example.com", "AAPL", "PRICE_BELOW", "90", false, now, now, "cancelled"))

	a, err := NewAlertRepo(db).Get(context.Background(), otherID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Active || a.DeactivatedAt == nil || a.DeactivationReason != alertDomain.ReasonCancelled {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestAlertRepo_DeleteAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM evaluation_outcomes").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM alerts").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := NewAlertRepo(db).DeleteAll(context.Background())
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestAlertRepo_RecordOutcomes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	now := time.Now()
	outcomes := []alertDomain.Outcome{
		{ID: "o-1", PassID: "p-1", AlertID: alertID, Symbol: "AAPL", Fired: true, Status: alertDomain.OutcomeFired, Reason: "price 101 > 100", Notified: true, Timestamp: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO evaluation_outcomes").
		WithArgs("o-1", "p-1", alertID, "AAPL", true, "fired", "price 101 > 100", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := NewAlertRepo(db).RecordOutcomes(context.Background(), outcomes); err != nil {
		t.Fatalf("RecordOutcomes failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestAlertRepo_ListOutcomes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM evaluation_outcomes").
		WithArgs(alertID, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pass_id", "alert_id", "symbol", "fired", "status", "reason", "notified", "evaluated_at"}).
			AddRow("o-1", "p-1", alertID, "AAPL", false, "deferred", "timeout", false, now))

	outs, err := NewAlertRepo(db).ListOutcomes(context.Background(), alertID, 5)
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(outs) != 1 || outs[0].Status != alertDomain.OutcomeDeferred {
		t.Fatalf("unexpected outcomes %+v", outs)
	}
}
