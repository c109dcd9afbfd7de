package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/google/uuid"
)

// AlertRepo 提供 Postgres 警報與評估結果存取。
type AlertRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewAlertRepo 建立 Postgres 警報存取實例。
func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db, now: time.Now}
}

const alertColumns = `id, email, symbol, alert_type, condition_value, active, created_at, deactivated_at, deactivation_reason`

// Create 驗證後寫入警報，回傳 id。
func (r *AlertRepo) Create(ctx context.Context, a alertDomain.Alert) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	} else if !validID(a.ID) {
		return "", &alertDomain.ValidationError{Field: "id", Reason: "id must be a UUID"}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	const q = `
INSERT INTO alerts (id, email, symbol, alert_type, condition_value, active, created_at)
VALUES ($1, $2, $3, $4, $5, TRUE, $6);
`
	if _, err := r.db.ExecContext(ctx, q, a.ID, a.Email, a.Symbol, string(a.Kind), a.ConditionValue, a.CreatedAt); err != nil {
		return "", &alertDomain.StoreError{Op: "create", Err: err}
	}
	return a.ID, nil
}

// Get 依 id 取得警報。
func (r *AlertRepo) Get(ctx context.Context, id string) (alertDomain.Alert, error) {
	if !validID(id) {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`
	a, err := scanAlert(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	if err != nil {
		return alertDomain.Alert{}, &alertDomain.StoreError{Op: "get", Err: err}
	}
	return a, nil
}

// ListActive 走 idx_alerts_active，為評估流程的熱路徑。
func (r *AlertRepo) ListActive(ctx context.Context) ([]alertDomain.Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE active = TRUE ORDER BY created_at, id;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &alertDomain.StoreError{Op: "list active", Err: err}
	}
	return collectAlerts(rows)
}

// List 依條件列出警報。
func (r *AlertRepo) List(ctx context.Context, filter alertDomain.ListFilter) ([]alertDomain.Alert, error) {
	q := `
SELECT ` + alertColumns + `
FROM alerts
WHERE ($1::bool IS FALSE OR active = TRUE)
AND ($2 = '' OR symbol = $2)
ORDER BY created_at, id
LIMIT $3;
`
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, q, filter.ActiveOnly, alertDomain.NormalizeSymbol(filter.Symbol), limit)
	if err != nil {
		return nil, &alertDomain.StoreError{Op: "list", Err: err}
	}
	return collectAlerts(rows)
}

// Deactivate 以條件更新實作 compare-and-set，RowsAffected 決定是否由本次呼叫停用。
func (r *AlertRepo) Deactivate(ctx context.Context, id string, reason alertDomain.DeactivationReason, at time.Time) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	const q = `
UPDATE alerts
SET active = FALSE, deactivated_at = $2, deactivation_reason = $3
WHERE id = $1 AND active = TRUE;
`
	res, err := r.db.ExecContext(ctx, q, id, at.UTC(), string(reason))
	if err != nil {
		return false, &alertDomain.StoreError{Op: "deactivate", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &alertDomain.StoreError{Op: "deactivate", Err: err}
	}
	return n == 1, nil
}

// DeleteAll 清空警報與評估紀錄（對應外掛移除）。
func (r *AlertRepo) DeleteAll(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &alertDomain.StoreError{Op: "delete all", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM evaluation_outcomes;`); err != nil {
		return 0, &alertDomain.StoreError{Op: "delete all", Err: err}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM alerts;`)
	if err != nil {
		return 0, &alertDomain.StoreError{Op: "delete all", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &alertDomain.StoreError{Op: "delete all", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &alertDomain.StoreError{Op: "delete all", Err: err}
	}
	return n, nil
}

// RecordOutcomes 批次寫入評估結果。
func (r *AlertRepo) RecordOutcomes(ctx context.Context, outcomes []alertDomain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &alertDomain.StoreError{Op: "record outcomes", Err: err}
	}
	defer tx.Rollback()

	const q = `
INSERT INTO evaluation_outcomes (id, pass_id, alert_id, symbol, fired, status, reason, notified, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	for _, o := range outcomes {
		id := o.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, q, id, o.PassID, o.AlertID, o.Symbol, o.Fired, string(o.Status), o.Reason, o.Notified, o.Timestamp.UTC()); err != nil {
			return &alertDomain.StoreError{Op: "record outcomes", Err: fmt.Errorf("alert %s: %w", o.AlertID, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &alertDomain.StoreError{Op: "record outcomes", Err: err}
	}
	return nil
}

// ListOutcomes 取某警報最近的評估紀錄。
func (r *AlertRepo) ListOutcomes(ctx context.Context, alertID string, limit int) ([]alertDomain.Outcome, error) {
	if !validID(alertID) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, pass_id, alert_id, symbol, fired, status, reason, notified, evaluated_at
FROM evaluation_outcomes
WHERE alert_id = $1
ORDER BY evaluated_at DESC
LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, alertID, limit)
	if err != nil {
		return nil, &alertDomain.StoreError{Op: "list outcomes", Err: err}
	}
	defer rows.Close()

	var out []alertDomain.Outcome
	for rows.Next() {
		var o alertDomain.Outcome
		var status string
		if err := rows.Scan(&o.ID, &o.PassID, &o.AlertID, &o.Symbol, &o.Fired, &status, &o.Reason, &o.Notified, &o.Timestamp); err != nil {
			return nil, &alertDomain.StoreError{Op: "list outcomes", Err: err}
		}
		o.Status = alertDomain.OutcomeStatus(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &alertDomain.StoreError{Op: "list outcomes", Err: err}
	}
	return out, nil
}

// validID 過濾非 UUID 的 id；欄位型別為 UUID，這類 id 在資料庫中不可能存在。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Ping 供健康檢查使用。
func (r *AlertRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close 關閉連線池。
func (r *AlertRepo) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (alertDomain.Alert, error) {
	var a alertDomain.Alert
	var kind string
	var deactivatedAt sql.NullTime
	var reason sql.NullString
	if err := row.Scan(&a.ID, &a.Email, &a.Symbol, &kind, &a.ConditionValue, &a.Active, &a.CreatedAt, &deactivatedAt, &reason); err != nil {
		return alertDomain.Alert{}, err
	}
	a.Kind = alertDomain.Kind(kind)
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		a.DeactivatedAt = &t
	}
	if reason.Valid {
		a.DeactivationReason = alertDomain.DeactivationReason(reason.String)
	}
	return a, nil
}

func collectAlerts(rows *sql.Rows) ([]alertDomain.Alert, error) {
	defer rows.Close()
	var out []alertDomain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, &alertDomain.StoreError{Op: "scan alert", Err: err}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &alertDomain.StoreError{Op: "scan alert", Err: err}
	}
	return out, nil
}
