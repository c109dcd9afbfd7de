package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store 以本機 SQLite 檔案保存警報，適合單機部署。
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open 開啟（或建立）SQLite 資料庫，啟用 WAL 並套用尚未執行的 migration。
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// 單一連線：SQLite 只允許一個寫入者，且 :memory: 每條連線各自獨立。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close 關閉資料庫連線。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping 供健康檢查使用。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type alertRow struct {
	ID                 string         `db:"id"`
	Email              string         `db:"email"`
	Symbol             string         `db:"symbol"`
	AlertType          string         `db:"alert_type"`
	ConditionValue     string         `db:"condition_value"`
	Active             bool           `db:"active"`
	CreatedAt          time.Time      `db:"created_at"`
	DeactivatedAt      *time.Time     `db:"deactivated_at"`
	DeactivationReason sql.NullString `db:"deactivation_reason"`
}

func (r alertRow) toDomain() (alertDomain.Alert, error) {
	value, err := decimal.NewFromString(r.ConditionValue)
	if err != nil {
		return alertDomain.Alert{}, fmt.Errorf("alert %s: bad condition_value %q: %w", r.ID, r.ConditionValue, err)
	}
	a := alertDomain.Alert{
		ID:             r.ID,
		Email:          r.Email,
		Symbol:         r.Symbol,
		Kind:           alertDomain.Kind(r.AlertType),
		ConditionValue: value,
		Active:         r.Active,
		CreatedAt:      r.CreatedAt,
		DeactivatedAt:  r.DeactivatedAt,
	}
	if r.DeactivationReason.Valid {
		a.DeactivationReason = alertDomain.DeactivationReason(r.DeactivationReason.String)
	}
	return a, nil
}

type outcomeRow struct {
	ID          string    `db:"id"`
	PassID      string    `db:"pass_id"`
	AlertID     string    `db:"alert_id"`
	Symbol      string    `db:"symbol"`
	Fired       bool      `db:"fired"`
	Status      string    `db:"status"`
	Reason      string    `db:"reason"`
	Notified    bool      `db:"notified"`
	EvaluatedAt time.Time `db:"evaluated_at"`
}

// Create 驗證後寫入警報並回傳 id。
func (s *Store) Create(ctx context.Context, a alertDomain.Alert) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, email, symbol, alert_type, condition_value, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		a.ID, a.Email, a.Symbol, string(a.Kind), a.ConditionValue.String(), a.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", &alertDomain.ValidationError{Field: "id", Reason: "id already used"}
		}
		return "", &alertDomain.StoreError{Op: "create", Err: err}
	}
	return a.ID, nil
}

// Get 依 id 取得警報。
func (s *Store) Get(ctx context.Context, id string) (alertDomain.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM alerts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	if err != nil {
		return alertDomain.Alert{}, &alertDomain.StoreError{Op: "get", Err: err}
	}
	a, err := row.toDomain()
	if err != nil {
		return alertDomain.Alert{}, &alertDomain.StoreError{Op: "get", Err: err}
	}
	return a, nil
}

// ListActive 回傳所有啟用中的警報。
func (s *Store) ListActive(ctx context.Context) ([]alertDomain.Alert, error) {
	return s.List(ctx, alertDomain.ListFilter{ActiveOnly: true})
}

// List 依條件列出警報。
func (s *Store) List(ctx context.Context, filter alertDomain.ListFilter) ([]alertDomain.Alert, error) {
	var conditions []string
	var args []interface{}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = 1")
	}
	if filter.Symbol != "" {
		conditions = append(conditions, "symbol = ?")
		args = append(args, alertDomain.NormalizeSymbol(filter.Symbol))
	}
	query := "SELECT * FROM alerts"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &alertDomain.StoreError{Op: "list", Err: err}
	}
	out := make([]alertDomain.Alert, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, &alertDomain.StoreError{Op: "list", Err: err}
		}
		out = append(out, a)
	}
	return out, nil
}

// Deactivate 以 WHERE active = 1 的條件更新實作 compare-and-set。
func (s *Store) Deactivate(ctx context.Context, id string, reason alertDomain.DeactivationReason, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET active = 0, deactivated_at = ?, deactivation_reason = ?
		WHERE id = ? AND active = 1`,
		at.UTC(), string(reason), id,
	)
	if err != nil {
		return false, &alertDomain.StoreError{Op: "deactivate", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &alertDomain.StoreError{Op: "deactivate", Err: err}
	}
	return n == 1, nil
}

// DeleteAll 清空警報與評估紀錄。
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, &alertDomain.StoreError{Op: "delete all", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM evaluation_outcomes"); err != nil {
		return 0, &alertDomain.StoreError{Op: "delete all", Err: err}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM alerts")
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

// RecordOutcomes 於單一交易內寫入評估結果。
func (s *Store) RecordOutcomes(ctx context.Context, outcomes []alertDomain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &alertDomain.StoreError{Op: "record outcomes", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO evaluation_outcomes (id, pass_id, alert_id, symbol, fired, status, reason, notified, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &alertDomain.StoreError{Op: "record outcomes", Err: err}
	}
	defer stmt.Close()

	for _, o := range outcomes {
		id := o.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, o.PassID, o.AlertID, o.Symbol, o.Fired, string(o.Status), o.Reason, o.Notified, o.Timestamp.UTC()); err != nil {
			return &alertDomain.StoreError{Op: "record outcomes", Err: fmt.Errorf("alert %s: %w", o.AlertID, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &alertDomain.StoreError{Op: "record outcomes", Err: err}
	}
	return nil
}

// ListOutcomes 取某警報最近的評估紀錄（新到舊）。
func (s *Store) ListOutcomes(ctx context.Context, alertID string, limit int) ([]alertDomain.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outcomeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM evaluation_outcomes WHERE alert_id = ?
		ORDER BY evaluated_at DESC, id DESC LIMIT ?`, alertID, limit)
	if err != nil {
		return nil, &alertDomain.StoreError{Op: "list outcomes", Err: err}
	}
	out := make([]alertDomain.Outcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, alertDomain.Outcome{
			ID:        r.ID,
			PassID:    r.PassID,
			AlertID:   r.AlertID,
			Symbol:    r.Symbol,
			Fired:     r.Fired,
			Status:    alertDomain.OutcomeStatus(r.Status),
			Reason:    r.Reason,
			Notified:  r.Notified,
			Timestamp: r.EvaluatedAt,
		})
	}
	return out, nil
}
