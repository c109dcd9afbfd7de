package sqlite

// migration 為單一版本的 schema 變更。
type migration struct {
	version int
	sql     string
}

// migrations 依版本遞增排列，version 從 1 開始連續。
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL,
	symbol              TEXT NOT NULL,
	alert_type          TEXT NOT NULL,
	condition_value     TEXT NOT NULL,
	active              INTEGER NOT NULL DEFAULT 1,
	created_at          DATETIME NOT NULL,
	deactivated_at      DATETIME,
	deactivation_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(active);

CREATE TABLE IF NOT EXISTS evaluation_outcomes (
	id           TEXT PRIMARY KEY,
	pass_id      TEXT NOT NULL,
	alert_id     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	fired        INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	notified     INTEGER NOT NULL DEFAULT 0,
	evaluated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_alert ON evaluation_outcomes(alert_id, evaluated_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
