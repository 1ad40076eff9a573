package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema
const auditSchema = `
CREATE TABLE IF NOT EXISTS governance_audit (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id   TEXT NOT NULL UNIQUE,
	session_id      TEXT NOT NULL,
	decision        TEXT NOT NULL,
	indicators_json TEXT NOT NULL,
	rationale       TEXT,
	redacted_text   TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_governance_audit_session ON governance_audit(session_id, created_at);
`

// EnsureAuditSchema creates the governance_audit table if missing.
func EnsureAuditSchema(db *sql.DB) error {
	if _, err := db.Exec(auditSchema); err != nil {
		return fmt.Errorf("create governance_audit: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-decision
// LogDecision writes an audit entry. Re-logging the same submission is a no-op.
func LogDecision(ctx context.Context, db *sql.DB, entry AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	indicators := entry.Indicators
	if indicators == nil {
		indicators = []string{}
	}
	indicatorsJSON, err := json.Marshal(indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO governance_audit
		 (submission_id, session_id, decision, indicators_json, rationale, redacted_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SubmissionID,
		entry.SessionID,
		entry.Decision,
		string(indicatorsJSON),
		nullIfEmpty(entry.Rationale),
		nullIfEmpty(entry.RedactedText),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region list-audit
// ListAudit returns a session's audit entries, oldest first.
func ListAudit(ctx context.Context, db *sql.DB, sessionID string) ([]AuditEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT submission_id, session_id, decision, indicators_json, rationale, redacted_text, created_at
		 FROM governance_audit WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var indicators, created string
		var rationale, redacted sql.NullString
		if err := rows.Scan(&e.SubmissionID, &e.SessionID, &e.Decision, &indicators, &rationale, &redacted, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if err := json.Unmarshal([]byte(indicators), &e.Indicators); err != nil {
			return nil, fmt.Errorf("unmarshal indicators: %w", err)
		}
		e.Rationale = rationale.String
		e.RedactedText = redacted.String
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse audit created_at: %w", err)
		}
		e.CreatedAt = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-audit

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
