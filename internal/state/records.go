package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region flag-record
// FlagRecord is the persisted form of one risk flag.
type FlagRecord struct {
	SubmissionID string
	SessionID    string
	Dimension    string
	Score        int
	Level        string
	Indicators   []string
	Mitigation   string
	CreatedAt    time.Time
}

// InsertFlagsTx appends the flags produced for one submission.
func InsertFlagsTx(ctx context.Context, tx *sql.Tx, flags []FlagRecord) error {
	for _, f := range flags {
		indicators, err := json.Marshal(f.Indicators)
		if err != nil {
			return fmt.Errorf("marshal indicators: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO risk_flags
			 (submission_id, session_id, dimension, score, level, indicators_json, mitigation, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.SubmissionID, f.SessionID, f.Dimension, f.Score, f.Level, string(indicators),
			nullIfEmpty(f.Mitigation), f.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert risk flag %s: %w", f.Dimension, err)
		}
	}
	return nil
}

// ListFlags returns every flag of a session, oldest first.
func (s *Store) ListFlags(ctx context.Context, sessionID string) ([]FlagRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, session_id, dimension, score, level, indicators_json, mitigation, created_at
		 FROM risk_flags WHERE session_id = ? ORDER BY rowid ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var out []FlagRecord
	for rows.Next() {
		var f FlagRecord
		var indicators, mitigation sql.NullString
		var created string
		if err := rows.Scan(&f.SubmissionID, &f.SessionID, &f.Dimension, &f.Score, &f.Level,
			&indicators, &mitigation, &created); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		if indicators.Valid {
			if err := json.Unmarshal([]byte(indicators.String), &f.Indicators); err != nil {
				return nil, fmt.Errorf("unmarshal flag indicators: %w", err)
			}
		}
		f.Mitigation = mitigation.String
		ts, err := parseTime("flag created_at", created)
		if err != nil {
			return nil, err
		}
		f.CreatedAt = ts
		out = append(out, f)
	}
	return out, rows.Err()
}

// #endregion flag-record

// #region hint-row
// HintRow is the persisted form of one served hint.
type HintRow struct {
	HintID       string
	SessionID    string
	SubmissionID string
	AttemptID    string
	Level        int
	Content      string
	FollowUp     string
	Violations   []string
	CreatedAt    time.Time
}

// InsertHintTx appends a served hint.
func InsertHintTx(ctx context.Context, tx *sql.Tx, h HintRow) error {
	violations, err := json.Marshal(h.Violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO hint_records
		 (hint_id, session_id, submission_id, attempt_id, level, content, follow_up, violations_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.HintID, h.SessionID, h.SubmissionID, h.AttemptID, h.Level, h.Content, h.FollowUp,
		string(violations), h.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert hint: %w", err)
	}
	return nil
}

// LastHintLevels returns the highest level served per exercise attempt.
func (s *Store) LastHintLevels(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_id, MAX(level) FROM hint_records WHERE session_id = ? GROUP BY attempt_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("last hint levels: %w", err)
	}
	defer rows.Close()

	levels := make(map[string]int)
	for rows.Next() {
		var attempt string
		var level int
		if err := rows.Scan(&attempt, &level); err != nil {
			return nil, fmt.Errorf("scan hint level: %w", err)
		}
		levels[attempt] = level
	}
	return levels, rows.Err()
}

// #endregion hint-row
