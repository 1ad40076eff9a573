package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	student_id      TEXT NOT NULL,
	activity_id     TEXT,
	mode            TEXT NOT NULL,
	cognitive_state TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	closed_at       TEXT
);

CREATE TABLE IF NOT EXISTS submissions (
	submission_id       TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL,
	seq                 INTEGER NOT NULL,
	kind                TEXT NOT NULL,
	raw_text            TEXT NOT NULL,
	code_snapshot       TEXT,
	test_results_json   TEXT,
	exercise_attempt_id TEXT,
	exercise_json       TEXT,
	hint_level          INTEGER NOT NULL DEFAULT 0,
	cognitive_state     TEXT NOT NULL,
	decision            TEXT NOT NULL,
	reply               TEXT,
	reply_at            TEXT,
	hint_served         INTEGER NOT NULL DEFAULT 0,
	fallback            INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE INDEX IF NOT EXISTS idx_submissions_session ON submissions(session_id, seq);

CREATE TABLE IF NOT EXISTS governance_decisions (
	submission_id   TEXT PRIMARY KEY,
	decision        TEXT NOT NULL,
	redacted_text   TEXT,
	rationale       TEXT,
	indicators_json TEXT,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (submission_id) REFERENCES submissions(submission_id)
);

CREATE TABLE IF NOT EXISTS risk_flags (
	submission_id   TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	dimension       TEXT NOT NULL,
	score           INTEGER NOT NULL,
	level           TEXT NOT NULL,
	indicators_json TEXT,
	mitigation      TEXT,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (submission_id, dimension)
);

CREATE INDEX IF NOT EXISTS idx_risk_flags_session ON risk_flags(session_id, created_at);

CREATE TABLE IF NOT EXISTS hint_records (
	hint_id          TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	submission_id    TEXT NOT NULL,
	attempt_id       TEXT NOT NULL,
	level            INTEGER NOT NULL,
	content          TEXT NOT NULL,
	follow_up        TEXT NOT NULL,
	violations_json  TEXT,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hint_records_attempt ON hint_records(session_id, attempt_id);
`

// #endregion schema

// #region store-struct
// Store persists sessions and everything a submission produces in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for packages that keep their own tables
// (trace recorder, governance audit).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region tx
// WithTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion tx

// #region sessions
// CreateSession inserts a new session in the start state.
func (s *Store) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.SessionID == "" {
		sess.SessionID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.CognitiveState == "" {
		sess.CognitiveState = StateStart
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, student_id, activity_id, mode, cognitive_state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.StudentID, nullIfEmpty(sess.ActivityID), string(sess.Mode),
		string(sess.CognitiveState), sess.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession reads a session by id. Returns ErrNotFound when missing.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var activity, closed sql.NullString
	var mode, cogState, created string

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, student_id, activity_id, mode, cognitive_state, created_at, closed_at
		 FROM sessions WHERE session_id = ?`, id,
	).Scan(&sess.SessionID, &sess.StudentID, &activity, &mode, &cogState, &created, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}

	sess.ActivityID = activity.String
	sess.Mode = Mode(mode)
	sess.CognitiveState = CognitiveState(cogState)
	if sess.CreatedAt, err = parseTime("session created_at", created); err != nil {
		return Session{}, err
	}
	if closed.Valid {
		t, err := parseTime("session closed_at", closed.String)
		if err != nil {
			return Session{}, err
		}
		sess.ClosedAt = &t
	}
	return sess, nil
}

// CloseSessionTx marks the session closed and moves it to the given state.
func CloseSessionTx(ctx context.Context, tx *sql.Tx, id string, at time.Time, st CognitiveState) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET closed_at = COALESCE(closed_at, ?), cognitive_state = ? WHERE session_id = ?`,
		at.UTC().Format(time.RFC3339Nano), string(st), id,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// UpdateSessionStateTx records the state produced by submission seq. The
// update is skipped when a later submission is already stored or the
// session is closed, so a late retried batch never rolls the state back.
func UpdateSessionStateTx(ctx context.Context, tx *sql.Tx, id string, seq int, st CognitiveState) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET cognitive_state = ?
		 WHERE session_id = ? AND closed_at IS NULL
		   AND NOT EXISTS (SELECT 1 FROM submissions WHERE session_id = ? AND seq > ?)`,
		string(st), id, id, seq,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return nil
}

// #endregion sessions

// #region submissions
// InsertSubmissionTx appends a processed submission. Re-inserting the same
// submission id is a no-op so a retried batch never duplicates rows.
func InsertSubmissionTx(ctx context.Context, tx *sql.Tx, seq int, e HistoryEntry) error {
	sub := e.Submission

	var resultsJSON interface{}
	if sub.PriorTestResults != nil {
		b, err := json.Marshal(sub.PriorTestResults)
		if err != nil {
			return fmt.Errorf("marshal test results: %w", err)
		}
		resultsJSON = string(b)
	}
	exJSON, err := json.Marshal(sub.Exercise)
	if err != nil {
		return fmt.Errorf("marshal exercise: %w", err)
	}

	var replyAt interface{}
	if !e.ReplyAt.IsZero() {
		replyAt = e.ReplyAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO submissions
		 (submission_id, session_id, seq, kind, raw_text, code_snapshot, test_results_json,
		  exercise_attempt_id, exercise_json, hint_level, cognitive_state, decision,
		  reply, reply_at, hint_served, fallback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.SubmissionID, sub.SessionID, seq, string(sub.Kind), sub.RawText,
		nullIfEmpty(sub.CodeSnapshot), resultsJSON, nullIfEmpty(sub.ExerciseAttemptID),
		string(exJSON), sub.HintLevel, string(e.State), e.Decision,
		nullIfEmpty(e.Reply), replyAt, e.HintLevel, boolToInt(e.FallbackReply),
		sub.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// LoadHistory returns every processed submission of a session, oldest first.
func (s *Store) LoadHistory(ctx context.Context, sessionID string) (History, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, session_id, kind, raw_text, code_snapshot, test_results_json,
		        exercise_attempt_id, exercise_json, hint_level, cognitive_state, decision,
		        reply, reply_at, hint_served, fallback, created_at
		 FROM submissions WHERE session_id = ? ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history History
	for rows.Next() {
		var e HistoryEntry
		var kind, cogState, created string
		var code, resultsJSON, attempt, exJSON, reply, replyAt sql.NullString
		var fallback int

		if err := rows.Scan(
			&e.Submission.SubmissionID, &e.Submission.SessionID, &kind, &e.Submission.RawText,
			&code, &resultsJSON, &attempt, &exJSON, &e.Submission.HintLevel, &cogState,
			&e.Decision, &reply, &replyAt, &e.HintLevel, &fallback, &created,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}

		e.Submission.Kind = SubmissionKind(kind)
		e.Submission.CodeSnapshot = code.String
		e.Submission.ExerciseAttemptID = attempt.String
		ts, err := parseTime("submission created_at", created)
		if err != nil {
			return nil, err
		}
		e.Submission.Timestamp = ts
		if resultsJSON.Valid {
			var tr TestResults
			if err := json.Unmarshal([]byte(resultsJSON.String), &tr); err != nil {
				return nil, fmt.Errorf("unmarshal test results: %w", err)
			}
			e.Submission.PriorTestResults = &tr
		}
		if exJSON.Valid && exJSON.String != "" {
			if err := json.Unmarshal([]byte(exJSON.String), &e.Submission.Exercise); err != nil {
				return nil, fmt.Errorf("unmarshal exercise: %w", err)
			}
		}
		e.State = CognitiveState(cogState)
		e.Reply = reply.String
		if replyAt.Valid {
			if e.ReplyAt, err = parseTime("submission reply_at", replyAt.String); err != nil {
				return nil, err
			}
		}
		e.FallbackReply = fallback != 0
		history = append(history, e)
	}
	return history, rows.Err()
}

// #endregion submissions

// #region decisions
// InsertDecisionTx stores the governance decision attached to a submission.
func InsertDecisionTx(ctx context.Context, tx *sql.Tx, rec DecisionRecord) error {
	indicators, err := json.Marshal(rec.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO governance_decisions
		 (submission_id, decision, redacted_text, rationale, indicators_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SubmissionID, rec.Decision, nullIfEmpty(rec.RedactedText), nullIfEmpty(rec.Rationale),
		string(indicators), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetDecision reads the governance decision for a submission.
func (s *Store) GetDecision(ctx context.Context, submissionID string) (DecisionRecord, error) {
	var rec DecisionRecord
	var redacted, rationale, indicators sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT submission_id, decision, redacted_text, rationale, indicators_json, created_at
		 FROM governance_decisions WHERE submission_id = ?`, submissionID,
	).Scan(&rec.SubmissionID, &rec.Decision, &redacted, &rationale, &indicators, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return DecisionRecord{}, fmt.Errorf("decision %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("get decision: %w", err)
	}
	rec.RedactedText = redacted.String
	rec.Rationale = rationale.String
	if indicators.Valid {
		if err := json.Unmarshal([]byte(indicators.String), &rec.Indicators); err != nil {
			return DecisionRecord{}, fmt.Errorf("unmarshal decision indicators: %w", err)
		}
	}
	if rec.CreatedAt, err = parseTime("decision created_at", created); err != nil {
		return DecisionRecord{}, err
	}
	return rec, nil
}

// #endregion decisions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers

// parseTime reads a stored RFC 3339 timestamp.
func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", field, v, err)
	}
	return t, nil
}
