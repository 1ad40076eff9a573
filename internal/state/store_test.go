package state

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, Session{StudentID: "stu-1", ActivityID: "act-1", Mode: ModeTutor})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.SessionID == "" {
		t.Fatal("expected generated session id")
	}
	if sess.CognitiveState != StateStart {
		t.Fatalf("expected start state, got %s", sess.CognitiveState)
	}

	got, err := s.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.StudentID != "stu-1" || got.ActivityID != "act-1" || got.Mode != ModeTutor {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Closed() {
		t.Fatal("new session should be open")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionRoundTripAndIdempotence(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, Session{StudentID: "stu", Mode: ModePractice})

	entry := HistoryEntry{
		Submission: Submission{
			SubmissionID:      "sub-1",
			SessionID:         sess.SessionID,
			Kind:              KindCode,
			RawText:           "my email is a@b.com",
			CodeSnapshot:      "def f():\n    return 1\n",
			Timestamp:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			PriorTestResults:  &TestResults{Passed: 1, Total: 3, ErrorType: "AssertionError"},
			ExerciseAttemptID: "att-1",
			Exercise:          ExerciseContext{ExerciseID: "ex-1", Title: "Sum"},
		},
		Decision: "sanitize",
		State:    StateDebugging,
		Reply:    "What does your loop do on the last element?",
		ReplyAt:  time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC),
	}

	write := func() error {
		return s.WithTx(ctx, func(tx *sql.Tx) error {
			if err := InsertSubmissionTx(ctx, tx, 1, entry); err != nil {
				return err
			}
			return UpdateSessionStateTx(ctx, tx, sess.SessionID, 1, StateDebugging)
		})
	}
	if err := write(); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := write(); err != nil {
		t.Fatalf("retried write should be a no-op, got %v", err)
	}

	history, err := s.LoadHistory(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 entry after retry, got %d", len(history))
	}
	got := history[0]
	if got.Submission.RawText != "my email is a@b.com" {
		t.Errorf("raw text must be preserved, got %q", got.Submission.RawText)
	}
	if got.Submission.PriorTestResults == nil || got.Submission.PriorTestResults.Passed != 1 {
		t.Errorf("test results not restored: %+v", got.Submission.PriorTestResults)
	}
	if got.Submission.Exercise.Title != "Sum" {
		t.Errorf("exercise not restored: %+v", got.Submission.Exercise)
	}
	if got.State != StateDebugging || got.Decision != "sanitize" {
		t.Errorf("unexpected state/decision: %s/%s", got.State, got.Decision)
	}

	updated, _ := s.GetSession(ctx, sess.SessionID)
	if updated.CognitiveState != StateDebugging {
		t.Errorf("session state not updated: %s", updated.CognitiveState)
	}
}

func TestUpdateSessionStateSkipsStaleSeq(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, Session{StudentID: "stu", Mode: ModeTutor})

	entry := func(id string, st CognitiveState) HistoryEntry {
		return HistoryEntry{
			Submission: Submission{SubmissionID: id, SessionID: sess.SessionID, Kind: KindChat,
				RawText: id, Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
			Decision: "allow",
			State:    st,
		}
	}
	write := func(seq int, e HistoryEntry) {
		t.Helper()
		err := s.WithTx(ctx, func(tx *sql.Tx) error {
			if err := InsertSubmissionTx(ctx, tx, seq, e); err != nil {
				return err
			}
			return UpdateSessionStateTx(ctx, tx, sess.SessionID, seq, e.State)
		})
		if err != nil {
			t.Fatalf("write seq %d: %v", seq, err)
		}
	}

	write(2, entry("sub-2", StateValidation))
	write(1, entry("sub-1", StateDebugging))

	got, _ := s.GetSession(ctx, sess.SessionID)
	if got.CognitiveState != StateValidation {
		t.Fatalf("late seq 1 overwrote the state: %s", got.CognitiveState)
	}
	history, _ := s.LoadHistory(ctx, sess.SessionID)
	if len(history) != 2 || history[0].Submission.SubmissionID != "sub-1" {
		t.Fatalf("late submission must still be stored in seq order: %+v", history)
	}
}

func TestUpdateSessionStateKeepsClosedState(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, Session{StudentID: "stu", Mode: ModeTutor})

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := CloseSessionTx(ctx, tx, sess.SessionID, time.Now(), StateReflection); err != nil {
			return err
		}
		return UpdateSessionStateTx(ctx, tx, sess.SessionID, 1, StateDebugging)
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.SessionID)
	if got.CognitiveState != StateReflection {
		t.Fatalf("closed session state changed to %s", got.CognitiveState)
	}
}

func TestCloseSession(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, Session{StudentID: "stu", Mode: ModeTutor})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return CloseSessionTx(ctx, tx, sess.SessionID, at, StateReflection)
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.SessionID)
	if !got.Closed() || !got.ClosedAt.Equal(at) {
		t.Fatalf("expected closed at %v, got %v", at, got.ClosedAt)
	}
	if got.CognitiveState != StateReflection {
		t.Fatalf("expected reflection, got %s", got.CognitiveState)
	}
}

func TestFlagsAndHints(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := InsertFlagsTx(ctx, tx, []FlagRecord{
			{SubmissionID: "s1", SessionID: "sess", Dimension: "cognitive", Score: 45, Level: "medium", Indicators: []string{"direct_answer_request"}, CreatedAt: now},
			{SubmissionID: "s1", SessionID: "sess", Dimension: "ethical", Score: 0, Level: "info", CreatedAt: now},
		}); err != nil {
			return err
		}
		if err := InsertHintTx(ctx, tx, HintRow{HintID: "h1", SessionID: "sess", SubmissionID: "s1", AttemptID: "a1", Level: 1, Content: "c", FollowUp: "q?", CreatedAt: now}); err != nil {
			return err
		}
		return InsertHintTx(ctx, tx, HintRow{HintID: "h2", SessionID: "sess", SubmissionID: "s2", AttemptID: "a1", Level: 2, Content: "c", FollowUp: "q?", CreatedAt: now})
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	flags, err := s.ListFlags(ctx, "sess")
	if err != nil {
		t.Fatalf("ListFlags: %v", err)
	}
	if len(flags) != 2 {
		t.Fatalf("expected 2 flags, got %d", len(flags))
	}
	if flags[0].Dimension != "cognitive" || flags[0].Indicators[0] != "direct_answer_request" {
		t.Errorf("unexpected first flag: %+v", flags[0])
	}

	levels, err := s.LastHintLevels(ctx, "sess")
	if err != nil {
		t.Fatalf("LastHintLevels: %v", err)
	}
	if levels["a1"] != 2 {
		t.Errorf("expected last level 2 for a1, got %d", levels["a1"])
	}
}

func TestCorruptRowsSurfaceErrors(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, Session{StudentID: "stu", Mode: ModeTutor})

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertFlagsTx(ctx, tx, []FlagRecord{
			{SubmissionID: "s1", SessionID: sess.SessionID, Dimension: "cognitive", Level: "info", Indicators: []string{"x"}, CreatedAt: time.Now()},
		})
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := s.DB().Exec(`UPDATE risk_flags SET indicators_json = '{'`); err != nil {
		t.Fatalf("corrupt flags: %v", err)
	}
	if _, err := s.ListFlags(ctx, sess.SessionID); err == nil {
		t.Error("expected an error for malformed flag indicators")
	}

	if _, err := s.DB().Exec(`UPDATE sessions SET created_at = 'yesterday'`); err != nil {
		t.Fatalf("corrupt session: %v", err)
	}
	if _, err := s.GetSession(ctx, sess.SessionID); err == nil {
		t.Error("expected an error for a malformed session timestamp")
	}
}

func TestTestResultsHelpers(t *testing.T) {
	tests := []struct {
		name   string
		r      *TestResults
		pass   bool
		syntax bool
		ratio  float64
	}{
		{"nil", nil, false, false, 0},
		{"no-tests", &TestResults{}, false, false, 0},
		{"all-pass", &TestResults{Passed: 3, Total: 3}, true, false, 1},
		{"partial", &TestResults{Passed: 1, Total: 4, ErrorType: "AssertionError"}, false, false, 0.25},
		{"syntax-name", &TestResults{Total: 2, ErrorType: "SyntaxError"}, false, true, 0},
		{"indentation", &TestResults{Total: 2, ErrorType: "IndentationError"}, false, true, 0},
		{"syntax-flag", &TestResults{Total: 2, ErrorType: "E0001", Syntax: true}, false, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.AllPass(); got != tt.pass {
				t.Errorf("AllPass: got %v, want %v", got, tt.pass)
			}
			if got := tt.r.IsSyntaxError(); got != tt.syntax {
				t.Errorf("IsSyntaxError: got %v, want %v", got, tt.syntax)
			}
			if got := tt.r.Ratio(); got != tt.ratio {
				t.Errorf("Ratio: got %v, want %v", got, tt.ratio)
			}
		})
	}
}
