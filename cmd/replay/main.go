package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-trace/internal/replay"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// errDiverged makes the process exit 1 when the replay disagrees with its
// reference; any other error exits 2.
var errDiverged = errors.New("replay diverged")

// #region main

func newRootCmd() *cobra.Command {
	var (
		dbPath      string
		sessionID   string
		fixturePath string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay submissions through gate, classifier and risk scorer",
		Long: "replay re-runs the deterministic stages of the pipeline, either over a\n" +
			"YAML fixture (--fixture) or over a session recorded in the database\n" +
			"(--db with --session), and diffs the outcome against the reference.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case fixturePath != "" && dbPath == "":
				return runFixtureMode(cmd.OutOrStdout(), fixturePath)
			case dbPath != "" && fixturePath == "" && sessionID != "":
				return runDBMode(cmd.Context(), cmd.OutOrStdout(), dbPath, sessionID)
			default:
				return fmt.Errorf("usage: replay --fixture path/to/fixture.yaml\n       replay --db path/to/trace.db --session id")
			}
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "path to a YAML fixture (fixture mode)")
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the trace database (DB mode)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session to replay (DB mode)")
	return cmd
}

func main() {
	os.Exit(run(newRootCmd()))
}

func run(cmd *cobra.Command) int {
	err := cmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errDiverged):
		return 1
	default:
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return 2
	}
}

// #endregion main

// #region modes

func runFixtureMode(out io.Writer, path string) error {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return err
	}
	if f.Description != "" {
		fmt.Fprintf(out, "%s\n\n", f.Description)
	}
	results := replay.Replay(f.ToInteractions("fixture"), f.Config.ToReplayConfig())
	return printComparison(out, results, f.Expected)
}

// runDBMode replays a recorded session and compares against the states and
// gate decisions that were persisted when it ran live.
func runDBMode(ctx context.Context, out io.Writer, dbPath, sessionID string) error {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	if _, err := store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	history, err := store.LoadHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		return fmt.Errorf("session %s has no submissions", sessionID)
	}

	interactions := make([]replay.Interaction, len(history))
	expected := make([]replay.Expectation, len(history))
	for i, e := range history {
		interactions[i] = toInteraction(e)
		expected[i] = replay.Expectation{
			ID:       e.Submission.SubmissionID,
			Decision: e.Decision,
			State:    string(e.State),
		}
	}
	results := replay.Replay(interactions, replay.DefaultReplayConfig())
	return printComparison(out, results, expected)
}

// toInteraction turns a stored history entry back into replay input.
func toInteraction(e state.HistoryEntry) replay.Interaction {
	sub := e.Submission
	return replay.Interaction{
		ID:        sub.SubmissionID,
		SessionID: sub.SessionID,
		Kind:      string(sub.Kind),
		Text:      sub.RawText,
		Code:      sub.CodeSnapshot,
		At:        sub.Timestamp,
		Tests:     sub.PriorTestResults,
		AttemptID: sub.ExerciseAttemptID,
		HintLevel: sub.HintLevel,
		Reply:     e.Reply,
		Exercise:  sub.Exercise,
	}
}

// #endregion modes

// #region output

func printComparison(out io.Writer, results []replay.ReplayResult, expected []replay.Expectation) error {
	fmt.Fprintf(out, "%-10s| %-9s| %-9s| %-18s| %-8s| %s\n", "Sub", "Action", "Gate", "State", "Risk", "Hint")
	fmt.Fprintf(out, "%-10s+%-10s+%-10s+%-19s+%-9s+%s\n",
		"----------", "----------", "----------", "-------------------", "---------", "-----")
	for _, r := range results {
		hint := "-"
		if r.HintLevel > 0 {
			hint = fmt.Sprint(r.HintLevel)
		}
		fmt.Fprintf(out, "%-10s| %-9s| %-9s| %-18s| %-8s| %s\n",
			clip(r.SubmissionID, 10), r.Action, r.Decision, r.State, r.MaxRisk, hint)
	}

	s := replay.Summarize(results)
	fmt.Fprintf(out, "\nSummary: %d total, %d scored, %d blocked, %d sanitized, %d rejected, max risk %s, final state %s\n",
		s.Total, s.Scored, s.Blocked, s.Sanitized, s.Rejected, s.MaxRisk, s.FinalState)

	if len(expected) == 0 {
		return nil
	}
	mismatches := replay.Compare(results, expected)
	if len(mismatches) == 0 {
		fmt.Fprintln(out, "All expectations met.")
		return nil
	}
	fmt.Fprintf(out, "\n%d mismatches:\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Fprintf(out, "  %s\n", m)
	}
	return errDiverged
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// #endregion output
