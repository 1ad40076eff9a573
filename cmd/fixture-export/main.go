package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-trace/internal/replay"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region main

func newRootCmd() *cobra.Command {
	var (
		dbPath    string
		sessionID string
		outPath   string
		last      int
	)
	cmd := &cobra.Command{
		Use:          "fixture-export",
		Short:        "Export a recorded session as a replay fixture",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" || sessionID == "" {
				return fmt.Errorf("usage: fixture-export --db path/to/db --session id [--out fixture.yaml] [--last N]")
			}
			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return run(cmd.Context(), dbPath, sessionID, last, out)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the trace database")
	cmd.Flags().StringVar(&sessionID, "session", "", "session to export")
	cmd.Flags().StringVar(&outPath, "out", "", "output fixture path (default: stdout)")
	cmd.Flags().IntVar(&last, "last", 0, "export only the N most recent submissions (0 for all)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(ctx context.Context, dbPath, sessionID string, last int, out io.Writer) error {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	history, err := store.LoadHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	// a partial window replays from a fresh start, so its first expectation
	// may not hold
	if last > 0 && len(history) > last {
		history = history[len(history)-last:]
	}

	desc := fmt.Sprintf("Session %s (%s mode, student %s), %d submissions.",
		sess.SessionID, sess.Mode, sess.StudentID, len(history))
	f, err := replay.FixtureFromHistory(desc, history)
	if err != nil {
		return err
	}
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// #endregion extract
