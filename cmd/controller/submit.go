package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-trace/internal/orchestrator"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

func newSubmitCmd() *cobra.Command {
	var (
		sessionID string
		student   string
		mode      string
		kind      string
		code      string
		attempt   string
		level     int
		passed    int
		total     int
	)
	cmd := &cobra.Command{
		Use:   "submit [text]",
		Short: "Run one submission through the pipeline and print the result",
		Long: "submit opens a session when --session is empty, processes the text and\n" +
			"prints the interaction result as JSON. The exchange is persisted to the\n" +
			"configured database so it can be inspected afterwards.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				sess, err := a.orch.OpenSession(ctx, student, "", mode)
				if err != nil {
					return err
				}
				sessionID = sess.SessionID
				fmt.Fprintf(cmd.ErrOrStderr(), "opened session %s\n", sessionID)
			}

			req := orchestrator.SubmitRequest{
				SessionID:         sessionID,
				Kind:              kind,
				Code:              code,
				ExerciseAttemptID: attempt,
				HintLevel:         level,
			}
			if len(args) > 0 {
				req.Text = args[0]
			}
			if total > 0 {
				req.TestResults = &state.TestResults{Passed: passed, Total: total}
			}

			res, err := a.orch.Submit(ctx, req)
			out, mErr := json.MarshalIndent(res, "", "  ")
			if mErr != nil {
				return mErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if fErr := flushSpool(ctx, a); fErr != nil && err == nil {
				err = fErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id")
	cmd.Flags().StringVar(&student, "student", "cli", "student id for a new session")
	cmd.Flags().StringVar(&mode, "mode", "tutor", "mode for a new session: tutor | simulator | practice")
	cmd.Flags().StringVar(&kind, "kind", "chat", "submission kind: chat | code | hint | reflection")
	cmd.Flags().StringVar(&code, "code", "", "code snapshot")
	cmd.Flags().StringVar(&attempt, "attempt", "", "exercise attempt id (hints)")
	cmd.Flags().IntVar(&level, "level", 0, "requested hint level, 0 for next")
	cmd.Flags().IntVar(&passed, "passed", 0, "tests passed in the last run")
	cmd.Flags().IntVar(&total, "total", 0, "tests run in the last run")
	return cmd
}

// flushSpool retries batches whose first write failed. A one-shot run has no
// background Run, so anything left queued at exit would be lost.
func flushSpool(ctx context.Context, a *app) error {
	spool := a.orch.Spool()
	if spool.Pending() == 0 {
		return nil
	}
	dropped := func() int { return 0 }
	if ms, ok := spool.(*trace.MemorySpool); ok {
		dropped = ms.Dropped
	}
	before := dropped()
	if err := spool.Drain(ctx, a.orch.Sink); err != nil {
		return fmt.Errorf("drain spool: %w", err)
	}
	if n := dropped() - before; n > 0 {
		return fmt.Errorf("%d exchange(s) could not be persisted", n)
	}
	return nil
}
