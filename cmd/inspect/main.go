package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-trace/internal/eval"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// #region main

type inspector struct {
	store    *state.Store
	recorder *trace.Recorder
	jsonOut  bool
	out      io.Writer
}

func newRootCmd() *cobra.Command {
	var (
		dbPath  string
		jsonOut bool
		insp    inspector
	)
	cmd := &cobra.Command{
		Use:          "inspect",
		Short:        "Inspect recorded sessions: traces, integrity, metrics and risk",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = os.Getenv("TRACE_DB")
			}
			if dbPath == "" {
				return fmt.Errorf("--db is required (or set TRACE_DB)")
			}
			store, err := state.NewStore(dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			rec, err := trace.NewRecorder(store.DB(), eval.DefaultWeights())
			if err != nil {
				store.Close()
				return err
			}
			insp = inspector{store: store, recorder: rec, jsonOut: jsonOut, out: cmd.OutOrStdout()}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if insp.store != nil {
				return insp.store.Close()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the trace database")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")

	cmd.AddCommand(&cobra.Command{
		Use:   "trace <session-id>",
		Short: "Print the reconstructed four-level trace of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return insp.runTrace(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "warnings <session-id>",
		Short: "Print trace integrity warnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return insp.runWarnings(cmd.Context(), args[0])
		},
	})
	window := 0
	metricsCmd := &cobra.Command{
		Use:   "metrics <session-id>",
		Short: "Compute the rolling IPC, IAR, IAI and IRE indices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return insp.runMetrics(cmd.Context(), args[0], window)
		},
	}
	metricsCmd.Flags().IntVar(&window, "window", 20, "number of most recent exchanges")
	cmd.AddCommand(metricsCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "report <session-id>",
		Short: "Print the five-dimension risk report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return insp.runReport(cmd.Context(), args[0])
		},
	})
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region trace

type nodeRow struct {
	Exchange string `json:"exchange_id"`
	Level    string `json:"level"`
	TraceID  string `json:"trace_id"`
	Parent   string `json:"parent_trace_id,omitempty"`
	Summary  string `json:"summary"`
	TookMs   int64  `json:"processing_time_ms"`
	At       string `json:"created_at"`
}

func (i *inspector) reconstruct(ctx context.Context, sessionID string) (trace.Reconstruction, error) {
	if _, err := i.store.GetSession(ctx, sessionID); err != nil {
		return trace.Reconstruction{}, err
	}
	return i.recorder.Reconstruct(ctx, sessionID)
}

func (i *inspector) runTrace(ctx context.Context, sessionID string) error {
	rec, err := i.reconstruct(ctx, sessionID)
	if err != nil {
		return err
	}
	rows := make([]nodeRow, 0, len(rec.Nodes))
	for _, ex := range rec.Exchanges {
		for _, n := range ex.Nodes {
			rows = append(rows, nodeRow{
				Exchange: ex.ExchangeID,
				Level:    string(n.Level),
				TraceID:  n.TraceID,
				Parent:   n.ParentTraceID,
				Summary:  summarize(n),
				TookMs:   n.ProcessingTimeMs,
				At:       n.CreatedAt.Format("2006-01-02T15:04:05Z"),
			})
		}
	}
	if i.jsonOut {
		return i.printJSON(rec)
	}
	if len(rows) == 0 {
		fmt.Fprintln(i.out, "no trace recorded")
		return nil
	}

	fmt.Fprintf(i.out, "%-12s  %-3s  %-12s  %6s  %s\n", "Exchange", "Lvl", "Trace", "ms", "Summary")
	fmt.Fprintf(i.out, "%-12s+-%-3s+-%-12s+-%6s+-%s\n", "------------", "---", "------------", "------", "--------------------")
	for _, r := range rows {
		fmt.Fprintf(i.out, "%-12s  %-3s  %-12s  %6d  %s\n", shortID(r.Exchange), r.Level, shortID(r.TraceID), r.TookMs, r.Summary)
	}
	fmt.Fprintf(i.out, "\n%d exchanges, %d nodes, %d warnings\n", len(rec.Exchanges), len(rec.Nodes), len(rec.Warnings))
	return nil
}

// summarize renders the interesting part of a node payload on one line.
func summarize(n trace.Node) string {
	switch n.Level {
	case trace.LevelInput:
		var p trace.InputPayload
		if n.Decode(&p) == nil {
			return fmt.Sprintf("%s: %s", p.Kind, clip(p.Text, 60))
		}
	case trace.LevelValidated:
		var p trace.ValidatedPayload
		if n.Decode(&p) == nil {
			if len(p.Indicators) == 0 {
				return p.Decision
			}
			return fmt.Sprintf("%s [%s]", p.Decision, strings.Join(p.Indicators, ","))
		}
	case trace.LevelModel:
		var p trace.ModelPayload
		if n.Decode(&p) == nil {
			if p.Skipped {
				return "skipped: " + p.SkipReason
			}
			s := fmt.Sprintf("%s/%s: %s", p.Provider, p.Role, clip(p.Reply, 50))
			if p.Fallback {
				s += " (fallback)"
			}
			return s
		}
	case trace.LevelInterpretation:
		var p trace.InterpretationPayload
		if n.Decode(&p) == nil {
			return fmt.Sprintf("%s via %s, risk %s", p.State, p.Rule, p.RiskLevel)
		}
	}
	return "?"
}

// #endregion trace

// #region warnings

func (i *inspector) runWarnings(ctx context.Context, sessionID string) error {
	rec, err := i.reconstruct(ctx, sessionID)
	if err != nil {
		return err
	}
	if i.jsonOut {
		return i.printJSON(rec.Warnings)
	}
	if rec.Intact() {
		fmt.Fprintln(i.out, "trace intact")
		return nil
	}
	for _, w := range rec.Warnings {
		fmt.Fprintln(i.out, w.String())
	}
	return nil
}

// #endregion warnings

// #region metrics

func (i *inspector) runMetrics(ctx context.Context, sessionID string, window int) error {
	if _, err := i.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	snap, err := i.recorder.ComputeMetrics(ctx, sessionID, window)
	if err != nil {
		return err
	}
	if i.jsonOut {
		return i.printJSON(snap)
	}
	fmt.Fprintf(i.out, "Session:   %s\n", snap.SessionID)
	fmt.Fprintf(i.out, "Window:    %d (%d exchanges)\n", snap.Window, snap.Exchanges)
	fmt.Fprintf(i.out, "IPC:       %.3f\n", snap.IPC)
	fmt.Fprintf(i.out, "IAR:       %.3f\n", snap.IAR)
	fmt.Fprintf(i.out, "IAI:       %.3f\n", snap.IAI)
	fmt.Fprintf(i.out, "IRE:       %.3f\n", snap.IRE)
	return nil
}

// #endregion metrics

// #region report

func (i *inspector) runReport(ctx context.Context, sessionID string) error {
	if _, err := i.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	records, err := i.store.ListFlags(ctx, sessionID)
	if err != nil {
		return err
	}
	report := risk.BuildReport(sessionID, risk.FromRecords(records))
	if i.jsonOut {
		return i.printJSON(report)
	}

	fmt.Fprintf(i.out, "Session %s: %s (%d assessed)\n\n", report.SessionID, report.Semaforo, report.Assessed)
	dims := make([]string, 0, len(report.Dimensions))
	for d := range report.Dimensions {
		dims = append(dims, string(d))
	}
	sort.Strings(dims)
	fmt.Fprintf(i.out, "%-11s  %5s  %-8s  %s\n", "Dimension", "Score", "Level", "Indicators")
	for _, d := range dims {
		s := report.Dimensions[risk.Dimension(d)]
		fmt.Fprintf(i.out, "%-11s  %5d  %-8s  %s\n", d, s.Score, s.Level, strings.Join(s.Indicators, ", "))
	}
	if len(report.TopRisks) > 0 {
		fmt.Fprintln(i.out, "\nTop risks:")
		for _, f := range report.TopRisks {
			fmt.Fprintf(i.out, "  %-8s %-10s %s\n", f.Level, f.Dimension, f.Mitigation)
		}
	}
	return nil
}

// #endregion report

// #region helpers

func (i *inspector) printJSON(v any) error {
	enc := json.NewEncoder(i.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// #endregion helpers
