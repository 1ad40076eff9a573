package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// #region persist

// persist writes the exchange, handing it to the spool when the write fails.
// It reports whether the first write landed; a failure never reaches the
// caller.
func (o *Orchestrator) persist(ctx context.Context, b trace.Batch) bool {
	err := o.Sink(ctx, b)
	if err == nil {
		return true
	}
	persistFailures.Inc()
	o.logger.Warn("persist failed, spooling", "session", b.SessionID, "exchange", b.ExchangeID, "err", err)
	if err := o.spool.Enqueue(ctx, b); err != nil {
		spoolRejected.Inc()
		o.logger.Error("spool rejected exchange", "session", b.SessionID, "exchange", b.ExchangeID, "err", err)
	}
	return false
}

// Sink appends one exchange: submission, governance decision, risk flags,
// hint and trace nodes in a single transaction, then the audit entry. Every
// write is keyed so a spooled retry of the same batch is a no-op.
func (o *Orchestrator) Sink(ctx context.Context, b trace.Batch) error {
	var art artifacts
	if len(b.Artifacts) > 0 {
		if err := json.Unmarshal(b.Artifacts, &art); err != nil {
			return &trace.PersistenceError{Op: "decode artifacts", ExchangeID: b.ExchangeID, Err: err}
		}
	}

	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		if art.Entry.Submission.SubmissionID != "" {
			if err := state.InsertSubmissionTx(ctx, tx, art.Seq, art.Entry); err != nil {
				return err
			}
			if err := state.InsertDecisionTx(ctx, tx, art.Decision); err != nil {
				return err
			}
		}
		if err := state.InsertFlagsTx(ctx, tx, art.Flags); err != nil {
			return err
		}
		if art.Hint != nil {
			if err := state.InsertHintTx(ctx, tx, *art.Hint); err != nil {
				return err
			}
		}
		if art.Close {
			if err := state.CloseSessionTx(ctx, tx, b.SessionID, art.Entry.ReplyAt, art.Entry.State); err != nil {
				return err
			}
		} else if art.Entry.State != "" {
			if err := state.UpdateSessionStateTx(ctx, tx, b.SessionID, art.Seq, art.Entry.State); err != nil {
				return err
			}
		}
		return o.recorder.RecordBatchTx(ctx, tx, b)
	})
	if err != nil {
		return &trace.PersistenceError{Op: "append", ExchangeID: b.ExchangeID, Err: err}
	}

	if art.Audit != nil {
		if err := logging.LogDecision(ctx, o.store.DB(), *art.Audit); err != nil {
			return &trace.PersistenceError{Op: "audit", ExchangeID: b.ExchangeID, Err: err}
		}
	}
	return nil
}

// #endregion
