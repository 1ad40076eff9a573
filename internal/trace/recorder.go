package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/danielpatrickdp/cognitive-trace/internal/eval"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS trace_nodes (
	trace_id        TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	exchange_id     TEXT NOT NULL,
	level           TEXT NOT NULL,
	parent_trace_id TEXT,
	payload_json    TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	processing_ms   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trace_nodes_session ON trace_nodes(session_id, created_at);
`

// #endregion schema

// #region recorder
// Recorder is the only writer of trace nodes.
type Recorder struct {
	db      *sql.DB
	weights eval.Weights
	logger  *log.Logger
}

// NewRecorder creates the trace_nodes table if missing.
func NewRecorder(db *sql.DB, weights eval.Weights) (*Recorder, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create trace_nodes: %w", err)
	}
	return &Recorder{db: db, weights: weights, logger: logging.New("TRACE")}, nil
}

// Record appends a single node and returns its new trace id. N1 must have no
// parent; every other level must name one.
func (r *Recorder) Record(ctx context.Context, sessionID, exchangeID string, level Level, payload any, parentTraceID string) (string, error) {
	if err := checkParent(level, parentTraceID); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	node := Node{
		TraceID:       uuid.New().String(),
		SessionID:     sessionID,
		ExchangeID:    exchangeID,
		Level:         level,
		ParentTraceID: parentTraceID,
		Payload:       raw,
		CreatedAt:     time.Now().UTC(),
	}
	if err := insertNode(ctx, r.db, node); err != nil {
		return "", &PersistenceError{Op: "record", ExchangeID: exchangeID, Err: err}
	}
	return node.TraceID, nil
}

// RecordBatch writes a whole exchange in one transaction.
func (r *Recorder) RecordBatch(ctx context.Context, b Batch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin", ExchangeID: b.ExchangeID, Err: err}
	}
	if err := r.RecordBatchTx(ctx, tx, b); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit", ExchangeID: b.ExchangeID, Err: err}
	}
	return nil
}

// RecordBatchTx writes the batch's nodes inside tx. Re-writing a batch is a
// no-op per node, keyed by trace id, so spool retries never duplicate.
func (r *Recorder) RecordBatchTx(ctx context.Context, tx *sql.Tx, b Batch) error {
	for _, n := range b.Nodes {
		if err := insertNode(ctx, tx, n); err != nil {
			return &PersistenceError{Op: "insert " + string(n.Level), ExchangeID: b.ExchangeID, Err: err}
		}
	}
	r.logger.Debug("exchange recorded", "session", b.SessionID, "exchange", b.ExchangeID, "nodes", len(b.Nodes))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertNode(ctx context.Context, db execer, n Node) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trace_nodes
		 (trace_id, session_id, exchange_id, level, parent_trace_id, payload_json, created_at, processing_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.TraceID, n.SessionID, n.ExchangeID, string(n.Level), nullIfEmpty(n.ParentTraceID),
		string(n.Payload), n.CreatedAt.UTC().Format(time.RFC3339Nano), n.ProcessingTimeMs,
	)
	return err
}

// Nodes returns every node of a session ordered by created_at; nodes with the
// same timestamp keep insertion order.
func (r *Recorder) Nodes(ctx context.Context, sessionID string) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT trace_id, session_id, exchange_id, level, parent_trace_id, payload_json, created_at, processing_ms
		 FROM trace_nodes WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query trace nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		var level, payload, created string
		var parent sql.NullString
		if err := rows.Scan(&n.TraceID, &n.SessionID, &n.ExchangeID, &level, &parent, &payload, &created, &n.ProcessingTimeMs); err != nil {
			return nil, fmt.Errorf("scan trace node: %w", err)
		}
		n.Level = Level(level)
		n.ParentTraceID = parent.String
		n.Payload = json.RawMessage(payload)
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse trace node %s created_at: %w", n.TraceID, err)
		}
		n.CreatedAt = ts
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RFC3339Nano trims trailing zeros, so text order is not time order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// #endregion recorder

// #region builder
// Builder assembles one exchange's chain, assigning trace ids up front so the
// batch can be retried verbatim.
type Builder struct {
	batch Batch
	err   error
}

// NewBuilder starts a batch for the exchange.
func NewBuilder(sessionID, exchangeID string) *Builder {
	return &Builder{batch: Batch{SessionID: sessionID, ExchangeID: exchangeID}}
}

// Add appends the next level. Levels must be added in N1..N4 order.
func (b *Builder) Add(level Level, payload any, at time.Time, took time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if len(b.batch.Nodes) >= len(Levels) {
		b.err = fmt.Errorf("add %s: exchange %s already complete", level, b.batch.ExchangeID)
		return b
	}
	if want := Levels[len(b.batch.Nodes)]; level != want {
		b.err = fmt.Errorf("add %s: expected %s next", level, want)
		return b
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		b.err = fmt.Errorf("marshal %s payload: %w", level, err)
		return b
	}
	parent := ""
	if n := len(b.batch.Nodes); n > 0 {
		parent = b.batch.Nodes[n-1].TraceID
	}
	b.batch.Nodes = append(b.batch.Nodes, Node{
		TraceID:          uuid.New().String(),
		SessionID:        b.batch.SessionID,
		ExchangeID:       b.batch.ExchangeID,
		Level:            level,
		ParentTraceID:    parent,
		Payload:          raw,
		CreatedAt:        at.UTC(),
		ProcessingTimeMs: took.Milliseconds(),
	})
	return b
}

// Artifacts attaches opaque per-exchange artifacts.
func (b *Builder) Artifacts(v any) *Builder {
	if b.err != nil {
		return b
	}
	raw, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("marshal artifacts: %w", err)
		return b
	}
	b.batch.Artifacts = raw
	return b
}

// Batch returns the finished batch; all four levels are required.
func (b *Builder) Batch() (Batch, error) {
	if b.err != nil {
		return Batch{}, b.err
	}
	if len(b.batch.Nodes) != len(Levels) {
		return Batch{}, fmt.Errorf("incomplete exchange %s: %d of %d levels", b.batch.ExchangeID, len(b.batch.Nodes), len(Levels))
	}
	return b.batch, nil
}

// #endregion builder

// #region helpers
var errParent = errors.New("invalid parent")

func checkParent(level Level, parent string) error {
	switch {
	case !level.Valid():
		return fmt.Errorf("unknown trace level %q", level)
	case level == LevelInput && parent != "":
		return fmt.Errorf("%w: N1 cannot have a parent", errParent)
	case level != LevelInput && parent == "":
		return fmt.Errorf("%w: %s requires a parent", errParent, level)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
