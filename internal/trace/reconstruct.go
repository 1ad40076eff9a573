package trace

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/cognitive-trace/internal/eval"
	"github.com/danielpatrickdp/cognitive-trace/internal/gate"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
)

// #region reconstruct
// Reconstruct reads every node of the session, validates the N1→N2→N3→N4
// chain of each exchange and returns the nodes ordered by created_at. A broken
// chain yields warnings next to the partial sequence, not an error; only a
// storage failure is an error. Calling it twice on an unchanged log returns
// the same sequence.
func (r *Recorder) Reconstruct(ctx context.Context, sessionID string) (Reconstruction, error) {
	nodes, err := r.Nodes(ctx, sessionID)
	if err != nil {
		return Reconstruction{}, err
	}
	rec := Validate(nodes)
	rec.SessionID = sessionID
	if !rec.Intact() {
		r.logger.Warn("trace integrity", "session", sessionID, "warnings", len(rec.Warnings))
	}
	return rec, nil
}

// Validate groups ordered nodes into exchanges and checks each chain.
func Validate(nodes []Node) Reconstruction {
	rec := Reconstruction{
		Nodes:     nodes,
		Exchanges: []ExchangeTrace{},
		Warnings:  []IntegrityWarning{},
	}
	if rec.Nodes == nil {
		rec.Nodes = []Node{}
	}

	var order []string
	groups := make(map[string][]Node)
	for _, n := range nodes {
		if _, ok := groups[n.ExchangeID]; !ok {
			order = append(order, n.ExchangeID)
		}
		groups[n.ExchangeID] = append(groups[n.ExchangeID], n)
	}

	for _, id := range order {
		ex, warnings := checkChain(id, groups[id])
		rec.Exchanges = append(rec.Exchanges, ex)
		rec.Warnings = append(rec.Warnings, warnings...)
	}
	return rec
}

func checkChain(exchangeID string, nodes []Node) (ExchangeTrace, []IntegrityWarning) {
	var warnings []IntegrityWarning
	warn := func(n Node, lvl Level, p Problem, detail string) {
		warnings = append(warnings, IntegrityWarning{
			ExchangeID: exchangeID, TraceID: n.TraceID, Level: lvl, Problem: p, Detail: detail,
		})
	}

	byLevel := make(map[Level]Node, len(Levels))
	for _, n := range nodes {
		if !n.Level.Valid() {
			warn(n, n.Level, ProblemUnknownLevel, fmt.Sprintf("level %q", n.Level))
			continue
		}
		if _, dup := byLevel[n.Level]; dup {
			warn(n, n.Level, ProblemDuplicateLevel, "more than one node at this level")
			continue
		}
		byLevel[n.Level] = n
	}

	complete := true
	for i, lvl := range Levels {
		n, ok := byLevel[lvl]
		if !ok {
			complete = false
			warnings = append(warnings, IntegrityWarning{
				ExchangeID: exchangeID, Level: lvl, Problem: ProblemMissingLevel, Detail: "no node at this level",
			})
			continue
		}
		if i == 0 {
			if n.ParentTraceID != "" {
				complete = false
				warn(n, lvl, ProblemRootHasParent, "parent "+n.ParentTraceID)
			}
			continue
		}
		parent, ok := byLevel[Levels[i-1]]
		if !ok || n.ParentTraceID != parent.TraceID {
			complete = false
			warn(n, lvl, ProblemBrokenParent, fmt.Sprintf("parent %q is not the %s node", n.ParentTraceID, Levels[i-1]))
		}
	}

	ex := ExchangeTrace{ExchangeID: exchangeID, Nodes: nodes, Complete: complete && len(warnings) == 0}
	if root, ok := byLevel[LevelInput]; ok {
		ex.TraceID = root.TraceID
	}
	return ex, warnings
}

// #endregion reconstruct

// #region metrics
// ComputeMetrics derives the rolling indices from the last window complete
// exchanges of the session. Nothing is cached; every call re-reads the log.
func (r *Recorder) ComputeMetrics(ctx context.Context, sessionID string, window int) (eval.Snapshot, error) {
	rec, err := r.Reconstruct(ctx, sessionID)
	if err != nil {
		return eval.Snapshot{}, err
	}
	exchanges, err := MetricExchanges(rec)
	if err != nil {
		return eval.Snapshot{}, err
	}
	return eval.Compute(sessionID, exchanges, window, r.weights), nil
}

// MetricExchanges maps the complete exchanges of a reconstruction to their
// metric view. Incomplete chains are skipped.
func MetricExchanges(rec Reconstruction) ([]eval.Exchange, error) {
	out := make([]eval.Exchange, 0, len(rec.Exchanges))
	for _, ex := range rec.Exchanges {
		if !ex.Complete {
			continue
		}
		var validated ValidatedPayload
		var model ModelPayload
		var interp InterpretationPayload
		for _, n := range ex.Nodes {
			var err error
			switch n.Level {
			case LevelValidated:
				err = n.Decode(&validated)
			case LevelModel:
				err = n.Decode(&model)
			case LevelInterpretation:
				err = n.Decode(&interp)
			}
			if err != nil {
				return nil, err
			}
		}

		f := interp.Features
		e := eval.Exchange{
			State:               interp.State,
			Decision:            validated.Decision,
			AIOutput:            !model.Skipped && !model.Fallback && model.Reply != "",
			DirectAnswerRequest: f.DirectAnswerRequest,
			AcceptedWithoutEdit: f.AcceptedWithoutEdit,
			EditedAIOutput:      f.EditedAIOutput,
			Challenged:          f.Challenged,
			Justified:           f.Justified,
			ReasoningWords:      f.ReasoningWords,
			Contradictions:      len(f.Contradictions),
			Misconceptions:      len(f.Misconceptions),
		}
		for _, flag := range interp.Flags {
			if flag.Dimension == risk.DimensionEpistemic {
				e.EpistemicScore = flag.Score
			}
		}
		if validated.Decision == string(gate.ActionBlock) {
			e.AIOutput = false
		}
		out = append(out, e)
	}
	return out, nil
}

// #endregion metrics
