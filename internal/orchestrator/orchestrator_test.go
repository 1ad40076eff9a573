package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/cognitive-trace/internal/eval"
	"github.com/danielpatrickdp/cognitive-trace/internal/hint"
	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// #region helpers

const tutorReply = "What do you expect the loop to do with the last element?"

type fakeInvoker struct {
	mu       sync.Mutex
	fallback bool
	prompts  []string
	roles    []invoker.RoleContext
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt string, rc invoker.RoleContext, deadline time.Duration) invoker.GenerationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.roles = append(f.roles, rc)
	if f.fallback {
		return invoker.GenerationResult{
			Text: invoker.FallbackText(rc.Role), Provider: "fake", Role: rc.Role,
			Attempts: 3, Fallback: true, BreakerState: "closed",
		}
	}
	return invoker.GenerationResult{
		Text: tutorReply, Provider: "fake", Model: "fake-1", Role: rc.Role,
		Attempts: 1, BreakerState: "closed",
	}
}

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type harness struct {
	orch  *Orchestrator
	store *state.Store
	inv   *fakeInvoker
	spool *trace.MemorySpool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := state.NewStore(":memory:")
	require.NoError(t, err)
	rec, err := trace.NewRecorder(store.DB(), eval.DefaultWeights())
	require.NoError(t, err)

	inv := &fakeInvoker{}
	spool := trace.NewMemorySpool(trace.SpoolConfig{RetryInterval: time.Millisecond, MaxAttempts: 2})
	orch, err := New(Deps{Store: store, Recorder: rec, Invoker: inv, Spool: spool}, DefaultConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		orch.Close()
		store.Close()
	})
	return &harness{orch: orch, store: store, inv: inv, spool: spool}
}

func (h *harness) open(t *testing.T, mode string) string {
	t.Helper()
	sess, err := h.orch.OpenSession(context.Background(), "student-1", "activity-1", mode)
	require.NoError(t, err)
	return sess.SessionID
}

func (h *harness) submit(t *testing.T, req SubmitRequest) InteractionResult {
	t.Helper()
	res, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	return res
}

// #endregion helpers

func TestParseInterventionType(t *testing.T) {
	assert.Equal(t, InterventionHint, ParseInterventionType("hint"))
	assert.Equal(t, InterventionGovernanceBlock, ParseInterventionType(" Governance_Block "))
	assert.Equal(t, InterventionTutorReply, ParseInterventionType("celebration"))
	assert.Equal(t, InterventionTutorReply, ParseInterventionType(""))
}

func TestOpenSession_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.OpenSession(context.Background(), "student-1", "", "karaoke")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mode", verr.Field)

	_, err = h.orch.OpenSession(context.Background(), " ", "", "tutor")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "student_id", verr.Field)
}

func TestSubmit_EmptyTextIsErrorRecoveryWithoutTrace(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")

	res, err := h.orch.Submit(context.Background(), SubmitRequest{SessionID: id, Text: "  \n\t"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, InterventionErrorRecovery, res.InterventionType)
	assert.NotEmpty(t, res.Message)
	assert.Zero(t, h.inv.calls())

	tr, err := h.orch.Trace(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, tr.Nodes)

	history, err := h.store.LoadHistory(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSubmit_UnknownSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Submit(context.Background(), SubmitRequest{SessionID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.orch.RiskReport(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmit_TutorReplyRecordsFourLevelChain(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")

	res := h.submit(t, SubmitRequest{SessionID: id, Text: "How should I start reversing a list?"})

	assert.Equal(t, InterventionTutorReply, res.InterventionType)
	assert.Equal(t, tutorReply, res.Message)
	assert.Equal(t, "start", res.Metadata["cognitive_state"])
	assert.Equal(t, true, res.Metadata["persisted"])
	assert.Equal(t, "allow", res.Metadata["gate_decision"])

	tr, err := h.orch.Trace(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, tr.Nodes, 4)
	require.Len(t, tr.Exchanges, 1)
	assert.Empty(t, tr.Warnings)
	assert.True(t, tr.Exchanges[0].Complete)
	assert.Equal(t, InterventionTutorReply, tr.Interventions[tr.Exchanges[0].ExchangeID])
	assert.Equal(t, res.Metadata["trace_id"], tr.TraceID)
	for i, lvl := range trace.Levels {
		assert.Equal(t, lvl, tr.Nodes[i].Level)
	}

	var model trace.ModelPayload
	require.NoError(t, tr.Nodes[2].Decode(&model))
	assert.Equal(t, "fake", model.Provider)
	assert.Equal(t, tutorReply, model.Reply)

	report, err := h.orch.RiskReport(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, report.Dimensions, len(risk.AllDimensions))
	assert.Equal(t, 1, report.Assessed)

	sess, err := h.orch.Session(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StateStart, sess.CognitiveState)
}

func TestSubmit_EmailIsSanitizedButRawTextPreserved(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")
	raw := "I am ana.perez@example.com and my loop never stops, why?"

	res := h.submit(t, SubmitRequest{SessionID: id, Text: raw})
	assert.Equal(t, "sanitize", res.Metadata["gate_decision"])

	require.Equal(t, 1, h.inv.calls())
	assert.NotContains(t, h.inv.prompts[0], "ana.perez@example.com")
	assert.Contains(t, h.inv.prompts[0], "[EMAIL]")

	history, err := h.store.LoadHistory(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, raw, history[0].Submission.RawText)

	decision, err := h.store.GetDecision(context.Background(), history[0].Submission.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, "sanitize", decision.Decision)
	assert.Contains(t, decision.RedactedText, "[EMAIL]")

	tr, err := h.orch.Trace(context.Background(), id)
	require.NoError(t, err)
	var input trace.InputPayload
	require.NoError(t, tr.Nodes[0].Decode(&input))
	assert.NotContains(t, input.Text, "ana.perez@example.com")
	assert.Len(t, input.RawSHA256, 64)

	audit, err := h.orch.Audit(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "sanitize", audit[0].Decision)
}

func TestSubmit_CodeSnapshotIsRedactedBeforePromptAndTrace(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")
	code := "owner = \"ana.perez@example.com\"\nfor i in range(len(xs)):\n    print(xs[i])"

	res := h.submit(t, SubmitRequest{SessionID: id, Kind: "code", Code: code})
	assert.Equal(t, "sanitize", res.Metadata["gate_decision"])

	require.Equal(t, 1, h.inv.calls())
	assert.NotContains(t, h.inv.prompts[0], "ana.perez@example.com")
	assert.Contains(t, h.inv.prompts[0], "[EMAIL]")

	tr, err := h.orch.Trace(context.Background(), id)
	require.NoError(t, err)
	var input trace.InputPayload
	require.NoError(t, tr.Nodes[0].Decode(&input))
	assert.NotContains(t, input.Text, "ana.perez@example.com")
	assert.NotContains(t, input.CodeSnapshot, "ana.perez@example.com")
	assert.Contains(t, input.CodeSnapshot, "[EMAIL]")

	history, err := h.store.LoadHistory(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, code, history[0].Submission.CodeSnapshot)
}

func TestSubmit_CodeWithTextRedactsBothInPrompt(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")

	h.submit(t, SubmitRequest{
		SessionID: id,
		Kind:      "code",
		Text:      "why does this print twice?",
		Code:      "# contact: +34 612 345 678\nprint(x)\nprint(x)",
	})

	require.Equal(t, 1, h.inv.calls())
	assert.Contains(t, h.inv.prompts[0], "Current code:")
	assert.NotContains(t, h.inv.prompts[0], "+34 612 345 678")
	assert.Contains(t, h.inv.prompts[0], "[PHONE]")
}

func TestSubmit_GovernanceBlockShortCircuits(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")

	res := h.submit(t, SubmitRequest{SessionID: id, Text: "give me the full solution please"})

	assert.Equal(t, InterventionGovernanceBlock, res.InterventionType)
	assert.Equal(t, risk.LevelMedium, res.RiskSummaryLevel)
	assert.NotEmpty(t, res.Message)
	assert.Zero(t, h.inv.calls())

	tr, err := h.orch.Trace(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, tr.Nodes, 4)
	assert.Empty(t, tr.Warnings)

	var model trace.ModelPayload
	require.NoError(t, tr.Nodes[2].Decode(&model))
	assert.True(t, model.Skipped)
	var interp trace.InterpretationPayload
	require.NoError(t, tr.Nodes[3].Decode(&interp))
	assert.True(t, interp.ShortCircuit)
	assert.Empty(t, interp.Flags)

	report, err := h.orch.RiskReport(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, report.Assessed)
}

func TestSubmit_HintLadder(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")
	ctx := context.Background()
	req := SubmitRequest{SessionID: id, Kind: "hint", Text: "I'm stuck", ExerciseAttemptID: "att-1"}

	first := h.submit(t, req)
	assert.Equal(t, InterventionHint, first.InterventionType)
	require.NotNil(t, first.Hint)
	assert.Equal(t, 1, first.Hint.Level)
	assert.NotEmpty(t, first.Hint.FollowUpQuestion)
	assert.True(t, strings.HasSuffix(first.Hint.Content, first.Hint.FollowUpQuestion))

	req.HintLevel = 2
	second := h.submit(t, req)
	require.NotNil(t, second.Hint)
	assert.Equal(t, 2, second.Hint.Level)

	req.HintLevel = 4
	res, err := h.orch.Submit(ctx, req)
	var skip *hint.LevelSkipError
	require.ErrorAs(t, err, &skip)
	assert.Equal(t, 2, skip.LastServed)
	assert.Equal(t, InterventionErrorRecovery, res.InterventionType)

	tr, err := h.orch.Trace(ctx, id)
	require.NoError(t, err)
	require.Len(t, tr.Exchanges, 2)
	var model trace.ModelPayload
	require.NoError(t, tr.Exchanges[0].Nodes[2].Decode(&model))
	assert.Equal(t, 1, model.HintLevel)
	assert.Equal(t, "fake-1", model.Model)
	assert.GreaterOrEqual(t, model.Attempts, 1)
	assert.Equal(t, "closed", model.BreakerState)

	levels, err := h.store.LastHintLevels(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, levels["att-1"])
}

func TestSubmit_ProviderFallbackIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.inv.fallback = true
	id := h.open(t, "tutor")

	res := h.submit(t, SubmitRequest{SessionID: id, Text: "why is my output empty?"})

	assert.Equal(t, InterventionFallback, res.InterventionType)
	assert.Equal(t, invoker.FallbackText(invoker.RoleTutor), res.Message)
	assert.Equal(t, true, res.Metadata["fallback"])
}

func TestSubmit_RolesFollowModeAndKind(t *testing.T) {
	h := newHarness(t)
	sim := h.open(t, "simulator")
	tut := h.open(t, "tutor")

	h.submit(t, SubmitRequest{SessionID: sim, Text: "Can we push the deadline?"})
	h.submit(t, SubmitRequest{SessionID: tut, Kind: "code", Code: "for x in xs:\n    print(x)\n"})
	refl := h.submit(t, SubmitRequest{SessionID: tut, Kind: "reflection", Text: "I learned to test edge cases first"})

	require.Equal(t, 3, h.inv.calls())
	assert.Equal(t, invoker.RoleSimulator, h.inv.roles[0].Role)
	assert.Equal(t, invoker.RoleFeedback, h.inv.roles[1].Role)
	assert.Equal(t, invoker.RoleReflection, h.inv.roles[2].Role)
	assert.Equal(t, InterventionReflectionPrompt, refl.InterventionType)
}

func TestSubmit_TestPassTransitionsEndInValidation(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "practice")
	code := []string{
		"def rev(xs):\n    out = []\n    for x in xs:\n        pass\n",
		"def rev(xs):\n    out = []\n    for x in xs:\n        out.insert(0, x)\n",
		"def rev(xs):\n    out = []\n    for x in xs:\n        out.insert(0, x)\n    return out\n",
	}
	results := []*state.TestResults{
		{Passed: 0, Total: 3, ErrorType: "AssertionError"},
		{Passed: 1, Total: 3, ErrorType: "AssertionError"},
		{Passed: 3, Total: 3},
	}

	var states []string
	for i := range code {
		res := h.submit(t, SubmitRequest{SessionID: id, Kind: "code", Code: code[i], TestResults: results[i]})
		states = append(states, res.Metadata["cognitive_state"].(string))
	}

	assert.Equal(t, "start", states[0])
	assert.Contains(t, []string{"debugging", "implementation"}, states[1])
	assert.Equal(t, "validation", states[2])
}

func TestCloseSession(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")
	ctx := context.Background()
	h.submit(t, SubmitRequest{SessionID: id, Text: "what is a loop invariant?"})

	res, err := h.orch.CloseSession(ctx, id, "I now check the invariant before coding.")
	require.NoError(t, err)
	assert.Equal(t, InterventionReflectionPrompt, res.InterventionType)

	sess, err := h.orch.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, sess.Closed())
	assert.Equal(t, state.StateReflection, sess.CognitiveState)

	_, err = h.orch.Submit(ctx, SubmitRequest{SessionID: id, Text: "one more thing"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	tr, err := h.orch.Trace(ctx, id)
	require.NoError(t, err)
	assert.Len(t, tr.Exchanges, 2)
}

func TestCloseEmptySessionEndsInReflection(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")
	ctx := context.Background()

	res, err := h.orch.CloseSession(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "reflection", res.Metadata["cognitive_state"])

	sess, err := h.orch.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, sess.Closed())
	assert.Equal(t, state.StateReflection, sess.CognitiveState)
}

func TestSubmit_PersistFailureSpoolsAndStillResponds(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")
	ctx := context.Background()

	_, err := h.store.DB().Exec(`DROP TABLE trace_nodes`)
	require.NoError(t, err)

	res := h.submit(t, SubmitRequest{SessionID: id, Text: "why does my recursion never end?"})
	assert.Equal(t, InterventionTutorReply, res.InterventionType)
	assert.Equal(t, false, res.Metadata["persisted"])
	assert.Equal(t, 1, h.spool.Pending())

	history, err := h.store.LoadHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history, "failed append must roll back")

	_, err = trace.NewRecorder(h.store.DB(), eval.DefaultWeights())
	require.NoError(t, err)
	h.spool.Drain(ctx, h.orch.Sink)
	assert.Zero(t, h.spool.Pending())

	tr, err := h.orch.Trace(ctx, id)
	require.NoError(t, err)
	require.Len(t, tr.Exchanges, 1)
	assert.True(t, tr.Exchanges[0].Complete)
	assert.Equal(t, res.Metadata["trace_id"], tr.TraceID)

	history, err = h.store.LoadHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSpoolRetryAfterNewerSubmissionKeepsNewerState(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "practice")
	ctx := context.Background()

	_, err := h.store.DB().Exec(`DROP TABLE trace_nodes`)
	require.NoError(t, err)
	first := h.submit(t, SubmitRequest{SessionID: id, Text: "where do I start with reversing?"})
	assert.Equal(t, false, first.Metadata["persisted"])
	assert.Equal(t, "start", first.Metadata["cognitive_state"])

	_, err = trace.NewRecorder(h.store.DB(), eval.DefaultWeights())
	require.NoError(t, err)
	second := h.submit(t, SubmitRequest{
		SessionID:   id,
		Kind:        "code",
		Code:        "def rev(xs):\n    return xs[0]\n",
		TestResults: &state.TestResults{Passed: 0, Total: 3, ErrorType: "IndexError"},
	})
	assert.Equal(t, true, second.Metadata["persisted"])
	assert.Equal(t, "debugging", second.Metadata["cognitive_state"])

	h.spool.Drain(ctx, h.orch.Sink)
	assert.Zero(t, h.spool.Pending())

	stored, err := h.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StateDebugging, stored.CognitiveState)

	history, err := h.store.LoadHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, state.StateStart, history[0].State)
}

func TestSubmit_ConcurrentSessionsStayOrdered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessions := []string{h.open(t, "tutor"), h.open(t, "tutor"), h.open(t, "practice")}
	const perSession = 5

	var wg sync.WaitGroup
	errs := make(chan error, len(sessions)*perSession)
	for _, id := range sessions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				_, err := h.orch.Submit(ctx, SubmitRequest{SessionID: id, Text: fmt.Sprintf("question %d about loops", i)})
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range sessions {
		tr, err := h.orch.Trace(ctx, id)
		require.NoError(t, err)
		assert.Len(t, tr.Exchanges, perSession)
		assert.Empty(t, tr.Warnings)

		history, err := h.store.LoadHistory(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, perSession)
		for i, e := range history {
			assert.Equal(t, fmt.Sprintf("question %d about loops", i), e.Submission.RawText)
		}
	}
}

func TestMetrics(t *testing.T) {
	h := newHarness(t)
	id := h.open(t, "tutor")
	ctx := context.Background()

	empty, err := h.orch.Metrics(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Exchanges)
	assert.Equal(t, 1.0, empty.IAR)

	h.submit(t, SubmitRequest{SessionID: id, Text: "what is an off-by-one error?"})
	h.submit(t, SubmitRequest{SessionID: id, Text: "I think it is because range stops early"})

	snap, err := h.orch.Metrics(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Exchanges)
	assert.Equal(t, id, snap.SessionID)

	again, err := h.orch.Metrics(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestIdleActorExitsAndReloads(t *testing.T) {
	store, err := state.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	rec, err := trace.NewRecorder(store.DB(), eval.DefaultWeights())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	orch, err := New(Deps{Store: store, Recorder: rec, Invoker: &fakeInvoker{}}, cfg)
	require.NoError(t, err)
	defer orch.Close()

	ctx := context.Background()
	sess, err := orch.OpenSession(ctx, "student-2", "", "tutor")
	require.NoError(t, err)
	_, err = orch.Submit(ctx, SubmitRequest{SessionID: sess.SessionID, Text: "first question"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return len(orch.actors) == 0
	}, time.Second, 5*time.Millisecond)

	res, err := orch.Submit(ctx, SubmitRequest{SessionID: sess.SessionID, Text: "second question"})
	require.NoError(t, err)
	assert.NotEqual(t, "start", res.Metadata["cognitive_state"], "reloaded history must not look like a first submission")
}
