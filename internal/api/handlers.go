package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danielpatrickdp/cognitive-trace/internal/hint"
	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/orchestrator"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region payloads

type openSessionRequest struct {
	StudentID  string `json:"student_id"`
	ActivityID string `json:"activity_id"`
	Mode       string `json:"mode"`
}

type sessionResponse struct {
	SessionID      string     `json:"session_id"`
	StudentID      string     `json:"student_id"`
	ActivityID     string     `json:"activity_id,omitempty"`
	Mode           string     `json:"mode"`
	CognitiveState string     `json:"cognitive_state"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

func toSessionResponse(s state.Session) sessionResponse {
	return sessionResponse{
		SessionID:      s.SessionID,
		StudentID:      s.StudentID,
		ActivityID:     s.ActivityID,
		Mode:           string(s.Mode),
		CognitiveState: string(s.CognitiveState),
		CreatedAt:      s.CreatedAt,
		ClosedAt:       s.ClosedAt,
	}
}

type submitRequest struct {
	Kind              string                `json:"kind"`
	Text              string                `json:"text"`
	Code              string                `json:"code"`
	TestResults       *state.TestResults    `json:"test_results"`
	ExerciseAttemptID string                `json:"exercise_attempt_id"`
	HintLevel         int                   `json:"hint_level"`
	Exercise          state.ExerciseContext `json:"exercise"`
}

type closeRequest struct {
	Reflection string `json:"reflection"`
}

type auditResponse struct {
	SubmissionID string    `json:"submission_id"`
	Decision     string    `json:"decision"`
	Indicators   []string  `json:"indicators"`
	Rationale    string    `json:"rationale"`
	RedactedText string    `json:"redacted_text,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAuditResponse(entries []logging.AuditEntry) []auditResponse {
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			SubmissionID: e.SubmissionID,
			Decision:     e.Decision,
			Indicators:   e.Indicators,
			Rationale:    e.Rationale,
			RedactedText: e.RedactedText,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

// #endregion payloads

// #region handlers

// handleHealth answers 503 only when the upstream probe fails. An open
// breaker degrades the status but fallbacks still answer students.
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":        "ok",
		"spool_pending": s.orch.Spool().Pending(),
	}
	if s.opts.Provider != "" {
		body["provider"] = s.opts.Provider
	}
	if s.opts.Breakers != nil {
		stats := s.opts.Breakers()
		for _, b := range stats {
			if b.State != invoker.BreakerClosed.String() {
				body["status"] = "degraded"
			}
		}
		body["breakers"] = stats
	}
	if s.opts.Probe != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Probe(ctx); err != nil {
			body["status"] = "unavailable"
			body["probe_error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleOpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.orch.OpenSession(c.Request.Context(), req.StudentID, req.ActivityID, req.Mode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.orch.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleCloseSession(c *gin.Context) {
	var req closeRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := s.orch.CloseSession(c.Request.Context(), c.Param("id"), req.Reflection)
	s.writeResult(c, res, err)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.orch.Submit(c.Request.Context(), req.toOrchestrator(c.Param("id")))
	s.writeResult(c, res, err)
}

// handleHint is a submission of kind hint.
func (s *Server) handleHint(c *gin.Context) {
	var req submitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	req.Kind = string(state.KindHint)
	if req.Text == "" {
		req.Text = "hint please"
	}
	res, err := s.orch.Submit(c.Request.Context(), req.toOrchestrator(c.Param("id")))
	s.writeResult(c, res, err)
}

func (s *Server) handleRiskReport(c *gin.Context) {
	report, err := s.orch.RiskReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleTrace returns the session trace, optionally narrowed to one
// intervention type with ?intervention=.
func (s *Server) handleTrace(c *gin.Context) {
	rec, err := s.orch.Trace(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if v := c.Query("intervention"); v != "" {
		rec = rec.Only(orchestrator.ParseInterventionType(v))
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleMetrics(c *gin.Context) {
	window := 0
	if w := c.Query("window"); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a non-negative integer"})
			return
		}
		window = n
	}
	snap, err := s.orch.Metrics(c.Request.Context(), c.Param("id"), window)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleAudit(c *gin.Context) {
	entries, err := s.orch.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAuditResponse(entries))
}

// #endregion handlers

// #region errors

func (r submitRequest) toOrchestrator(sessionID string) orchestrator.SubmitRequest {
	return orchestrator.SubmitRequest{
		SessionID:         sessionID,
		Kind:              r.Kind,
		Text:              r.Text,
		Code:              r.Code,
		TestResults:       r.TestResults,
		ExerciseAttemptID: r.ExerciseAttemptID,
		HintLevel:         r.HintLevel,
		Exercise:          r.Exercise,
	}
}

// writeResult sends the interaction result. Rejected submissions still carry
// an error_recovery result, which is returned alongside the error message.
func (s *Server) writeResult(c *gin.Context, res orchestrator.InteractionResult, err error) {
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("submission failed", "session", c.Param("id"), "err", err)
	}
	if res.InterventionType == "" {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "result": res})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var verr *orchestrator.ValidationError
	var skip *hint.LevelSkipError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &skip), errors.Is(err, hint.ErrInvalidLevel):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

// #endregion errors
