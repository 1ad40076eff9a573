// Package api exposes the pipeline over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/orchestrator"
)

// Options configures the HTTP server.
type Options struct {
	Addr            string
	Mode            string // gin mode; empty means release
	ShutdownTimeout time.Duration

	// Provider, Breakers and Probe feed /healthz. All are optional.
	Provider string
	Breakers func() []invoker.BreakerStats
	Probe    func(context.Context) error
}

// Server wraps the gin router around an orchestrator.
type Server struct {
	orch   *orchestrator.Orchestrator
	router *gin.Engine
	opts   Options
	logger *log.Logger
}

// NewServer builds the router. It does not listen until Start.
func NewServer(orch *orchestrator.Orchestrator, opts Options) (*Server, error) {
	if orch == nil {
		return nil, errors.New("api: orchestrator is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Mode == "" {
		opts.Mode = gin.ReleaseMode
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	gin.SetMode(opts.Mode)

	s := &Server{
		orch:   orch,
		router: gin.New(),
		opts:   opts,
		logger: logging.New("API"),
	}
	s.router.Use(gin.Recovery(), s.requestLog())
	s.registerRoutes()
	return s, nil
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("api: %w", err)
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return <-errc
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	v1.POST("/sessions", s.handleOpenSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/close", s.handleCloseSession)
	v1.POST("/sessions/:id/submissions", s.handleSubmit)
	v1.POST("/sessions/:id/hints", s.handleHint)
	v1.GET("/sessions/:id/risk", s.handleRiskReport)
	v1.GET("/sessions/:id/trace", s.handleTrace)
	v1.GET("/sessions/:id/metrics", s.handleMetrics)
	v1.GET("/sessions/:id/audit", s.handleAudit)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}
