package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/cognitive-trace/internal/classifier"
	"github.com/danielpatrickdp/cognitive-trace/internal/codec"
	"github.com/danielpatrickdp/cognitive-trace/internal/config"
	"github.com/danielpatrickdp/cognitive-trace/internal/gate"
	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/orchestrator"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/signals"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// app is the wired pipeline shared by serve and submit.
type app struct {
	cfg     *config.Config
	store   *state.Store
	orch    *orchestrator.Orchestrator
	closers []io.Closer

	provider string
	breakers *invoker.Registry
	probe    func(context.Context) error
}

// healthChecker is implemented by generators that can ask their upstream
// whether it is serving.
type healthChecker interface {
	Healthy(ctx context.Context) error
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return cfg, nil
}

// wire builds every stage from cfg. The caller must Close the app.
func wire(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := state.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	recorder, err := trace.NewRecorder(store.DB(), cfg.Metrics.Weights)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("trace recorder: %w", err)
	}

	gen, err := codec.New(cfg.CodecConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}
	if c, ok := gen.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	breakers := invoker.NewRegistry(cfg.BreakerConfig(), invoker.SystemClock{}, invoker.ObserveTransition)
	inv := invoker.New(gen, breakers.For(gen.Name()), cfg.InvokerConfig(), nil)
	a.provider = inv.Provider()
	a.breakers = breakers
	if hc, ok := gen.(healthChecker); ok {
		a.probe = hc.Healthy
	}

	spool, err := buildSpool(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:      store,
		Recorder:   recorder,
		Invoker:    inv,
		Gate:       gate.NewGate(gate.DefaultPolicy()),
		Classifier: classifier.New(classifier.DefaultConfig()),
		Scorer:     risk.NewScorer(cfg.Risk.Weights, signals.NewProducer(cfg.ProducerConfig())),
		Spool:      spool,
	}, cfg.OrchestratorConfig())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func buildSpool(ctx context.Context, cfg *config.Config, a *app) (trace.Spool, error) {
	if cfg.Spool.Kind != "redis" {
		return trace.NewMemorySpool(cfg.MemorySpoolConfig()), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Spool.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Spool.RedisAddr, err)
	}
	a.closers = append(a.closers, client)
	spool, err := trace.NewRedisSpool(ctx, client, cfg.RedisSpoolConfig())
	if err != nil {
		return nil, fmt.Errorf("redis spool: %w", err)
	}
	return spool, nil
}
