package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/cognitive-trace/internal/eval"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TRACE_DB", "TRACE_HTTP_ADDR", "TRACE_PROVIDER", "TRACE_MODEL",
		"TRACE_LOG_LEVEL", "TRACE_LOG_FORMAT", "TRACE_GRPC_ADDR",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY",
		"REDIS_ADDR", "TRACE_RATE_PER_SEC",
	} {
		t.Setenv(k, "")
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "static", cfg.Provider.Kind)
	assert.Equal(t, 30*time.Second, cfg.Invoker.Deadline)
	assert.Equal(t, 10*time.Second, cfg.Invoker.AttemptTimeout)
	assert.Equal(t, 3, cfg.Invoker.MaxAttempts)
	assert.Equal(t, 5, cfg.Invoker.BreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.Invoker.BreakerCooldown)
	assert.Equal(t, risk.DefaultWeights(), cfg.Risk.Weights)
	assert.Equal(t, eval.DefaultWeights(), cfg.Metrics.Weights)
	assert.Equal(t, "memory", cfg.Spool.Kind)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseOverrides(t *testing.T) {
	clearEnv(t)
	data := []byte(`
server:
  addr: ":9090"
provider:
  kind: grpc
  grpc_addr: "localhost:50051"
  rate_per_sec: 2.5
invoker:
  deadline: 20s
  attempt_timeout: 5s
  max_attempts: 4
risk:
  window: 6
metrics:
  window: 10
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	ic := cfg.InvokerConfig()
	assert.Equal(t, 20*time.Second, ic.Deadline)
	assert.Equal(t, 5*time.Second, ic.AttemptTimeout)
	assert.Equal(t, 4, ic.Retry.MaxAttempts)
	assert.InDelta(t, 2.5, ic.RatePerSec, 1e-9)

	cc := cfg.CodecConfig()
	assert.Equal(t, "grpc", cc.Kind)
	assert.Equal(t, "localhost:50051", cc.GRPCAddr)

	assert.Equal(t, 6, cfg.ProducerConfig().Window)
	oc := cfg.OrchestratorConfig()
	assert.Equal(t, 10, oc.MetricsWindow)
	assert.Equal(t, 20*time.Second, oc.InvokeDeadline)
}

func TestParseValidationAggregatesErrors(t *testing.T) {
	clearEnv(t)
	data := []byte(`
provider:
  kind: openai
invoker:
  deadline: 1s
  attempt_timeout: 5s
spool:
  kind: redis
log:
  format: xml
`)
	_, err := Parse(data)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config: validation failed")
	assert.Contains(t, msg, "provider.api_key is required for openai")
	assert.Contains(t, msg, "invoker.attempt_timeout must not exceed invoker.deadline")
	assert.Contains(t, msg, "spool.redis_addr is required")
	assert.Contains(t, msg, `log.format "xml"`)
}

func TestParseRejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("provider:\n  kind: carrier-pigeon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestParseMalformedYAML(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACE_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_KEY", "ignored")
	t.Setenv("TRACE_DB", "/tmp/trace.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider.Kind)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, "/tmp/trace.db", cfg.Database.Path)
	assert.Equal(t, "redis", cfg.Spool.Kind)
	assert.Equal(t, "localhost:6379", cfg.Spool.RedisAddr)
}

func TestEnvBadRate(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACE_RATE_PER_SEC", "fast")
	_, err := Parse(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACE_RATE_PER_SEC")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "trace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: custom.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom.db", cfg.Database.Path)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestSpoolConversions(t *testing.T) {
	cfg := Default()
	mem := cfg.MemorySpoolConfig()
	assert.Equal(t, cfg.Spool.Capacity, mem.Capacity)
	assert.Equal(t, cfg.Spool.MaxAttempts, mem.MaxAttempts)

	rs := cfg.RedisSpoolConfig()
	assert.Equal(t, "cognitive_trace:spool", rs.Stream)
	assert.Equal(t, "trace-recorder", rs.Group)
	assert.NotEmpty(t, rs.Consumer)

	bc := cfg.BreakerConfig()
	assert.Equal(t, 5, bc.FailureThreshold)
}
