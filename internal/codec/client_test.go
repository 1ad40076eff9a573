package codec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region mock
type mockConn struct {
	method string
	sent   *structpb.Struct

	reply  map[string]any
	health healthpb.HealthCheckResponse_ServingStatus
	err    error
}

func (m *mockConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	m.method = method
	if m.err != nil {
		return m.err
	}
	switch out := reply.(type) {
	case *structpb.Struct:
		m.sent = args.(*structpb.Struct)
		s, err := structpb.NewStruct(m.reply)
		if err != nil {
			return err
		}
		out.Fields = s.Fields
	case *healthpb.HealthCheckResponse:
		out.Status = m.health
	default:
		return fmt.Errorf("unexpected reply type %T", reply)
	}
	return nil
}

func (m *mockConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams not supported")
}

// #endregion mock

// #region constructor-tests
func TestNewCodecClientRequiresAddr(t *testing.T) {
	_, err := NewCodecClient("", "m")
	require.Error(t, err)
}

func TestNewCodecClientLazyDial(t *testing.T) {
	client, err := NewCodecClient("localhost:0", "tutor-7b")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "grpc", client.Name())
	assert.Equal(t, "tutor-7b", client.Model())
}

func TestNewSelectsProvider(t *testing.T) {
	g, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "static", g.Name())

	_, err = New(Config{Kind: "openai"})
	require.Error(t, err, "openai without key or base URL must fail")

	_, err = New(Config{Kind: "anthropic"})
	require.Error(t, err)

	g, err = New(Config{Kind: "openai", APIKey: "sk-test", Model: "gpt-test"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", g.Model())

	g, err = New(Config{Kind: "anthropic", APIKey: "sk-ant"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", g.Name())

	_, err = New(Config{Kind: "carrier-pigeon"})
	require.Error(t, err)
}

// #endregion constructor-tests

// #region generate-tests
func TestGenerate_Success(t *testing.T) {
	conn := &mockConn{reply: map[string]any{
		"text":          "What does your loop do on the last element?",
		"finish_reason": "stop",
		"output_tokens": 12,
	}}
	c := NewCodecClientWithConn(conn, "tutor-7b")

	resp, err := c.Generate(context.Background(), Request{System: "be socratic", Prompt: "my loop stops early", MaxTokens: 64, Temperature: 0.2})

	require.NoError(t, err)
	assert.Equal(t, generateMethod, conn.method)
	assert.Equal(t, "What does your loop do on the last element?", resp.Text)
	assert.Equal(t, "tutor-7b", resp.Model)
	assert.Equal(t, 12, resp.OutputTokens)
	assert.Equal(t, "my loop stops early", conn.sent.Fields["prompt"].GetStringValue())
	assert.Equal(t, "be socratic", conn.sent.Fields["system"].GetStringValue())
	assert.Equal(t, float64(64), conn.sent.Fields["max_tokens"].GetNumberValue())
}

func TestGenerate_RPCErrorIsClassified(t *testing.T) {
	conn := &mockConn{err: status.Error(codes.Unavailable, "connection refused")}
	c := NewCodecClientWithConn(conn, "m")

	_, err := c.Generate(context.Background(), Request{Prompt: "hi", Temperature: -1})

	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindConnection, pe.Kind)
	assert.True(t, IsTransient(err))
}

func TestGenerate_EmptyTextIsTransient(t *testing.T) {
	c := NewCodecClientWithConn(&mockConn{reply: map[string]any{"text": ""}}, "m")

	_, err := c.Generate(context.Background(), Request{Prompt: "hi"})

	require.Error(t, err)
	assert.Equal(t, KindEmpty, Classify(err))
}

func TestHealthy(t *testing.T) {
	c := NewCodecClientWithConn(&mockConn{health: healthpb.HealthCheckResponse_SERVING}, "m")
	require.NoError(t, c.Healthy(context.Background()))

	c = NewCodecClientWithConn(&mockConn{health: healthpb.HealthCheckResponse_NOT_SERVING}, "m")
	require.Error(t, c.Healthy(context.Background()))
}

func TestStaticGenerator(t *testing.T) {
	g := NewStaticGenerator()
	resp, err := g.Generate(context.Background(), Request{Prompt: "why is my index out of range?\nmore"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "why is my index out of range?")
	assert.NotContains(t, resp.Text, "more")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, Request{Prompt: "x"})
	assert.Equal(t, KindCanceled, Classify(err))
}

// #endregion generate-tests

// #region classify-tests
func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      ErrorKind
		transient bool
	}{
		{"nil", nil, KindNone, false},
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout, true},
		{"canceled", context.Canceled, KindCanceled, false},
		{"openai 429", &openai.Error{StatusCode: 429}, KindRateLimited, true},
		{"openai 503", &openai.Error{StatusCode: 503}, KindServer, true},
		{"openai 400", &openai.Error{StatusCode: 400}, KindClient, false},
		{"anthropic 529", &anthropic.Error{StatusCode: 529}, KindServer, true},
		{"anthropic 401", &anthropic.Error{StatusCode: 401}, KindClient, false},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), KindTimeout, true},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), KindRateLimited, true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), KindClient, false},
		{"plain network", errors.New("dial tcp: connection reset"), KindConnection, true},
		{"provider error", &ProviderError{Provider: "x", Kind: KindClient, Err: errors.New("no")}, KindClient, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.Equal(t, tt.transient, Classify(tt.err).Transient())
		})
	}
}

// #endregion classify-tests
