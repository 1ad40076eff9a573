package codec

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region constants
const (
	generateMethod = "/codec.CodecService/Generate"
	healthService  = "codec.CodecService"
)

// #endregion constants

// #region client-struct
// CodecClient talks to a self-hosted inference service over gRPC. Requests
// and replies are google.protobuf.Struct messages so no generated stubs are
// needed on this side.
type CodecClient struct {
	conn  *grpc.ClientConn
	cc    grpc.ClientConnInterface
	model string
}

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the inference gRPC server.
func NewCodecClient(addr, model string) (*CodecClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("grpc: address is required")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, cc: conn, model: model}, nil
}

// NewCodecClientWithConn creates a CodecClient over an injected connection.
// Used for testing without a real server.
func NewCodecClientWithConn(cc grpc.ClientConnInterface, model string) *CodecClient {
	return &CodecClient{cc: cc, model: model}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region generate
// Generate sends the prompt and role context to the inference service.
func (c *CodecClient) Generate(ctx context.Context, req Request) (Response, error) {
	fields := map[string]any{
		"prompt": req.Prompt,
		"system": req.System,
		"model":  c.model,
	}
	if req.MaxTokens > 0 {
		fields["max_tokens"] = float64(req.MaxTokens)
	}
	if req.Temperature >= 0 {
		fields["temperature"] = req.Temperature
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return Response{}, &ProviderError{Provider: c.Name(), Kind: KindClient, Err: err}
	}

	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, generateMethod, in, out); err != nil {
		return Response{}, wrapError(c.Name(), fmt.Errorf("generate rpc: %w", err))
	}

	reply := out.GetFields()
	text := reply["text"].GetStringValue()
	if text == "" {
		return Response{}, &ProviderError{Provider: c.Name(), Kind: KindEmpty, Err: errors.New("empty text in reply")}
	}
	model := reply["model"].GetStringValue()
	if model == "" {
		model = c.model
	}
	return Response{
		Text:         text,
		Model:        model,
		FinishReason: reply["finish_reason"].GetStringValue(),
		InputTokens:  int(reply["input_tokens"].GetNumberValue()),
		OutputTokens: int(reply["output_tokens"].GetNumberValue()),
	}, nil
}

// #endregion generate

// #region health
// Healthy reports whether the inference service answers SERVING.
func (c *CodecClient) Healthy(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.cc).Check(ctx, &healthpb.HealthCheckRequest{Service: healthService})
	if err != nil {
		return fmt.Errorf("health rpc: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("codec service not serving: %s", resp.GetStatus())
	}
	return nil
}

// #endregion health

// Name returns the provider name.
func (c *CodecClient) Name() string { return "grpc" }

// Model returns the model id forwarded to the service.
func (c *CodecClient) Model() string { return c.model }
