package caller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"microcore/pkg/apperror"
	"microcore/pkg/client"
	"microcore/pkg/formatter"
)

// rawJSONCodec lets grpc.ClientConn.Invoke carry an arbitrary any payload
// without a compiled protobuf schema, the same schema-less-message
// property the HiveNet-std HTTP/JSON formatter relies on. Registered once
// under the "json" content subtype; selected per call via
// grpc.CallContentSubtype("json").
type rawJSONCodec struct{}

func (rawJSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (rawJSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (rawJSONCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(rawJSONCodec{})
}

// GRPCCallerFormatter implements formatter.CallerFormatter over a pooled
// grpc.ClientConn per instance, reusing pkg/client's retry/backoff dial
// options. Local-call formatting has no transport, so it is delegated to
// an embedded HTTPCallerFormatter -- the defaults are identical regardless
// of which formatter serves the remote leg.
type GRPCCallerFormatter struct {
	*formatter.HTTPCallerFormatter

	retry client.ClientConfig

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCCallerFormatter builds a gRPC Caller Formatter. retry configures
// the retry/backoff behavior pkg/client.NewGRPCClient dials every
// connection with.
func NewGRPCCallerFormatter(retry client.ClientConfig) *GRPCCallerFormatter {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.RetryBackoff == 0 {
		retry.RetryBackoff = 100 * time.Millisecond
	}
	return &GRPCCallerFormatter{
		HTTPCallerFormatter: formatter.NewHTTPCallerFormatter(retry.Timeout, nil),
		retry:               retry,
		conns:               make(map[string]*grpc.ClientConn),
	}
}

// FormatRemoteCallRequest clones the instance's default network/headers
// under the caller's own overrides; the gRPC transport itself needs
// nothing URL-shaped.
func (f *GRPCCallerFormatter) FormatRemoteCallRequest(ctx context.Context, instance formatter.InstanceInfo, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallRequest, error) {
	return &formatter.CallRequest{
		Network: cloneMap(req.Network),
		Headers: mergeStringMaps(instance.Headers, req.Headers),
		Msg:     req.Msg,
	}, nil
}

// Call dials (or reuses a pooled connection to) instance.IP:Port and
// invokes instance.URI (or a req.Network["method"] override) as the full
// gRPC method name, carrying req.Msg as a raw JSON-coded payload. Dial and
// method-name failures are reported as WireTransportPreSend; failures
// from the RPC itself are WireTransportPostSend -- the same split as the
// HTTP Caller Formatter's pre/post dispatch boundary.
func (f *GRPCCallerFormatter) Call(ctx context.Context, instance formatter.InstanceInfo, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error) {
	method := instance.URI
	if m, ok := req.Network["method"].(string); ok && m != "" {
		method = m
	}
	if method == "" {
		return f.preSendException(apperror.New(apperror.CodeInvalidArgument, "grpc caller: instance uri / method is empty")), nil
	}

	conn, err := f.connFor(ctx, instance)
	if err != nil {
		return f.preSendException(err), nil
	}

	var reply any
	callErr := conn.Invoke(ctx, method, req.Msg, &reply, grpc.CallContentSubtype(rawJSONCodec{}.Name()))
	if callErr != nil {
		return &formatter.CallResponse{
			Network: map[string]any{"status": 503},
			Msg:     map[string]any{"errCode": string(apperror.WireTransportPostSend), "errMsg": callErr.Error()},
		}, nil
	}

	return &formatter.CallResponse{
		Network: map[string]any{"status": 200},
		Headers: req.Headers,
		Msg:     reply,
	}, nil
}

func (f *GRPCCallerFormatter) preSendException(err error) *formatter.CallResponse {
	return &formatter.CallResponse{
		Network: map[string]any{"status": 400},
		Msg:     map[string]any{"errCode": string(apperror.WireTransportPreSend), "errMsg": err.Error()},
	}
}

func (f *GRPCCallerFormatter) connFor(ctx context.Context, instance formatter.InstanceInfo) (*grpc.ClientConn, error) {
	target := fmt.Sprintf("%s:%d", instance.IP, instance.Port)

	f.mu.Lock()
	conn, ok := f.conns[target]
	f.mu.Unlock()
	if ok {
		return conn, nil
	}

	cfg := f.retry
	cfg.Address = target
	conn, err := client.NewGRPCClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.conns[target] = conn
	f.mu.Unlock()
	return conn, nil
}

// Close tears down every pooled connection.
func (f *GRPCCallerFormatter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for target, conn := range f.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.conns, target)
	}
	return firstErr
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
