// Package formatter implements the Server Formatter and Caller Formatter
// contracts (C9): bidirectional normalization between wire bytes and the
// framework's Standard Request/Response envelope (types.Request/types.Response).
package formatter

import (
	"context"

	"microcore/pkg/types"
)

// InstanceInfo is the resolved target of a remote or local call: protocol,
// route, and connection details a Caller Formatter needs to build a
// transport-level request.
type InstanceInfo struct {
	Protocol string            // "http", "https", "grpc"
	URI      string            // service-identifying path, may contain "<name:type>" placeholders
	Headers  map[string]string // default headers to merge into the outbound request
	Metadata map[string]string // service metadata, opaque to the formatter
	IP       string            // target host; empty for a local call
	Port     int               // target port; zero for a local call
}

// IsLocal reports whether this instance info describes a local (same
// process) call rather than a networked one.
func (i *InstanceInfo) IsLocal() bool {
	return i.IP == ""
}

// ServerFormatter converts between a hosting web server's native
// request/response objects and the framework's standard envelope.
// ToWire takes the native raw request type as `any` since each web server
// adapter (fiber, net/http, grpc) has its own request shape; implementations
// type-assert to the shape they were built for.
type ServerFormatter interface {
	// FormatRequest converts a native request object into a StandardRequest.
	// valueTransMapping maps a query parameter name to a type-conversion
	// function name ("int", "number"); unlisted parameters stay strings.
	FormatRequest(ctx context.Context, raw any, valueTransMapping map[string]string) (*types.Request, error)

	// FormatResponse converts a handler's returned Response into the
	// standard envelope, merging in defaults (status 200, content-type)
	// and, for HiveNet-std variants, synthesizing response head fields.
	FormatResponse(ctx context.Context, request *types.Request, resp *types.Response, isStdRequest bool) (*types.Response, error)

	// FormatException produces a canonical error envelope for a handler
	// that returned an error instead of a Response.
	FormatException(ctx context.Context, request *types.Request, err error, serviceConfig map[string]any, isStdRequest bool) (*types.Response, error)

	// ToWire renders a StandardResponse into the native response object
	// the hosting web server adapter understands.
	ToWire(ctx context.Context, resp *types.Response) (any, error)
}

// CallRequest is the standard request shape a Caller Formatter sends: the
// network hints (method, query), headers, and message body.
type CallRequest struct {
	Network map[string]any
	Headers map[string]string
	Msg     any
}

// CallResponse is the standard response shape a Caller Formatter returns.
type CallResponse struct {
	Network map[string]any
	Headers map[string]string
	Msg     any
}

// CallerFormatter converts between the framework's standard call shape and
// a concrete remote-call transport (HTTP, gRPC, or an in-process local
// call), executing the call itself via Call.
type CallerFormatter interface {
	// FormatRemoteCallRequest prepares the outbound request for a remote
	// call: merges default headers, runs msg through any wire-specific
	// transform (e.g. attaching HiveNet-std head fields).
	FormatRemoteCallRequest(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallRequest, error)

	// Call executes the transport-level call and returns the standard
	// response shape. Transport errors are reported via the response's
	// msg.errCode (msg.head.errCode for the HiveNet-std variant; 21007
	// pre-send, 31007 post-send), never as a Go error, so that callers of
	// Call always observe a uniform response.
	Call(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error)

	// FormatLocalCallRequest prepares a request for an in-process call,
	// filling in the local network defaults (method GET, host "local").
	FormatLocalCallRequest(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallRequest, error)

	// FormatLocalCallResponse normalizes a local handler's return value
	// into the standard response shape.
	FormatLocalCallResponse(ctx context.Context, resp *CallResponse, stdRequest *CallRequest, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error)

	// FormatLocalCallException builds the standard error response for a
	// local call that panicked or returned an error.
	FormatLocalCallException(ctx context.Context, errCode, errMsg string, cause error, stdRequest *CallRequest, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error)
}

// SerialNumberProvider is the minimal seam the HiveNet-std caller formatter
// needs from a serial-number adapter to mint globSeqNum/sysSeqNum/infSeqNum
// values, without importing pkg/serialnumber directly.
type SerialNumberProvider interface {
	NextSerial(ctx context.Context, id string, width int) (string, error)
}
