package formatter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"microcore/pkg/apperror"
)

// HTTPCallerFormatter implements CallerFormatter over net/http: the common
// variant referenced by spec.md §4.8, with no HiveNet-std head synthesis.
type HTTPCallerFormatter struct {
	client  *http.Client
	headers map[string]string
}

// NewHTTPCallerFormatter builds the common HTTP Caller Formatter. headers
// are merged into every outbound request before the per-call request's own
// headers (which win on conflict).
func NewHTTPCallerFormatter(timeout time.Duration, headers map[string]string) *HTTPCallerFormatter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCallerFormatter{
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

func (f *HTTPCallerFormatter) FormatRemoteCallRequest(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallRequest, error) {
	out := &CallRequest{
		Network: cloneAnyMap(req.Network),
		Headers: mergeHeaders(f.headers, req.Headers),
		Msg:     req.Msg,
	}
	return out, nil
}

// Call builds the outbound request and executes it. Any failure before the
// request is actually dispatched is reported as wire code 21007
// (pre-send); any failure after dispatch (including non-2xx handling by the
// caller) is reported as 31007 (post-send) — never as a Go error, so every
// call produces a uniform CallResponse.
func (f *HTTPCallerFormatter) Call(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error) {
	url, err := f.buildURL(instance, req, args, kwargs)
	if err != nil {
		return f.onException(apperror.WireTransportPreSend, err, url), nil
	}

	body, err := f.buildBody(req)
	if err != nil {
		return f.onException(apperror.WireTransportPreSend, err, url), nil
	}

	method := networkString(req.Network, "method", "GET")
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return f.onException(apperror.WireTransportPreSend, err, url), nil
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return f.onException(apperror.WireTransportPostSend, err, url), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.onException(apperror.WireTransportPostSend, err, url), nil
	}

	headers := map[string]string{}
	for k, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(k)] = vals[0]
		}
	}

	var msg any = respBody
	if len(respBody) > 0 && strings.HasPrefix(headers["content-type"], "application/json") {
		var decoded any
		if json.Unmarshal(respBody, &decoded) == nil {
			msg = decoded
		}
	} else if len(respBody) == 0 {
		msg = nil
	}

	// A non-2xx response -- whether a transport-level failure or a remote
	// handler exception -- is indistinguishable once bytes came back, so it
	// surfaces uniformly as a post-send failure (31007), the remote-path
	// counterpart to callLocal's pre-send (21007) handler-exception code.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &CallResponse{
			Network: map[string]any{"status": resp.StatusCode},
			Headers: headers,
			Msg: map[string]any{
				"errCode": string(apperror.WireTransportPostSend),
				"errMsg":  fmt.Sprintf("remote returned status %d", resp.StatusCode),
				"errType": "HTTPStatusError",
				"url":     url,
				"body":    msg,
			},
		}, nil
	}

	return &CallResponse{
		Network: map[string]any{"status": resp.StatusCode},
		Headers: headers,
		Msg:     msg,
	}, nil
}

func (f *HTTPCallerFormatter) FormatLocalCallRequest(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallRequest, error) {
	uri := FormatURI(instance.URI, args, nil)

	network := map[string]any{
		"method": "GET",
		"host":   "local",
		"path":   uri,
		"ip":     "127.0.0.1",
		"port":   0,
	}
	for k, v := range req.Network {
		network[k] = v
	}

	headers := mergeHeaders(f.headers, req.Headers)

	return &CallRequest{Network: network, Headers: headers, Msg: req.Msg}, nil
}

func (f *HTTPCallerFormatter) FormatLocalCallResponse(ctx context.Context, resp *CallResponse, stdRequest *CallRequest, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error) {
	if resp.Network == nil {
		resp.Network = map[string]any{}
	}
	if _, ok := resp.Network["status"]; !ok {
		resp.Network["status"] = 200
	}
	return resp, nil
}

func (f *HTTPCallerFormatter) FormatLocalCallException(ctx context.Context, errCode, errMsg string, cause error, stdRequest *CallRequest, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error) {
	return f.onException(apperror.WireCode(errCode), errCauseOrMsg(cause, errMsg), instance.URI), nil
}

func (f *HTTPCallerFormatter) buildURL(instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (string, error) {
	protocol := instance.Protocol
	if protocol == "" {
		protocol = "http"
	}

	query := map[string]any{}
	for k, v := range kwargs {
		query[k] = v
	}
	uri := FormatURI(instance.URI, args, query)

	host := instance.IP
	if instance.Port != 0 {
		host = fmt.Sprintf("%s:%d", instance.IP, instance.Port)
	}
	return fmt.Sprintf("%s://%s/%s", protocol, host, strings.TrimPrefix(uri, "/")), nil
}

func (f *HTTPCallerFormatter) buildBody(req *CallRequest) ([]byte, error) {
	if req.Msg == nil {
		return nil, nil
	}
	switch v := req.Msg.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

func (f *HTTPCallerFormatter) onException(wireCode apperror.WireCode, cause error, url string) *CallResponse {
	return &CallResponse{
		Network: map[string]any{"status": 500},
		Headers: map[string]string{},
		Msg: map[string]any{
			"errCode": string(wireCode),
			"errMsg":  cause.Error(),
			"errType": fmt.Sprintf("%T", cause),
			"url":     url,
		},
	}
}

func networkString(network map[string]any, key, fallback string) string {
	if v, ok := network[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func mergeHeaders(instance, call map[string]string) map[string]string {
	out := make(map[string]string, len(instance)+len(call))
	for k, v := range instance {
		out[k] = v
	}
	for k, v := range call {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func errCauseOrMsg(cause error, msg string) error {
	if msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return cause
}
