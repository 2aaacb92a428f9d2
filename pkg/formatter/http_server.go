package formatter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"microcore/pkg/apperror"
	"microcore/pkg/types"
)

// HTTPServerFormatter implements ServerFormatter over *http.Request /
// net/http response writing: the "common" JSON variant referenced by
// spec.md §4.7, with no HiveNet-std head synthesis.
type HTTPServerFormatter struct{}

// NewHTTPServerFormatter builds the common HTTP/JSON Server Formatter.
func NewHTTPServerFormatter() *HTTPServerFormatter {
	return &HTTPServerFormatter{}
}

// FormatRequest converts an *http.Request into a types.Request: headers are
// lower-cased, the query string parsed with optional value-type conversion,
// and a JSON body decoded when the content type says so.
func (f *HTTPServerFormatter) FormatRequest(ctx context.Context, raw any, valueTransMapping map[string]string) (*types.Request, error) {
	r, ok := raw.(*http.Request)
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeInvalidArgument, "raw is not an *http.Request", "raw")
	}

	req := types.NewRequest()
	req.Network["method"] = r.Method
	req.Network["host"] = r.Host
	req.Network["path"] = r.URL.Path
	req.Network["ip"] = clientIP(r)
	req.Network["query"] = ParseQuery(r.URL.RawQuery, valueTransMapping)

	for key, vals := range r.Header {
		if len(vals) > 0 {
			req.Headers[strings.ToLower(key)] = vals[0]
		}
	}

	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidArgument, "failed to read request body")
		}
		if len(body) > 0 {
			req.Msg = decodeBody(req.Headers["content-type"], body)
		}
	}

	return req, nil
}

// FormatResponse merges network/content-type defaults into a handler's
// returned Response; the common variant does no further head synthesis.
func (f *HTTPServerFormatter) FormatResponse(ctx context.Context, request *types.Request, resp *types.Response, isStdRequest bool) (*types.Response, error) {
	if resp == nil {
		resp = types.NewResponse()
	}
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	if resp.Network.Status == "" {
		resp.Network.Status = "00000"
	}
	if _, ok := resp.Headers["content-type"]; !ok {
		resp.Headers["content-type"] = "application/json"
	}
	return resp, nil
}

// FormatException builds the canonical error envelope: wire code from the
// underlying *apperror.Error if present (defaulting to WireHandlerException),
// message and type for diagnostics.
func (f *HTTPServerFormatter) FormatException(ctx context.Context, request *types.Request, err error, serviceConfig map[string]any, isStdRequest bool) (*types.Response, error) {
	resp := types.NewResponse()
	resp.Headers["content-type"] = "application/json"

	wireCode := apperror.WireHandlerException
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		wireCode = appErr.WireCodeOrDefault()
	}
	resp.Network.Status = string(wireCode)
	resp.Msg = map[string]any{
		"errCode": string(wireCode),
		"errMsg":  err.Error(),
		"errType": errorTypeName(err),
	}
	return resp, nil
}

// ToWire returns a writer function the caller invokes against an
// http.ResponseWriter; kept as `any` to satisfy ServerFormatter without
// binding this package to a specific HTTP framework's response type.
func (f *HTTPServerFormatter) ToWire(ctx context.Context, resp *types.Response) (any, error) {
	status := httpStatusFromWire(resp.Network.Status)
	body, err := json.Marshal(resp.Msg)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to marshal response body")
	}
	return WireResponse{Status: status, Headers: resp.Headers, Body: body}, nil
}

// WireResponse is the native response shape HTTPServerFormatter.ToWire
// produces; web server adapters write it onto their own response object.
type WireResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		return host[:idx]
	}
	return host
}

func decodeBody(contentType string, body []byte) any {
	if strings.HasPrefix(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func errorTypeName(err error) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return string(appErr.Code)
	}
	return "error"
}

func httpStatusFromWire(status string) int {
	if status == string(apperror.WireSuccess) || status == "" {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}
