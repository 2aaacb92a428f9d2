package formatter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"microcore/pkg/apperror"
	"microcore/pkg/types"
)

// HiveNetServerFormatter wraps HTTPServerFormatter, additionally
// synthesizing the HiveNet-std message head (spec.md §4.7/§9's "Message
// envelope on the wire"): sysId/originSysId/infType on success responses,
// errCode/errMsg/errModule on exceptions.
type HiveNetServerFormatter struct {
	http   *HTTPServerFormatter
	sysID  string
	moduleID string
	now    func() time.Time
}

// NewHiveNetServerFormatter builds the HiveNet-std Server Formatter for the
// given system/module identity (used to fill sysId/originSysId/errModule).
func NewHiveNetServerFormatter(sysID, moduleID string) *HiveNetServerFormatter {
	return &HiveNetServerFormatter{
		http:     NewHTTPServerFormatter(),
		sysID:    sysID,
		moduleID: moduleID,
		now:      time.Now,
	}
}

func (f *HiveNetServerFormatter) FormatRequest(ctx context.Context, raw any, valueTransMapping map[string]string) (*types.Request, error) {
	return f.http.FormatRequest(ctx, raw, valueTransMapping)
}

// FormatResponse wraps the handler's returned msg as {head, body} and fills
// head defaults: infType="02" (response), errCode="00000" on success,
// echoing the request head's sequence numbers/tranMode/userId when present.
func (f *HiveNetServerFormatter) FormatResponse(ctx context.Context, request *types.Request, resp *types.Response, isStdRequest bool) (*types.Response, error) {
	resp, err := f.http.FormatResponse(ctx, request, resp, isStdRequest)
	if err != nil {
		return nil, err
	}

	reqHead := requestHead(request)
	head := map[string]any{
		"sysId":       f.sysID + "-" + f.moduleID,
		"originSysId": stringOr(reqHead["originSysId"], f.sysID+"-"+f.moduleID),
		"infType":     "02",
		"tranMode":    stringOr(reqHead["tranMode"], "ONLINE"),
		"prdCode":     reqHead["prdCode"],
		"tranCode":    reqHead["tranCode"],
		"userId":      reqHead["userId"],
		"globSeqNum":  reqHead["globSeqNum"],
		"sysSeqNum":   reqHead["sysSeqNum"],
		"infSeqNum":   reqHead["infSeqNum"],
		"errCode":     "00000",
		"errMsg":      "Success",
	}

	resp.Msg = map[string]any{
		"head": head,
		"body": resp.Msg,
	}
	return resp, nil
}

// FormatException builds the HiveNet-std error envelope: head.errCode from
// the underlying *apperror.Error (defaulting to the handler-exception wire
// code), head.errModule identifying this sysId-moduleId.
func (f *HiveNetServerFormatter) FormatException(ctx context.Context, request *types.Request, cause error, serviceConfig map[string]any, isStdRequest bool) (*types.Response, error) {
	resp := types.NewResponse()
	resp.Headers["content-type"] = "application/json"

	wireCode := apperror.WireHandlerException
	var appErr *apperror.Error
	if errors.As(cause, &appErr) {
		wireCode = appErr.WireCodeOrDefault()
	}

	resp.Msg = map[string]any{
		"head": map[string]any{
			"errCode":   string(wireCode),
			"errMsg":    cause.Error(),
			"errModule": fmt.Sprintf("%s-%s", f.sysID, f.moduleID),
		},
		"body": map[string]any{},
	}
	return resp, nil
}

func (f *HiveNetServerFormatter) ToWire(ctx context.Context, resp *types.Response) (any, error) {
	return f.http.ToWire(ctx, resp)
}

func requestHead(request *types.Request) map[string]any {
	if request == nil || request.Msg == nil {
		return map[string]any{}
	}
	asMap, ok := request.Msg.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	head, ok := asMap["head"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return head
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
