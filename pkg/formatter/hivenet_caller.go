package formatter

import (
	"context"
	"fmt"
	"time"

	"microcore/pkg/apperror"
)

// HiveNetCallerFormatter wraps HTTPCallerFormatter, additionally filling
// the outbound message's HiveNet-std head (sysId/originSysId/infType and
// globSeqNum/sysSeqNum/infSeqNum minted via a SerialNumberProvider) and
// folding a non-2xx response without a standard head into head.errCode
// with wire status 200, per spec.md §4.8's "additionally fills the request head with
// autogenerated sequence numbers" note.
type HiveNetCallerFormatter struct {
	http       *HTTPCallerFormatter
	serial     SerialNumberProvider
	sysID      string
	moduleID   string
	serverID   string
	globalSeq  string
	sysSeq     string
	infSeq     string
	now        func() time.Time
}

// HiveNetCallerConfig configures the sequence-number id names used to
// request global/system/interface serial numbers from the provider.
type HiveNetCallerConfig struct {
	SysID               string
	ModuleID            string
	ServerID            string
	GlobalSerialNumberID string // default "globSeqNum"
	SysSerialNumberID    string // default "sysSeqNum"
	InfSerialNumberID    string // default "infSeqNum"
}

func (c HiveNetCallerConfig) withDefaults() HiveNetCallerConfig {
	if c.GlobalSerialNumberID == "" {
		c.GlobalSerialNumberID = "globSeqNum"
	}
	if c.SysSerialNumberID == "" {
		c.SysSerialNumberID = "sysSeqNum"
	}
	if c.InfSerialNumberID == "" {
		c.InfSerialNumberID = "infSeqNum"
	}
	return c
}

// NewHiveNetCallerFormatter builds the HiveNet-std Caller Formatter,
// delegating transport to an HTTPCallerFormatter and sequence-number
// minting to the given SerialNumberProvider (typically pkg/serialnumber).
func NewHiveNetCallerFormatter(http *HTTPCallerFormatter, serial SerialNumberProvider, cfg HiveNetCallerConfig) *HiveNetCallerFormatter {
	cfg = cfg.withDefaults()
	return &HiveNetCallerFormatter{
		http:      http,
		serial:    serial,
		sysID:     cfg.SysID,
		moduleID:  cfg.ModuleID,
		serverID:  cfg.ServerID,
		globalSeq: cfg.GlobalSerialNumberID,
		sysSeq:    cfg.SysSerialNumberID,
		infSeq:    cfg.InfSerialNumberID,
		now:       time.Now,
	}
}

func (f *HiveNetCallerFormatter) FormatRemoteCallRequest(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallRequest, error) {
	out, err := f.http.FormatRemoteCallRequest(ctx, instance, req, args, kwargs)
	if err != nil {
		return nil, err
	}
	out.Msg, err = f.fillHead(ctx, out.Msg)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *HiveNetCallerFormatter) Call(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error) {
	resp, err := f.http.Call(ctx, instance, req, args, kwargs)
	if err != nil {
		return nil, err
	}
	return f.formatResponse(resp, req), nil
}

func (f *HiveNetCallerFormatter) FormatLocalCallRequest(ctx context.Context, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallRequest, error) {
	out, err := f.http.FormatLocalCallRequest(ctx, instance, req, args, kwargs)
	if err != nil {
		return nil, err
	}
	out.Msg, err = f.fillHead(ctx, out.Msg)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *HiveNetCallerFormatter) FormatLocalCallResponse(ctx context.Context, resp *CallResponse, stdRequest *CallRequest, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error) {
	resp, err := f.http.FormatLocalCallResponse(ctx, resp, stdRequest, instance, req, args, kwargs)
	if err != nil {
		return nil, err
	}
	return f.formatResponse(resp, stdRequest), nil
}

func (f *HiveNetCallerFormatter) FormatLocalCallException(ctx context.Context, errCode, errMsg string, cause error, stdRequest *CallRequest, instance InstanceInfo, req *CallRequest, args []any, kwargs map[string]any) (*CallResponse, error) {
	return &CallResponse{
		Network: map[string]any{"status": 200},
		Headers: map[string]string{},
		Msg: map[string]any{
			"head": map[string]any{
				"errCode":   errCode,
				"errMsg":    errCauseOrMsg(cause, errMsg).Error(),
				"errModule": fmt.Sprintf("%s-%s", f.sysID, f.moduleID),
			},
			"body": map[string]any{},
		},
	}, nil
}

// fillHead mints and attaches sysId/originSysId/infType/sequence numbers
// onto a request message's "head" sub-object, leaving already-set fields
// untouched.
func (f *HiveNetCallerFormatter) fillHead(ctx context.Context, msg any) (any, error) {
	if msg == nil {
		return msg, nil
	}
	asMap, ok := msg.(map[string]any)
	if !ok {
		return msg, nil
	}

	head, _ := asMap["head"].(map[string]any)
	if head == nil {
		head = map[string]any{}
	}

	sysTag := f.sysID + "-" + f.moduleID
	if stringOr(head["sysId"], "") == "" {
		head["sysId"] = sysTag
	}
	if stringOr(head["originSysId"], "") == "" {
		head["originSysId"] = head["sysId"]
	}
	if stringOr(head["infType"], "") == "" {
		head["infType"] = "01"
	}

	stamp := f.now().Format("20060102")
	prefix := f.sysID + f.moduleID + f.serverID + stamp

	var err error
	if stringOr(head["globSeqNum"], "") == "" {
		head["globSeqNum"], err = f.sequence(ctx, prefix, f.globalSeq)
		if err != nil {
			return nil, err
		}
	}
	if stringOr(head["sysSeqNum"], "") == "" {
		head["sysSeqNum"], err = f.sequence(ctx, prefix, f.sysSeq)
		if err != nil {
			return nil, err
		}
	}
	if stringOr(head["infSeqNum"], "") == "" {
		infPrefix := f.sysID + f.moduleID + f.serverID + f.now().Format("20060102150405")
		head["infSeqNum"], err = f.sequence(ctx, infPrefix, f.infSeq)
		if err != nil {
			return nil, err
		}
	}

	asMap["head"] = head
	return asMap, nil
}

func (f *HiveNetCallerFormatter) sequence(ctx context.Context, prefix, id string) (string, error) {
	n, err := f.serial.NextSerial(ctx, id, 10)
	if err != nil {
		return "", err
	}
	return prefix + n, nil
}

// formatResponse normalizes a CallResponse's msg into {head, body}, filling
// head defaults and mapping a non-2xx status with no standard head into a
// transport error: the errCode the inner formatter already set (21007 or
// 31007), else 31007, per spec.md §9's envelope.
func (f *HiveNetCallerFormatter) formatResponse(resp *CallResponse, stdRequest *CallRequest) *CallResponse {
	if resp == nil {
		return nil
	}

	reqHead := map[string]any{}
	if stdRequest != nil {
		if asMap, ok := stdRequest.Msg.(map[string]any); ok {
			if h, ok := asMap["head"].(map[string]any); ok {
				reqHead = h
			}
		}
	}

	head := map[string]any{
		"prdCode":     reqHead["prdCode"],
		"tranCode":    reqHead["tranCode"],
		"originSysId": reqHead["originSysId"],
		"infType":     "02",
		"tranMode":    stringOr(reqHead["tranMode"], "ONLINE"),
		"userId":      reqHead["userId"],
		"globSeqNum":  reqHead["globSeqNum"],
		"sysSeqNum":   reqHead["sysSeqNum"],
		"infSeqNum":   reqHead["infSeqNum"],
		"errCode":     string(apperror.WireSuccess),
		"errMsg":      "Success",
	}

	status, _ := resp.Network["status"].(int)
	respMsgHead, hasStdHead := asHeadMap(resp.Msg)

	if (status < 200 || status >= 300) && !hasStdHead {
		head["errCode"] = string(apperror.WireTransportPostSend)
		if m, ok := resp.Msg.(map[string]any); ok {
			if code, ok := m["errCode"].(string); ok && code != "" {
				head["errCode"] = code
			}
		}
		head["errMsg"] = fmt.Sprintf("Http status error [%d]", status)
		resp.Network["status"] = 200
		resp.Msg = map[string]any{"body": resp.Msg}
	}

	if respMsgHead != nil {
		for k, v := range respMsgHead {
			head[k] = v
		}
	}

	body := map[string]any{}
	if asMap, ok := resp.Msg.(map[string]any); ok {
		if b, ok := asMap["body"]; ok {
			body, _ = b.(map[string]any)
		}
	}

	resp.Msg = map[string]any{"head": head, "body": body}
	return resp
}

func asHeadMap(msg any) (map[string]any, bool) {
	asMap, ok := msg.(map[string]any)
	if !ok {
		return nil, false
	}
	head, ok := asMap["head"].(map[string]any)
	return head, ok
}
