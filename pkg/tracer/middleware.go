package tracer

import (
	"context"

	"microcore/pkg/types"
)

// Handler is the request-handling function signature every service handler
// and pipeline middleware shares.
type Handler func(ctx context.Context, req *types.Request) (*types.Response, error)

// Options configures WrapHandler's tag/baggage extraction. TagParas and
// BaggageParas map a tag/baggage name to a parameter expression; instance-
// level maps are supplied first and call-level overrides win on conflict,
// mirroring the contract's "merged order" rule.
type Options struct {
	OperationName string // parameter expression for the span name; defaults to "name:"
	TagParas      map[string]string
	BaggageParas  map[string]string
	ResponseTags  map[string]string
}

// Merge layers call-level overrides on top of instance-level defaults,
// call-level entries winning on key collision.
func Merge(instance, call map[string]string) map[string]string {
	out := make(map[string]string, len(instance)+len(call))
	for k, v := range instance {
		out[k] = v
	}
	for k, v := range call {
		out[k] = v
	}
	return out
}

// WrapHandler decorates a request handler with span open/close, tag and
// baggage extraction, and error tagging, per the contract's request
// decorator: extract from inbound headers if present (else open a root
// span), apply tag/baggage extractors, run the handler, tag+log on error,
// close.
func WrapHandler(adapter Adapter, method *MethodInfo, opts Options, next Handler) Handler {
	if opts.OperationName == "" {
		opts.OperationName = "name:"
	}

	return func(ctx context.Context, req *types.Request) (*types.Response, error) {
		opName, ok := Eval(opts.OperationName, ObjRequest, method, req, nil, nil)
		name, _ := opName.(string)
		if !ok || name == "" {
			name = method.Name
		}

		spanCtx := adapter.Extract(ctx, Carrier(req.Headers))
		spanCtx, span := adapter.StartSpan(spanCtx, name, false)
		defer span.End()

		for tagName, expr := range opts.TagParas {
			if v, ok := Eval(expr, ObjRequest, method, req, nil, nil); ok {
				span.SetTag(tagName, v)
			}
		}
		for itemName, expr := range opts.BaggageParas {
			if v, ok := Eval(expr, ObjRequest, method, req, nil, nil); ok {
				spanCtx = adapter.SetBaggage(spanCtx, itemName, stringify(v))
			}
		}

		resp, err := next(spanCtx, req)

		if err != nil {
			span.SetError(err)
			span.LogKV(map[string]any{"event": "error", "error.object": err.Error()})
			return resp, err
		}

		if resp != nil {
			for tagName, expr := range opts.ResponseTags {
				if v, ok := Eval(expr, ObjResponse, nil, nil, resp, nil); ok {
					span.SetTag(tagName, v)
				}
			}
		}

		return resp, nil
	}
}
