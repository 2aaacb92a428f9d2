// Package webserver implements the Web Server Adapter contract (C11): the
// handler pipeline shared by every concrete transport (formatter/logging ->
// tracer -> inf_check -> handler, outermost to innermost) and the Adapter
// interface a concrete transport (fiber HTTP, gRPC) implements to host it.
package webserver

import (
	"context"
	"log/slog"

	"microcore/pkg/adapter"
	"microcore/pkg/apperror"
	"microcore/pkg/audit"
	"microcore/pkg/formatter"
	"microcore/pkg/ratelimit"
	"microcore/pkg/tracer"
	"microcore/pkg/types"
)

// HandlerFunc is a registered service's request handler.
type HandlerFunc func(ctx context.Context, req *types.Request) (*types.Response, error)

// Adapter is the Web Server Adapter contract: a concrete transport that
// hosts handlers registered via AddService and can be started/stopped as a
// unit.
type Adapter interface {
	// Name returns the web server's configured app name.
	Name() string
	// NativeApp returns the underlying transport's native app/server
	// instance, for embedding into a larger process.
	NativeApp() any
	// Start begins serving; it blocks until Stop runs or the listener fails.
	// Canceling ctx does not stop a running server.
	Start(ctx context.Context) error
	// Stop gracefully shuts the server down.
	Stop(ctx context.Context) error
	// AddService registers handler at serviceURI under cfg's pipeline
	// settings.
	AddService(serviceURI string, handler HandlerFunc, cfg ServiceConfig) error
}

// ServiceConfig is one service's services.yaml fragment, as far as the
// handler pipeline cares.
type ServiceConfig struct {
	URI                string
	Formatter          string // formater_server adapter id, empty for pass-through
	InfLogging         string // inf_logging adapter id, empty to skip logging
	InfCheck           string // inf_check adapter id, empty to skip the check
	EnableTracer       bool
	TracerInjectFormat string
	KVTypeTransMapping map[string]string
	Raw                map[string]any // full service_config dict, passed through to adapters
}

// Pipeline builds the request-handling wrapper every concrete Adapter calls
// per request. It resolves the formater_server/inf_logging/inf_check
// adapters from a shared adapter.Manager, so a service's pipeline always
// reflects whatever adapters.yaml currently has loaded under those ids.
type Pipeline struct {
	adapters      *adapter.Manager
	tracerAdapter tracer.Adapter
	logger        *slog.Logger
}

// NewPipeline builds a Pipeline. tracerAdapter may be nil (tracing
// disabled); logger defaults to slog.Default() when nil.
func NewPipeline(adapters *adapter.Manager, tracerAdapter tracer.Adapter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{adapters: adapters, tracerAdapter: tracerAdapter, logger: logger}
}

// Wrap returns the full per-request pipeline for one registered service: pop
// the transport's native request, normalize it, check it, run it, normalize
// the response, and render it back to the transport's native response type.
// The returned function's raw/return values are `any` because each concrete
// transport adapter has its own native request/response shape; the
// ServerFormatter resolved for cfg.Formatter is what actually knows how to
// read/write them. When cfg.Formatter is empty, raw must already be a
// *types.Request, and the return value is a *types.Response -- there is
// nothing left to normalize.
func (p *Pipeline) Wrap(cfg ServiceConfig, handler HandlerFunc) func(ctx context.Context, raw any) (any, error) {
	serverFormatter := p.serverFormatter(cfg.Formatter)
	infLogging := p.infLogging(cfg.InfLogging)
	checker := p.checker(cfg.InfCheck)

	return func(ctx context.Context, raw any) (any, error) {
		stdRequest, isStdRequest, err := p.formatRequest(ctx, serverFormatter, raw, cfg)
		if err != nil {
			return nil, err
		}

		if cfg.EnableTracer && p.tracerAdapter != nil {
			var span tracer.Span
			ctx, span = p.tracerAdapter.StartSpan(ctx, cfg.URI, false)
			defer span.End()
		}

		p.log(ctx, infLogging, "R", cfg.URI, stdRequest)

		stdResponse, handlerErr := p.runChecked(ctx, checker, stdRequest, cfg, handler)
		if handlerErr != nil {
			return p.handleException(ctx, serverFormatter, infLogging, stdRequest, handlerErr, cfg, isStdRequest)
		}

		stdResponse, err = p.formatResponse(ctx, serverFormatter, stdRequest, stdResponse, isStdRequest)
		if err != nil {
			return p.handleException(ctx, serverFormatter, infLogging, stdRequest, err, cfg, isStdRequest)
		}

		p.log(ctx, infLogging, "B", cfg.URI, stdResponse)

		return p.toWire(ctx, serverFormatter, stdResponse)
	}
}

func (p *Pipeline) formatRequest(ctx context.Context, sf formatter.ServerFormatter, raw any, cfg ServiceConfig) (*types.Request, bool, error) {
	if sf == nil {
		req, ok := raw.(*types.Request)
		if !ok {
			return nil, false, apperror.New(apperror.CodeInvalidArgument, "webserver: no formatter configured for this service, and raw request is not *types.Request")
		}
		return req, false, nil
	}

	req, err := sf.FormatRequest(ctx, raw, cfg.KVTypeTransMapping)
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

func (p *Pipeline) runChecked(ctx context.Context, checker ratelimit.Checker, req *types.Request, cfg ServiceConfig, handler HandlerFunc) (*types.Response, error) {
	if checker != nil {
		verdict, err := checker.Check(ctx, req, cfg.Raw)
		if err != nil {
			return nil, err
		}
		if verdict != nil {
			return verdict, nil
		}
	}
	return handler(ctx, req)
}

func (p *Pipeline) formatResponse(ctx context.Context, sf formatter.ServerFormatter, req *types.Request, resp *types.Response, isStdRequest bool) (*types.Response, error) {
	if sf == nil {
		return resp, nil
	}
	return sf.FormatResponse(ctx, req, resp, isStdRequest)
}

func (p *Pipeline) handleException(ctx context.Context, sf formatter.ServerFormatter, infLogging audit.Logger, req *types.Request, handlerErr error, cfg ServiceConfig, isStdRequest bool) (any, error) {
	p.logger.Error("service handler exception", "uri", cfg.URI, "error", handlerErr)

	if sf == nil {
		return nil, handlerErr
	}

	stdResponse, err := sf.FormatException(ctx, req, handlerErr, cfg.Raw, isStdRequest)
	if err != nil {
		return nil, err
	}

	p.log(ctx, infLogging, "B", cfg.URI, stdResponse)

	return p.toWire(ctx, sf, stdResponse)
}

func (p *Pipeline) toWire(ctx context.Context, sf formatter.ServerFormatter, resp *types.Response) (any, error) {
	if sf == nil {
		return resp, nil
	}
	return sf.ToWire(ctx, resp)
}

func (p *Pipeline) log(ctx context.Context, logger audit.Logger, direction, serviceURI string, payload any) {
	if logger == nil {
		return
	}
	builder := audit.NewEntry().
		Service(serviceURI).
		Method("service:" + direction).
		Outcome(audit.OutcomeSuccess).
		Meta("payload", payload)

	if req, ok := payload.(*types.Request); ok {
		if claims := ExtractAuthClaims(req); claims != nil {
			builder = builder.User(claims.UserID, claims.Username)
		}
	}

	_ = logger.Log(ctx, builder.Build())
}

func (p *Pipeline) serverFormatter(id string) formatter.ServerFormatter {
	if p.adapters == nil {
		return nil
	}
	inst, ok := p.adapters.Get("formater_server", id)
	if !ok {
		return nil
	}
	sf, _ := inst.(formatter.ServerFormatter)
	return sf
}

func (p *Pipeline) infLogging(id string) audit.Logger {
	if p.adapters == nil {
		return nil
	}
	inst, ok := p.adapters.Get("inf_logging", id)
	if !ok {
		return nil
	}
	logger, _ := inst.(audit.Logger)
	return logger
}

func (p *Pipeline) checker(id string) ratelimit.Checker {
	if p.adapters == nil {
		return nil
	}
	inst, ok := p.adapters.Get("inf_check", id)
	if !ok {
		return nil
	}
	c, _ := inst.(ratelimit.Checker)
	return c
}
