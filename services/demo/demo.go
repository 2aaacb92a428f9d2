// Package demo hosts the sample service exercised by the framework's own
// correctness scenarios: a no-arg call, a positional-args call, and a
// handler that always errors, covering the local/remote call path and the
// exception wire-code contract end to end.
package demo

import (
	"context"

	"microcore/pkg/apperror"
	"microcore/pkg/types"
	"microcore/pkg/webserver"
)

// Handlers returns the handler.class -> implementation table a
// starter.Options.ServiceHandlers map wires into services.yaml entries
// naming "main_func_no_para", "main_func_with_args" and
// "main_func_with_exception".
func Handlers() map[string]webserver.HandlerFunc {
	return map[string]webserver.HandlerFunc{
		"main_func_no_para":       MainFuncNoPara,
		"main_func_with_args":     MainFuncWithArgs,
		"main_func_with_exception": MainFuncWithException,
	}
}

// MainFuncNoPara ignores its request body and returns a fixed body,
// regardless of whether it's reached through the web server or a local
// call.
func MainFuncNoPara(ctx context.Context, req *types.Request) (*types.Response, error) {
	resp := types.NewResponse()
	resp.Msg = map[string]any{
		"code": "00000",
		"fun":  "main_func_no_para",
	}
	return resp, nil
}

// MainFuncWithArgs echoes back the positional args a caller passed it.
// asLocalHandler (pkg/starter) stashes them on req.Network["args"] when
// the call arrives through the Remote Caller's local-service path; a
// direct web-server call leaves them absent, in which case an empty list
// is echoed.
func MainFuncWithArgs(ctx context.Context, req *types.Request) (*types.Response, error) {
	args, _ := req.Network["args"].([]any)
	if args == nil {
		args = []any{}
	}

	resp := types.NewResponse()
	resp.Msg = map[string]any{
		"code": "00000",
		"fun":  "main_func_with_args",
		"args": args,
	}
	return resp, nil
}

// MainFuncWithException always fails. A local caller observes the
// pre-send wire code (apperror.WireTransportPreSend, 21007), since the
// exception never reached a wire; a remote caller observes the post-send
// code (apperror.WireTransportPostSend, 31007) once the server's own
// 21599 response actually crossed the wire -- see DESIGN.md's
// "Handler-exception wire code, local vs. remote" entry.
func MainFuncWithException(ctx context.Context, req *types.Request) (*types.Response, error) {
	return nil, apperror.New(apperror.CodeHandlerException, "main_func_with_exception always fails")
}
