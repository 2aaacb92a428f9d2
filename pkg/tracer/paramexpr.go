package tracer

import (
	"encoding/json"
	"strconv"
	"strings"

	"microcore/pkg/types"
)

// MethodInfo describes one handler invocation for parameter-expression
// evaluation: its name, and its positional/keyword arguments indexed both
// by position (args:N) and by name (kwargs:K).
type MethodInfo struct {
	Name      string
	ShortName string
	Args      []any
	Kwargs    map[string]any
}

// ObjKind selects which side of a call a parameter expression evaluates
// against, matching the contract's req/resp/para/return object types.
type ObjKind int

const (
	// ObjRequest evaluates against a handler invocation's method info plus
	// its inbound types.Request (network:/head: prefixes read the request).
	ObjRequest ObjKind = iota
	// ObjResponse evaluates against a types.Response.
	ObjResponse
	// ObjParam evaluates against a plain method's MethodInfo only (no
	// network:/head: access — there is no request object).
	ObjParam
	// ObjReturn evaluates against a plain function's return value.
	ObjReturn
)

// Eval evaluates one parameter expression ("prefix:value") against the
// object selected by kind. method/request/response/ret are read according
// to kind; irrelevant arguments may be nil. Returns ok=false when the
// expression cannot be resolved (unknown prefix for this kind, missing key,
// json path miss).
func Eval(expr string, kind ObjKind, method *MethodInfo, request *types.Request, response *types.Response, ret any) (any, bool) {
	prefix, arg := splitExpr(expr)

	if prefix == "const" {
		return arg, true
	}

	switch kind {
	case ObjRequest, ObjParam:
		return evalMethod(prefix, arg, kind, method, request)
	case ObjResponse:
		return evalResponse(prefix, arg, response)
	case ObjReturn:
		return evalJSONValue(prefix, arg, ret)
	default:
		return nil, false
	}
}

func splitExpr(expr string) (prefix, arg string) {
	idx := strings.Index(expr, ":")
	if idx < 0 {
		return "const", strings.TrimSpace(expr)
	}
	if idx == 0 {
		return "const", strings.TrimSpace(expr[1:])
	}
	return strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+1:])
}

func evalMethod(prefix, arg string, kind ObjKind, method *MethodInfo, request *types.Request) (any, bool) {
	switch prefix {
	case "name":
		if method == nil {
			return nil, false
		}
		return method.Name, true
	case "short_name":
		if method == nil {
			return nil, false
		}
		return method.ShortName, true
	case "args":
		if method == nil {
			return nil, false
		}
		idx, err := strconv.Atoi(arg)
		if err != nil || idx < 0 || idx >= len(method.Args) {
			return nil, false
		}
		return method.Args[idx], true
	case "kwargs":
		if method == nil {
			return nil, false
		}
		v, ok := method.Kwargs[arg]
		return v, ok
	case "network":
		if kind != ObjRequest || request == nil {
			return nil, false
		}
		v, ok := request.Network[arg]
		return v, ok
	case "head":
		if kind != ObjRequest || request == nil {
			return nil, false
		}
		v, ok := request.Headers[strings.ToLower(arg)]
		return v, ok
	case "json":
		if kind != ObjRequest || request == nil {
			return nil, false
		}
		return evalJSONValue("json", arg, request.Msg)
	default:
		return nil, false
	}
}

func evalResponse(prefix, arg string, response *types.Response) (any, bool) {
	if response == nil {
		return nil, false
	}
	switch prefix {
	case "network":
		if arg == "status" {
			return response.Network.Status, true
		}
		return nil, false
	case "head":
		v, ok := response.Headers[strings.ToLower(arg)]
		return v, ok
	case "json":
		return evalJSONValue("json", arg, response.Msg)
	default:
		return nil, false
	}
}

// evalJSONValue evaluates a dotted JSON path (e.g. "key1.key2", optionally
// "$.key1.key2") against msg, decoding msg from JSON text first if needed.
// Supports object traversal and numeric array indices; this is a deliberate
// subset of full JSONPath, sufficient for the dotted paths the contract's
// examples use, with no array wildcards or filter expressions.
func evalJSONValue(prefix, path string, msg any) (any, bool) {
	if prefix != "json" {
		return nil, false
	}

	var node any
	switch v := msg.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &node); err != nil {
			return nil, false
		}
	case []byte:
		if err := json.Unmarshal(v, &node); err != nil {
			return nil, false
		}
	case nil:
		return nil, false
	default:
		node = v
	}

	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return node, true
	}

	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		if idx, err := strconv.Atoi(segment); err == nil {
			arr, ok := node.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			node = arr[idx]
			continue
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
