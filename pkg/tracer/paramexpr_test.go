package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"microcore/pkg/types"
)

func TestEvalConst(t *testing.T) {
	v, ok := Eval("const:hello", ObjParam, nil, nil, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestEvalBareValueDefaultsToConst(t *testing.T) {
	v, ok := Eval("hello", ObjParam, nil, nil, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestEvalNameAndShortName(t *testing.T) {
	method := &MethodInfo{Name: "pkg.Type.Method", ShortName: "Method"}
	v, ok := Eval("name:", ObjRequest, method, nil, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "pkg.Type.Method", v)

	v, ok = Eval("short_name:", ObjRequest, method, nil, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "Method", v)
}

func TestEvalArgsAndKwargs(t *testing.T) {
	method := &MethodInfo{Args: []any{"first", 42}, Kwargs: map[string]any{"k": "v"}}

	v, ok := Eval("args:0", ObjParam, method, nil, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	v, ok = Eval("args:1", ObjParam, method, nil, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	v, ok = Eval("kwargs:k", ObjParam, method, nil, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = Eval("args:5", ObjParam, method, nil, nil, nil)
	assert.False(t, ok)
}

func TestEvalNetworkAndHead(t *testing.T) {
	req := types.NewRequest()
	req.Network["method"] = "GET"
	req.Headers["x-trace-id"] = "abc"

	v, ok := Eval("network:method", ObjRequest, &MethodInfo{}, req, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "GET", v)

	v, ok = Eval("head:X-Trace-Id", ObjRequest, &MethodInfo{}, req, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestEvalJSONFromRequest(t *testing.T) {
	req := types.NewRequest()
	req.Msg = map[string]any{"key1": map[string]any{"key2": "found"}}

	v, ok := Eval("json:$.key1.key2", ObjRequest, &MethodInfo{}, req, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "found", v)
}

func TestEvalJSONFromStringMsg(t *testing.T) {
	req := types.NewRequest()
	req.Msg = `{"key1":{"key2":"found"}}`

	v, ok := Eval("json:key1.key2", ObjRequest, &MethodInfo{}, req, nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "found", v)
}

func TestEvalJSONMissingPathFails(t *testing.T) {
	req := types.NewRequest()
	req.Msg = map[string]any{"key1": "x"}

	_, ok := Eval("json:$.key1.key2", ObjRequest, &MethodInfo{}, req, nil, nil)
	assert.False(t, ok)
}

func TestEvalResponseNetworkAndHead(t *testing.T) {
	resp := types.NewResponse()
	resp.Headers["x-trace-id"] = "abc"

	v, ok := Eval("network:status", ObjResponse, nil, nil, resp, nil)
	assert.True(t, ok)
	assert.Equal(t, "00000", v)

	v, ok = Eval("head:X-Trace-Id", ObjResponse, nil, nil, resp, nil)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestEvalReturnJSON(t *testing.T) {
	v, ok := Eval("json:$.a", ObjReturn, nil, nil, nil, map[string]any{"a": 1.0})
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestEvalUnknownPrefixFails(t *testing.T) {
	_, ok := Eval("bogus:x", ObjParam, &MethodInfo{}, nil, nil, nil)
	assert.False(t, ok)
}

func TestEvalNetworkNotAllowedForParam(t *testing.T) {
	_, ok := Eval("network:method", ObjParam, &MethodInfo{}, nil, nil, nil)
	assert.False(t, ok)
}
