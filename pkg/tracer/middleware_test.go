package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcore/pkg/types"
)

type fakeSpan struct {
	tags    map[string]any
	logs    []map[string]any
	errs    []error
	ended   bool
}

func newFakeSpan() *fakeSpan {
	return &fakeSpan{tags: map[string]any{}}
}

func (s *fakeSpan) SetTag(key string, value any)        { s.tags[key] = value }
func (s *fakeSpan) LogKV(fields map[string]any)         { s.logs = append(s.logs, fields) }
func (s *fakeSpan) SetError(err error)                  { s.errs = append(s.errs, err) }
func (s *fakeSpan) End()                                { s.ended = true }

type fakeAdapter struct {
	baggage map[string]string
	lastSpan *fakeSpan
	lastName string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{baggage: map[string]string{}}
}

func (a *fakeAdapter) StartSpan(ctx context.Context, name string, ignoreActive bool) (context.Context, Span) {
	s := newFakeSpan()
	a.lastSpan = s
	a.lastName = name
	return ctx, s
}
func (a *fakeAdapter) ActiveSpan(ctx context.Context) Span { return a.lastSpan }
func (a *fakeAdapter) SetBaggage(ctx context.Context, key, value string) context.Context {
	a.baggage[key] = value
	return ctx
}
func (a *fakeAdapter) Baggage(ctx context.Context) map[string]string { return a.baggage }
func (a *fakeAdapter) Inject(ctx context.Context, carrier Carrier)    {}
func (a *fakeAdapter) Extract(ctx context.Context, carrier Carrier) context.Context {
	return ctx
}
func (a *fakeAdapter) Close(ctx context.Context) error { return nil }

func TestMergeCallLevelOverridesWin(t *testing.T) {
	instance := map[string]string{"a": "instance", "b": "instance"}
	call := map[string]string{"b": "call", "c": "call"}

	merged := Merge(instance, call)

	assert.Equal(t, "instance", merged["a"])
	assert.Equal(t, "call", merged["b"])
	assert.Equal(t, "call", merged["c"])
}

func TestWrapHandlerAppliesTagsAndBaggage(t *testing.T) {
	adapter := newFakeAdapter()
	method := &MethodInfo{Name: "svc.Do", Args: []any{"arg0"}}
	req := types.NewRequest()
	req.Network["method"] = "GET"

	opts := Options{
		TagParas:     map[string]string{"http.method": "network:method"},
		BaggageParas: map[string]string{"tenant": "const:acme"},
	}

	called := false
	next := func(ctx context.Context, r *types.Request) (*types.Response, error) {
		called = true
		return types.NewResponse(), nil
	}

	handler := WrapHandler(adapter, method, opts, next)
	resp, err := handler(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, called)
	assert.Equal(t, "GET", adapter.lastSpan.tags["http.method"])
	assert.Equal(t, "acme", adapter.baggage["tenant"])
	assert.True(t, adapter.lastSpan.ended)
}

func TestWrapHandlerDefaultsOperationNameToMethodName(t *testing.T) {
	adapter := newFakeAdapter()
	method := &MethodInfo{Name: "svc.Do"}
	req := types.NewRequest()

	next := func(ctx context.Context, r *types.Request) (*types.Response, error) {
		return types.NewResponse(), nil
	}

	handler := WrapHandler(adapter, method, Options{}, next)
	_, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "svc.Do", adapter.lastName)
}

func TestWrapHandlerTagsErrorOnFailure(t *testing.T) {
	adapter := newFakeAdapter()
	method := &MethodInfo{Name: "svc.Do"}
	req := types.NewRequest()
	boom := errors.New("boom")

	next := func(ctx context.Context, r *types.Request) (*types.Response, error) {
		return nil, boom
	}

	handler := WrapHandler(adapter, method, Options{}, next)
	_, err := handler(context.Background(), req)

	require.Error(t, err)
	require.Len(t, adapter.lastSpan.errs, 1)
	assert.Equal(t, boom, adapter.lastSpan.errs[0])
	require.Len(t, adapter.lastSpan.logs, 1)
	assert.Equal(t, "error", adapter.lastSpan.logs[0]["event"])
	assert.True(t, adapter.lastSpan.ended)
}

func TestWrapHandlerAppliesResponseTags(t *testing.T) {
	adapter := newFakeAdapter()
	method := &MethodInfo{Name: "svc.Do"}
	req := types.NewRequest()

	opts := Options{ResponseTags: map[string]string{"status": "network:status"}}
	next := func(ctx context.Context, r *types.Request) (*types.Response, error) {
		return types.NewResponse(), nil
	}

	handler := WrapHandler(adapter, method, opts, next)
	_, err := handler(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "00000", adapter.lastSpan.tags["status"])
}
