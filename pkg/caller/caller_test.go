package caller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcore/pkg/adapter"
	"microcore/pkg/formatter"
	"microcore/pkg/naming"
	"microcore/pkg/plugin"
	"microcore/pkg/types"
)

// fakeCallerFormatter is a hand-rolled formatter.CallerFormatter double
// recording every call it receives, so tests can assert on the exact
// request/response shapes the Remote Caller threads through it.
type fakeCallerFormatter struct {
	remoteCalls int
	localCalls  int
	lastReq     *formatter.CallRequest
}

func (f *fakeCallerFormatter) FormatRemoteCallRequest(ctx context.Context, instance formatter.InstanceInfo, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallRequest, error) {
	return req, nil
}

func (f *fakeCallerFormatter) Call(ctx context.Context, instance formatter.InstanceInfo, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error) {
	f.remoteCalls++
	f.lastReq = req
	return &formatter.CallResponse{Network: map[string]any{"status": 200}, Msg: "remote-ok"}, nil
}

func (f *fakeCallerFormatter) FormatLocalCallRequest(ctx context.Context, instance formatter.InstanceInfo, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallRequest, error) {
	f.localCalls++
	f.lastReq = req
	return req, nil
}

func (f *fakeCallerFormatter) FormatLocalCallResponse(ctx context.Context, resp *formatter.CallResponse, stdRequest *formatter.CallRequest, instance formatter.InstanceInfo, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error) {
	return resp, nil
}

func (f *fakeCallerFormatter) FormatLocalCallException(ctx context.Context, errCode, errMsg string, cause error, stdRequest *formatter.CallRequest, instance formatter.InstanceInfo, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error) {
	return &formatter.CallResponse{
		Network: map[string]any{"status": 500},
		Msg:     map[string]any{"errCode": errCode, "errMsg": errMsg},
	}, nil
}

func newTestManager(t *testing.T, fmtr formatter.CallerFormatter) *adapter.Manager {
	t.Helper()
	loader := plugin.NewLoader(t.TempDir())
	loader.Register("formater_caller", "fake.fake", func(cfg map[string]any) (any, error) {
		return fmtr, nil
	})
	mgr := adapter.NewManager(loader)
	_, err := mgr.Load("fake-formatter", "formater_caller", &types.PluginDescriptor{Module: "fake", Class: "fake"})
	require.NoError(t, err)
	return mgr
}

func TestCallWithSettingsLocalCallFirstSkipsNaming(t *testing.T) {
	fmtr := &fakeCallerFormatter{}
	mgr := newTestManager(t, fmtr)
	namingMirror := naming.NewMemory(0) // would fail resolution if ever queried
	c := New(mgr, namingMirror, nil)

	called := false
	c.AddLocalService("svc-a", LocalServiceConfig{
		Handler: func(ctx context.Context, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error) {
			called = true
			return &formatter.CallResponse{Network: map[string]any{"status": 200}, Msg: "local-ok"}, nil
		},
	})
	require.NoError(t, c.AddRemoteService(context.Background(), "svc-a", types.ServiceDescriptor{
		ServiceID: "svc-a", ServiceName: "svc-a", Formatter: "fake-formatter", LocalCallFirst: true,
	}))

	resp, err := c.Call(context.Background(), "svc-a", &CallRequest{Msg: map[string]any{"x": 1}})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, fmtr.localCalls)
	assert.Equal(t, 0, fmtr.remoteCalls)
	assert.Equal(t, "local-ok", resp.Msg)
}

func TestCallWithSettingsFixedConfigSkipsNaming(t *testing.T) {
	fmtr := &fakeCallerFormatter{}
	mgr := newTestManager(t, fmtr)
	c := New(mgr, nil, nil)

	require.NoError(t, c.AddRemoteService(context.Background(), "svc-b", types.ServiceDescriptor{
		ServiceID: "svc-b", Formatter: "fake-formatter", IsFixedConfig: true, IP: "10.0.0.9", Port: 9000,
		LocalCallFirst: false,
	}))

	resp, err := c.Call(context.Background(), "svc-b", &CallRequest{Msg: map[string]any{"y": 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, fmtr.remoteCalls)
	assert.Equal(t, "remote-ok", resp.Msg)
}

func TestCallWithSettingsResolvesViaNaming(t *testing.T) {
	fmtr := &fakeCallerFormatter{}
	mgr := newTestManager(t, fmtr)
	mirror := naming.NewMemory(0)
	ctx := context.Background()
	_, err := mirror.AddInstance(ctx, "svc-c", "10.0.0.5", 8080, "", map[string]string{"protocol": "http"})
	require.NoError(t, err)

	c := New(mgr, mirror, nil)
	require.NoError(t, c.AddRemoteService(ctx, "svc-c", types.ServiceDescriptor{
		ServiceID: "svc-c", ServiceName: "svc-c", Formatter: "fake-formatter", LocalCallFirst: false,
	}))

	resp, err := c.Call(ctx, "svc-c", &CallRequest{Msg: map[string]any{"z": 3}})
	require.NoError(t, err)
	assert.Equal(t, 1, fmtr.remoteCalls)
	assert.Equal(t, "remote-ok", resp.Msg)
}

func TestCallWithSettingsUnregisteredServiceFails(t *testing.T) {
	mgr := newTestManager(t, &fakeCallerFormatter{})
	c := New(mgr, naming.NewMemory(0), nil)

	_, err := c.Call(context.Background(), "does-not-exist", &CallRequest{})
	assert.Error(t, err)
}

func TestCallWithSettingsNoInstanceFromNamingFails(t *testing.T) {
	mgr := newTestManager(t, &fakeCallerFormatter{})
	mirror := naming.NewMemory(0)
	c := New(mgr, mirror, nil)
	require.NoError(t, c.AddRemoteService(context.Background(), "svc-d", types.ServiceDescriptor{
		ServiceID: "svc-d", ServiceName: "svc-d", Formatter: "fake-formatter",
	}))

	_, err := c.Call(context.Background(), "svc-d", &CallRequest{})
	assert.Error(t, err)
}

func TestLocalCallExceptionIsFormatted(t *testing.T) {
	fmtr := &fakeCallerFormatter{}
	mgr := newTestManager(t, fmtr)
	c := New(mgr, nil, nil)

	c.AddLocalService("svc-e", LocalServiceConfig{
		Handler: func(ctx context.Context, req *formatter.CallRequest, args []any, kwargs map[string]any) (*formatter.CallResponse, error) {
			return nil, assertErr("boom")
		},
	})
	require.NoError(t, c.AddRemoteService(context.Background(), "svc-e", types.ServiceDescriptor{
		ServiceID: "svc-e", Formatter: "fake-formatter", LocalCallFirst: true,
	}))

	resp, err := c.Call(context.Background(), "svc-e", &CallRequest{})
	require.NoError(t, err)
	msg := resp.Msg.(map[string]any)
	assert.Equal(t, "boom", msg["errMsg"])
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
