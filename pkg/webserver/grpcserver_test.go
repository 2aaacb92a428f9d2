package webserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcore/pkg/types"
)

func TestGRPCServerAddServiceRegistersHandler(t *testing.T) {
	mgr := newTestAdapters(t, &fakeServerFormatter{}, &fakeAuditLogger{}, nil)
	p := NewPipeline(mgr, nil, nil)
	s := NewGRPCServer(GRPCConfig{AppName: "test-grpc", Host: "127.0.0.1", Port: 0}, p)

	handlerCalled := false
	err := s.AddService("/demo/ping", func(ctx context.Context, req *types.Request) (*types.Response, error) {
		handlerCalled = true
		return types.NewResponse(), nil
	}, ServiceConfig{})
	require.NoError(t, err)

	s.mu.RLock()
	wrapped, ok := s.handlers["/demo/ping"]
	s.mu.RUnlock()
	require.True(t, ok)

	result, err := wrapped(context.Background(), types.NewRequest())
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.True(t, handlerCalled)

	assert.Equal(t, "test-grpc", s.Name())
	assert.NotNil(t, s.NativeApp())
}
