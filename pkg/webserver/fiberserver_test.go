package webserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcore/pkg/types"
)

func TestHostPortDefaultsHost(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8080", hostPort("", 8080))
	assert.Equal(t, "127.0.0.1:9000", hostPort("127.0.0.1", 9000))
}

func TestFiberServerAddServiceRegistersRoute(t *testing.T) {
	mgr := newTestAdapters(t, &fakeServerFormatter{}, &fakeAuditLogger{}, nil)
	p := NewPipeline(mgr, nil, nil)
	s := NewFiberServer(FiberConfig{AppName: "test-app", Host: "127.0.0.1", Port: 0}, p)

	err := s.AddService("/demo/ping", func(ctx context.Context, req *types.Request) (*types.Response, error) {
		return types.NewResponse(), nil
	}, ServiceConfig{})
	require.NoError(t, err)

	assert.Equal(t, "test-app", s.Name())
	assert.NotNil(t, s.NativeApp())
}
