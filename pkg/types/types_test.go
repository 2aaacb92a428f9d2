package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestResponse(t *testing.T) {
	req := NewRequest()
	assert.NotNil(t, req.Network)
	assert.NotNil(t, req.Headers)

	resp := NewResponse()
	assert.Equal(t, "00000", resp.Network.Status)
	assert.NotNil(t, resp.Headers)
}

func TestServiceDescriptorDefaults(t *testing.T) {
	d := &ServiceDescriptor{ServiceID: "svc-1"}
	d.WithDefaults()
	assert.Equal(t, "DEFAULT_GROUP", d.GroupName)
	assert.Equal(t, "http_headers", d.TracerInjectFormat)

	d2 := &ServiceDescriptor{GroupName: "custom", TracerInjectFormat: "binary"}
	d2.WithDefaults()
	assert.Equal(t, "custom", d2.GroupName)
	assert.Equal(t, "binary", d2.TracerInjectFormat)
}

func TestInstanceKeyAndAddr(t *testing.T) {
	i := &Instance{ServiceID: "svc-1", Host: "10.0.0.1", Port: 8080}
	assert.Equal(t, "DEFAULT_GROUP/svc-1", i.Key())
	assert.Equal(t, "10.0.0.1:8080", i.Addr())

	i2 := &Instance{ServiceID: "svc-1", GroupName: "grp-a", Host: "10.0.0.2", Port: 9090}
	assert.Equal(t, "grp-a/svc-1", i2.Key())
}
