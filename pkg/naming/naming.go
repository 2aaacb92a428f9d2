// Package naming implements the framework's Naming Adapter contract
// (component C6): service instance registration, weighted-random
// selection, and background-refreshed subscription mirrors.
package naming

import (
	"context"
	"time"

	"microcore/pkg/types"
)

// Adapter is the Naming Adapter contract every naming backend (in-memory,
// etcd-backed, ...) implements.
type Adapter interface {
	// AddInstance registers one instance of serviceName/groupName.
	AddInstance(ctx context.Context, serviceName string, ip string, port int, groupName string, metadata map[string]string) (bool, error)

	// RemoveInstance deregisters an instance. Absent ip/port (both "" / 0)
	// removes every instance in the matching group.
	RemoveInstance(ctx context.Context, serviceName, groupName, ip string, port int) (bool, error)

	// ListInstance returns every known instance, optionally filtered to
	// healthy ones only.
	ListInstance(ctx context.Context, serviceName, groupName string, healthyOnly bool) ([]*types.Instance, error)

	// GetInstance picks one instance by weighted random among healthy
	// instances; if none are healthy and healthyOnly is false, falls back
	// to the unhealthy pool. Returns nil, nil when there is no instance at
	// all.
	GetInstance(ctx context.Context, serviceName, groupName string, healthyOnly bool) (*types.Instance, error)

	// AddSubscribe starts a background-refreshed local mirror for
	// serviceName/groupName, refreshed at the given interval.
	AddSubscribe(ctx context.Context, serviceName, groupName string, interval time.Duration) error

	// RemoveSubscribe stops the background mirror.
	RemoveSubscribe(serviceName, groupName string) error

	// Close releases any background goroutines and connections.
	Close() error
}
