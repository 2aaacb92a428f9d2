package naming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"microcore/pkg/types"
)

// Etcd is the etcd-backed reference Naming Adapter: instances are written
// as leased keys under a service/group prefix, so deregistration on
// process crash happens automatically once the lease expires.
type Etcd struct {
	client   *clientv3.Client
	prefix   string
	log      *slog.Logger
	leaseTTL int64

	mu    sync.Mutex
	leases map[instanceKey]clientv3.LeaseID

	subMu sync.Mutex
	subs  map[string]context.CancelFunc
	mirror *Memory
}

// NewEtcd creates an etcd-backed Naming Adapter. prefix namespaces every
// key this adapter writes (e.g. "/microcore/naming"). leaseTTLSeconds
// governs how long an instance survives without a heartbeat renewal.
func NewEtcd(client *clientv3.Client, prefix string, leaseTTLSeconds int64, log *slog.Logger) *Etcd {
	if log == nil {
		log = slog.Default()
	}
	return &Etcd{
		client:   client,
		prefix:   prefix,
		log:      log,
		leaseTTL: leaseTTLSeconds,
		leases:   make(map[instanceKey]clientv3.LeaseID),
		subs:     make(map[string]context.CancelFunc),
		mirror:   NewMemory(0),
	}
}

func (e *Etcd) instanceKeyPath(serviceName, groupName, ip string, port int) string {
	return fmt.Sprintf("%s/%s/%s/%s:%d", e.prefix, bucketKey(serviceName, groupName), serviceName, ip, port)
}

func (e *Etcd) prefixPath(serviceName, groupName string) string {
	return fmt.Sprintf("%s/%s/", e.prefix, bucketKey(serviceName, groupName))
}

// AddInstance registers the instance under a lease, and renews that lease
// (the heartbeat) on the configured TTL via KeepAlive.
func (e *Etcd) AddInstance(ctx context.Context, serviceName, ip string, port int, groupName string, metadata map[string]string) (bool, error) {
	grant, err := e.client.Grant(ctx, e.leaseTTL)
	if err != nil {
		return false, fmt.Errorf("naming: grant lease: %w", err)
	}

	inst := &types.Instance{
		ServiceID: serviceName,
		GroupName: groupName,
		Host:      ip,
		Port:      port,
		Weight:    1.0,
		Healthy:   true,
		Metadata:  metadata,
		UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return false, err
	}

	key := e.instanceKeyPath(serviceName, groupName, ip, port)
	if _, err := e.client.Put(ctx, key, string(data), clientv3.WithLease(grant.ID)); err != nil {
		return false, fmt.Errorf("naming: put instance: %w", err)
	}

	keepAlive, err := e.client.KeepAlive(context.Background(), grant.ID)
	if err != nil {
		return false, fmt.Errorf("naming: keepalive: %w", err)
	}
	go func() {
		for range keepAlive {
			// draining keepalive responses keeps the lease alive; nothing
			// else to do with each ack.
		}
		e.log.Warn("naming heartbeat stopped", "service", serviceName, "instance", ip)
	}()

	e.mu.Lock()
	e.leases[instanceKey{ip, port}] = grant.ID
	e.mu.Unlock()

	return true, nil
}

// RemoveInstance revokes the lease backing an instance (or every instance
// in the group, when ip/port are unset), deregistering it immediately
// rather than waiting for TTL expiry.
func (e *Etcd) RemoveInstance(ctx context.Context, serviceName, groupName, ip string, port int) (bool, error) {
	if ip == "" && port == 0 {
		_, err := e.client.Delete(ctx, e.prefixPath(serviceName, groupName), clientv3.WithPrefix())
		return err == nil, err
	}

	e.mu.Lock()
	leaseID, ok := e.leases[instanceKey{ip, port}]
	delete(e.leases, instanceKey{ip, port})
	e.mu.Unlock()

	if ok {
		if _, err := e.client.Revoke(ctx, leaseID); err != nil {
			return false, fmt.Errorf("naming: revoke lease: %w", err)
		}
		return true, nil
	}

	key := e.instanceKeyPath(serviceName, groupName, ip, port)
	_, err := e.client.Delete(ctx, key)
	return err == nil, err
}

// ListInstance reads every instance currently registered under the
// service/group prefix.
func (e *Etcd) ListInstance(ctx context.Context, serviceName, groupName string, healthyOnly bool) ([]*types.Instance, error) {
	resp, err := e.client.Get(ctx, e.prefixPath(serviceName, groupName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("naming: list instances: %w", err)
	}

	out := make([]*types.Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst types.Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			e.log.Warn("naming: skipping malformed instance record", "key", string(kv.Key), "error", err)
			continue
		}
		if healthyOnly && !inst.Healthy {
			continue
		}
		out = append(out, &inst)
	}
	return out, nil
}

// GetInstance consults the subscription mirror first (if one is running
// for this service/group), falling back to a direct registry read.
func (e *Etcd) GetInstance(ctx context.Context, serviceName, groupName string, healthyOnly bool) (*types.Instance, error) {
	if inst, err := e.mirror.GetInstance(ctx, serviceName, groupName, healthyOnly); err == nil && inst != nil {
		return inst, nil
	}

	instances, err := e.ListInstance(ctx, serviceName, groupName, healthyOnly)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, nil
	}
	return e.mirror.weightedPick(instances), nil
}

// AddSubscribe starts a background loop that refreshes the local mirror
// from the registry at the given interval, so GetInstance can be served
// from memory instead of round-tripping to etcd on every call.
func (e *Etcd) AddSubscribe(ctx context.Context, serviceName, groupName string, interval time.Duration) error {
	key := bucketKey(serviceName, groupName)
	subCtx, cancel := context.WithCancel(ctx)

	e.subMu.Lock()
	if old, ok := e.subs[key]; ok {
		old()
	}
	e.subs[key] = cancel
	e.subMu.Unlock()

	refresh := func() {
		instances, err := e.ListInstance(subCtx, serviceName, groupName, false)
		if err != nil {
			e.log.Warn("naming: subscription refresh failed", "service", serviceName, "error", err)
			return
		}
		e.mirror.mu.Lock()
		b := e.mirror.getOrCreateBucket(serviceName, groupName)
		e.mirror.mu.Unlock()
		b.mu.Lock()
		b.instances = make(map[instanceKey]*types.Instance, len(instances))
		for _, inst := range instances {
			b.instances[instanceKey{inst.Host, inst.Port}] = inst
		}
		b.mu.Unlock()
	}

	refresh()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()
	return nil
}

// RemoveSubscribe stops a subscription's refresh loop.
func (e *Etcd) RemoveSubscribe(serviceName, groupName string) error {
	key := bucketKey(serviceName, groupName)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if cancel, ok := e.subs[key]; ok {
		cancel()
		delete(e.subs, key)
	}
	return nil
}

// Close stops every subscription and closes the underlying etcd client.
func (e *Etcd) Close() error {
	e.subMu.Lock()
	for _, cancel := range e.subs {
		cancel()
	}
	e.subs = make(map[string]context.CancelFunc)
	e.subMu.Unlock()
	return e.client.Close()
}
